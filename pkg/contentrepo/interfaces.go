package contentrepo

import (
	"context"
	"io"
)

// BlobStore defines the interface for binary storage backends
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// GetDownloadURL returns a URL for downloading content
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Repository defines the interface for node persistence
type Repository interface {
	// CreateNode stores a new node. A zero ID is assigned by the repository;
	// a preset ID is kept.
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id int) (*Node, error)
	GetNodeByPath(ctx context.Context, path string) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error

	// DeleteNode removes the node and its whole subtree and returns the
	// removed nodes, the node itself first.
	DeleteNode(ctx context.Context, id int) ([]*Node, error)

	// MoveNode re-parents and/or renames a node and rewrites the paths of
	// its descendants.
	MoveNode(ctx context.Context, id, newParentID int, newName string) (*Node, error)

	ListNodes(ctx context.Context, query NodeQuery) ([]*Node, error)
	NameExists(ctx context.Context, parentID int, name string) (bool, error)
}

// EventSink defines the interface for event handling
type EventSink interface {
	// ContentCreated is fired when content is created
	ContentCreated(ctx context.Context, node *Node) error

	// ContentUpdated is fired when content is updated
	ContentUpdated(ctx context.Context, node *Node) error

	// ContentDeleted is fired when content and its subtree is deleted
	ContentDeleted(ctx context.Context, node *Node) error

	// ContentMoved is fired when content is moved or renamed
	ContentMoved(ctx context.Context, node *Node, oldPath string) error
}
