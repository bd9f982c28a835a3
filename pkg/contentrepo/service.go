package contentrepo

import (
	"context"
	"io"

	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// Service defines the main interface of the content repository
type Service interface {
	// Types returns the content type manager
	Types() *schema.Manager

	// Content read operations
	Load(ctx context.Context, id int) (*Content, error)
	LoadByPath(ctx context.Context, path string) (*Content, error)
	Children(ctx context.Context, path string, query Query) (*QueryResult, error)
	Ancestors(ctx context.Context, id int) ([]*Content, error)

	// New prepares an unsaved content with default values below parentPath.
	New(ctx context.Context, parentPath, typeName, name string) (*Content, error)
	// Save persists a content prepared by New or loaded by Load.
	Save(ctx context.Context, content *Content) error

	// Client facing write operations; read-only fields are rejected
	Create(ctx context.Context, req CreateRequest) (*Content, error)
	Update(ctx context.Context, req UpdateRequest) (*Content, error)
	Delete(ctx context.Context, id int) error
	Move(ctx context.Context, id int, targetPath string) (*Content, error)
	Copy(ctx context.Context, id int, targetPath string) (*Content, error)
	Rate(ctx context.Context, id int, field string, stars int) (*Content, error)

	// Binary operations
	StoreBlob(ctx context.Context, fileName, contentType string, reader io.Reader) (*schema.BinaryData, error)
	SaveBinary(ctx context.Context, req SaveBinaryRequest) (*Content, error)
	OpenBinary(ctx context.Context, id int, field string) (io.ReadCloser, *schema.BinaryData, error)
	GetDownloadURL(ctx context.Context, id int, field string) (string, error)

	// Storage backend operations
	RegisterBackend(name string, backend BlobStore)
	GetBackend(name string) (BlobStore, error)
}
