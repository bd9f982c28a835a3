package contentrepo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// Error types
var (
	// ErrContentNotFound indicates a content was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrContentAlreadyExists indicates a sibling with the same name exists
	ErrContentAlreadyExists = errors.New("content already exists")

	// ErrInvalidName indicates an empty name or one with forbidden characters
	ErrInvalidName = errors.New("invalid content name")

	// ErrTypeNotAllowed indicates the parent does not accept the child type
	ErrTypeNotAllowed = errors.New("content type not allowed here")

	// ErrContentTypeNotFound indicates an unknown content type
	ErrContentTypeNotFound = schema.ErrContentTypeNotFound

	// ErrFieldNotFound indicates a field the content type does not define
	ErrFieldNotFound = errors.New("field not found")

	// ErrInvalidValue indicates a field value that cannot be converted
	ErrInvalidValue = schema.ErrInvalidValue

	// ErrBinaryNotFound indicates an empty or missing binary field
	ErrBinaryNotFound = errors.New("binary not found")

	// ErrBlobNotFound indicates a blob missing from its store
	ErrBlobNotFound = errors.New("blob not found")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidOperation indicates a structurally impossible request, such as
	// moving content below itself or deleting the root
	ErrInvalidOperation = errors.New("invalid operation")
)

// ContentError represents an error related to content operations
type ContentError struct {
	ID   int
	Path string
	Op   string
	Err  error
}

func (e *ContentError) Error() string {
	target := e.Path
	if target == "" {
		target = fmt.Sprintf("#%d", e.ID)
	}
	return fmt.Sprintf("content operation %s failed for %s: %v", e.Op, target, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError collects the invalid fields of a content, keyed by field name
type ValidationError struct {
	Results map[string]*schema.ValidationResult
}

// Fields returns the names of the invalid fields in sorted order.
func (e *ValidationError) Fields() []string {
	names := make([]string, 0, len(e.Results))
	for name := range e.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Results))
	for _, name := range e.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Results[name].Error()))
	}
	return "invalid content: " + strings.Join(parts, "; ")
}
