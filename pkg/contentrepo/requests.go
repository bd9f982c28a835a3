package contentrepo

import "io"

// CreateRequest contains parameters for creating content from client values
type CreateRequest struct {
	ParentPath string
	TypeName   string
	Name       string
	// Values are decoded JSON field values keyed by field name
	Values map[string]any
}

// UpdateRequest contains parameters for updating content from client values
type UpdateRequest struct {
	ID     int
	Values map[string]any
	// Reset sets writable fields missing from Values back to their defaults
	Reset bool
}

// SaveBinaryRequest contains parameters for storing binary field data
type SaveBinaryRequest struct {
	ID          int
	Field       string
	FileName    string
	ContentType string
	Reader      io.Reader
}
