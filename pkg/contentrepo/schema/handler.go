package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	// ErrInvalidDefinition indicates a malformed content type definition
	ErrInvalidDefinition = errors.New("invalid content type definition")

	// ErrUnknownFieldType indicates a field type with no registered handler
	ErrUnknownFieldType = errors.New("unknown field type")

	// ErrInvalidValue indicates a value that cannot be converted for a field
	ErrInvalidValue = errors.New("invalid field value")

	// ErrContentTypeNotFound indicates an unknown content type name
	ErrContentTypeNotFound = errors.New("content type not found")
)

// Handler implements one field type: configuration parsing, conversions
// between representations and validation.
type Handler interface {
	// TypeName is the name used in content type definitions (e.g. "ShortText").
	TypeName() string

	// ParseConfig layers the <Configuration> element onto base (the inherited
	// configuration, nil for new fields).
	ParseConfig(base any, el *Element) (any, error)

	// ParseText parses a value from plain text (default values, simple imports).
	ParseText(fs *FieldSetting, text string) (any, error)

	// ImportXML parses the value of a field element in a content import file.
	ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error)

	// ExportXML renders the value into the field element of an export file.
	ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error

	// ToSlot converts a field value to its storage slot value.
	ToSlot(fs *FieldSetting, value any) (any, error)

	// FromSlot converts a storage slot value to a field value.
	FromSlot(fs *FieldSetting, slot any) (any, error)

	// FromJSON converts a decoded JSON value (OData request body) to a field value.
	FromJSON(fs *FieldSetting, raw any) (any, error)

	// ToJSON converts a field value to its OData JSON representation.
	ToJSON(fs *FieldSetting, value any) any

	// Validate checks a field value against the setting.
	Validate(fs *FieldSetting, value any) *ValidationResult

	// Comparable returns the scalar used for filtering and sorting.
	Comparable(fs *FieldSetting, value any) any

	// EdmType is the type name used in service metadata.
	EdmType(fs *FieldSetting) string
}

// ImportContext gives field handlers access to the surroundings of an import.
type ImportContext interface {
	Context() context.Context
	// ResolvePath returns the node ID of the content at path.
	ResolvePath(path string) (int, error)
	// OpenAttachment opens a file referenced by a field element.
	OpenAttachment(name string) (io.ReadCloser, error)
	// StoreBinary persists binary data and returns its descriptor.
	StoreBinary(fileName, contentType string, r io.Reader) (*BinaryData, error)
}

// ExportContext gives field handlers access to the surroundings of an export.
type ExportContext interface {
	Context() context.Context
	// PathOf returns the path of the node with the given ID.
	PathOf(id int) (string, error)
	// WriteAttachment stores binary data next to the export file and returns
	// the attachment name to reference.
	WriteAttachment(fs *FieldSetting, data *BinaryData) (string, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Handler{}
)

// RegisterHandler makes a field type available to content type definitions.
// Registering a name twice replaces the earlier handler.
func RegisterHandler(h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[h.TypeName()] = h
}

// LookupHandler returns the handler registered for a field type.
func LookupHandler(typeName string) (Handler, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[typeName]
	return h, ok
}

// HandlerNames lists registered field type names in sorted order.
func HandlerNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	for _, h := range []Handler{
		shortTextHandler{},
		longTextHandler{},
		passwordHandler{},
		integerHandler{},
		numberHandler{name: "Number"},
		numberHandler{name: "Currency"},
		booleanHandler{},
		choiceHandler{},
		dateTimeHandler{},
		referenceHandler{},
		binaryHandler{},
		hyperLinkHandler{},
		colorHandler{},
		ratingHandler{},
		versionHandler{},
	} {
		RegisterHandler(h)
	}
}

// baseHandler provides the string EDM type and identity comparison shared
// by most field types.
type baseHandler struct{}

func (baseHandler) EdmType(fs *FieldSetting) string { return "Edm.String" }

func (baseHandler) Comparable(fs *FieldSetting, value any) any { return value }

func invalidValue(fs *FieldSetting, value any) error {
	return fmt.Errorf("%w: %T for %s field %s", ErrInvalidValue, value, fs.Type, fs.Name)
}
