package contentrepo

import (
	"fmt"

	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// Content is a Node seen through its content type.
type Content struct {
	Node *Node
	Type *schema.ContentType

	// invalid holds values rejected by SetValue; they were not stored
	invalid map[string]*schema.ValidationResult
}

// NewContent wraps a node with its content type.
func NewContent(node *Node, ct *schema.ContentType) *Content {
	return &Content{Node: node, Type: ct}
}

func (c *Content) ID() int          { return c.Node.ID }
func (c *Content) Name() string     { return c.Node.Name }
func (c *Content) Path() string     { return c.Node.Path }
func (c *Content) TypeName() string { return c.Type.Name }

// IsA reports whether the content type is typeName or derives from it.
func (c *Content) IsA(typeName string) bool {
	return c.Type.IsA(typeName)
}

// DisplayName returns the DisplayName field, falling back to the name.
func (c *Content) DisplayName() string {
	if v, err := c.Value("DisplayName"); err == nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.Node.Name
}

// Fields returns the runtime fields in content type order.
func (c *Content) Fields() []*schema.Field {
	out := make([]*schema.Field, 0, len(c.Type.FieldSettings))
	for _, fs := range c.Type.FieldSettings {
		out = append(out, schema.NewField(fs, c.Node))
	}
	return out
}

// Field returns the named runtime field.
func (c *Content) Field(name string) (*schema.Field, bool) {
	fs, ok := c.Type.FieldSetting(name)
	if !ok {
		return nil, false
	}
	return schema.NewField(fs, c.Node), true
}

// Value returns the value of the named field.
func (c *Content) Value(name string) (any, error) {
	f, ok := c.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, c.Type.Name, name)
	}
	return f.GetData()
}

// SetValue validates and stores a field value. An invalid value is not
// stored; it is reported by the next Validate call.
func (c *Content) SetValue(name string, value any) error {
	f, ok := c.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, c.Type.Name, name)
	}
	if r := f.Setting.Validate(value); r != nil {
		c.markInvalid(name, r)
		return nil
	}
	delete(c.invalid, name)
	return f.SetData(value)
}

func (c *Content) markInvalid(name string, r *schema.ValidationResult) {
	if c.invalid == nil {
		c.invalid = map[string]*schema.ValidationResult{}
	}
	c.invalid[name] = r
}

// Comparable returns the filter and sort value of the named field, nil for
// unknown fields.
func (c *Content) Comparable(name string) any {
	f, ok := c.Field(name)
	if !ok {
		return nil
	}
	return f.Comparable()
}

// Validate checks every field and returns a *ValidationError listing the
// invalid ones, or nil.
func (c *Content) Validate() error {
	results := map[string]*schema.ValidationResult{}
	for name, r := range c.invalid {
		results[name] = r
	}
	for _, f := range c.Fields() {
		if _, seen := results[f.Name()]; seen {
			continue
		}
		if r := f.Validate(); r != nil {
			results[f.Name()] = r
		}
	}
	if len(results) == 0 {
		return nil
	}
	return &ValidationError{Results: results}
}

// applyDefaults sets every field that has a default value.
func (c *Content) applyDefaults() error {
	for _, f := range c.Fields() {
		def, err := defaultOf(f.Setting)
		if err != nil {
			return err
		}
		if def == nil {
			continue
		}
		if err := f.SetData(def); err != nil {
			return err
		}
	}
	return nil
}

// resetField sets a field back to its default value, clearing it when the
// field has none.
func (c *Content) resetField(f *schema.Field) error {
	def, err := defaultOf(f.Setting)
	if err != nil {
		return err
	}
	delete(c.invalid, f.Name())
	return f.SetData(def)
}

func defaultOf(fs *schema.FieldSetting) (any, error) {
	def, err := fs.Default()
	if err != nil || def != nil {
		return def, err
	}
	if fs.Type == "Choice" {
		if sel := schema.DefaultChoice(fs); len(sel) > 0 {
			return sel, nil
		}
	}
	return nil, nil
}
