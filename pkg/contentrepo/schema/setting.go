package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldSetting is the definition of one field of a content type.
type FieldSetting struct {
	Name         string
	Type         string
	DisplayName  string
	Description  string
	Bind         string
	Compulsory   bool
	ReadOnly     bool
	DefaultValue string

	// Config holds the type-specific configuration produced by the handler.
	Config any

	// Owner is the content type that declares (or overrides) the field.
	Owner *ContentType
	// ParentSetting is the inherited setting this one overrides, if any.
	ParentSetting *FieldSetting

	handler Handler
}

// Handler returns the field type handler for this setting.
func (fs *FieldSetting) Handler() Handler {
	return fs.handler
}

// SlotName returns the storage slot the field is bound to.
func (fs *FieldSetting) SlotName() string {
	if fs.Bind != "" {
		return fs.Bind
	}
	return fs.Name
}

// Title returns the display name, falling back to the field name.
func (fs *FieldSetting) Title() string {
	if fs.DisplayName != "" {
		return fs.DisplayName
	}
	return fs.Name
}

// Default parses the DefaultValue with the field's handler.
func (fs *FieldSetting) Default() (any, error) {
	if fs.DefaultValue == "" {
		return nil, nil
	}
	return fs.handler.ParseText(fs, fs.DefaultValue)
}

// newFieldSetting builds a setting from a CTD <Field> element. parent is the
// inherited setting when the field overrides one from the parent type.
func newFieldSetting(el *Element, owner *ContentType, parent *FieldSetting) (*FieldSetting, error) {
	name, _ := el.Attr("name")
	if name == "" {
		return nil, fmt.Errorf("%w: field without name in %s", ErrInvalidDefinition, owner.Name)
	}
	typ, _ := el.Attr("type")

	fs := &FieldSetting{Name: name, Type: typ, Owner: owner, ParentSetting: parent}
	var baseConfig any
	if parent != nil {
		if typ != "" && typ != parent.Type {
			return nil, fmt.Errorf("%w: field %s.%s cannot change type from %s to %s",
				ErrInvalidDefinition, owner.Name, name, parent.Type, typ)
		}
		fs.Type = parent.Type
		fs.DisplayName = parent.DisplayName
		fs.Description = parent.Description
		fs.Bind = parent.Bind
		fs.Compulsory = parent.Compulsory
		fs.ReadOnly = parent.ReadOnly
		fs.DefaultValue = parent.DefaultValue
		baseConfig = parent.Config
	}
	if fs.Type == "" {
		return nil, fmt.Errorf("%w: field %s.%s has no type", ErrInvalidDefinition, owner.Name, name)
	}

	h, ok := LookupHandler(fs.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s (field %s.%s)", ErrUnknownFieldType, fs.Type, owner.Name, name)
	}
	fs.handler = h

	if v, ok := el.ChildText("DisplayName"); ok {
		fs.DisplayName = v
	}
	if v, ok := el.ChildText("Description"); ok {
		fs.Description = v
	}
	if b := el.Child("Bind"); b != nil {
		if p, ok := b.Attr("property"); ok {
			fs.Bind = p
		}
	}

	cfg := el.Child("Configuration")
	if cfg == nil {
		cfg = &Element{}
	}
	if err := fs.applyCommon(cfg); err != nil {
		return nil, err
	}
	c, err := h.ParseConfig(baseConfig, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s.%s: %v", ErrInvalidDefinition, owner.Name, name, err)
	}
	fs.Config = c

	if fs.DefaultValue != "" {
		if _, err := fs.Default(); err != nil {
			return nil, fmt.Errorf("%w: field %s.%s default value: %v", ErrInvalidDefinition, owner.Name, name, err)
		}
	}
	return fs, nil
}

func (fs *FieldSetting) applyCommon(cfg *Element) error {
	var err error
	if v, ok := cfg.ChildText("Compulsory"); ok {
		if fs.Compulsory, err = parseBool(v); err != nil {
			return fmt.Errorf("%w: Compulsory of %s: %v", ErrInvalidDefinition, fs.Name, err)
		}
	}
	if v, ok := cfg.ChildText("ReadOnly"); ok {
		if fs.ReadOnly, err = parseBool(v); err != nil {
			return fmt.Errorf("%w: ReadOnly of %s: %v", ErrInvalidDefinition, fs.Name, err)
		}
	}
	if v, ok := cfg.ChildText("DefaultValue"); ok {
		fs.DefaultValue = v
	}
	return nil
}

// Describe returns a JSON friendly description of the setting.
func (fs *FieldSetting) Describe() map[string]any {
	out := map[string]any{
		"Name":        fs.Name,
		"Type":        fs.Type,
		"DisplayName": fs.Title(),
		"Description": fs.Description,
		"Compulsory":  fs.Compulsory,
		"ReadOnly":    fs.ReadOnly,
	}
	if fs.DefaultValue != "" {
		out["DefaultValue"] = fs.DefaultValue
	}
	if fs.Bind != "" && fs.Bind != fs.Name {
		out["Bind"] = fs.Bind
	}
	if fs.Owner != nil {
		out["Owner"] = fs.Owner.Name
	}
	if fs.Config != nil {
		out["Configuration"] = fs.Config
	}
	return out
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "1", "true", "on":
		return true, nil
	case "no", "0", "false", "off", "":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseOptionalInt(el *Element, name string, dst **int) error {
	v, ok := el.ChildText(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = &n
	return nil
}

func parseOptionalBool(el *Element, name string, dst *bool) error {
	v, ok := el.ChildText(name)
	if !ok {
		return nil
	}
	b, err := parseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = b
	return nil
}
