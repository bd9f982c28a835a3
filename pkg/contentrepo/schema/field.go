package schema

import (
	"reflect"
)

// SlotAccessor is the storage a Field reads and writes. Nodes implement it.
type SlotAccessor interface {
	Slot(name string) (any, bool)
	SetSlot(name string, value any) error
}

// Field binds a FieldSetting to the storage slots of one content.
type Field struct {
	Setting *FieldSetting
	slots   SlotAccessor
}

// NewField creates a runtime field over the given slots.
func NewField(fs *FieldSetting, slots SlotAccessor) *Field {
	return &Field{Setting: fs, slots: slots}
}

// Name returns the field name.
func (f *Field) Name() string { return f.Setting.Name }

// GetData returns the field value converted from its storage slot.
func (f *Field) GetData() (any, error) {
	slot, _ := f.slots.Slot(f.Setting.SlotName())
	return f.Setting.handler.FromSlot(f.Setting, slot)
}

// SetData converts a field value to its slot representation and stores it.
func (f *Field) SetData(value any) error {
	slot, err := f.Setting.handler.ToSlot(f.Setting, value)
	if err != nil {
		return err
	}
	return f.slots.SetSlot(f.Setting.SlotName(), slot)
}

// Validate checks the current value of the field.
func (f *Field) Validate() *ValidationResult {
	v, err := f.GetData()
	if err != nil {
		return Invalid(err.Error())
	}
	return f.Setting.Validate(v)
}

// ImportXML parses a field element of an import file and stores the value.
func (f *Field) ImportXML(ctx ImportContext, el *Element) error {
	v, err := f.Setting.handler.ImportXML(ctx, f.Setting, el)
	if err != nil {
		return err
	}
	return f.SetData(v)
}

// ExportXML renders the field as an element named after the field. It
// returns nil for empty values.
func (f *Field) ExportXML(ctx ExportContext) (*Element, error) {
	v, err := f.GetData()
	if err != nil {
		return nil, err
	}
	if IsEmpty(v) {
		return nil, nil
	}
	el := NewElement(f.Setting.Name, "")
	if err := f.Setting.handler.ExportXML(ctx, f.Setting, v, el); err != nil {
		return nil, err
	}
	return el, nil
}

// JSON returns the OData representation of the field value.
func (f *Field) JSON() (any, error) {
	v, err := f.GetData()
	if err != nil {
		return nil, err
	}
	return f.Setting.handler.ToJSON(f.Setting, v), nil
}

// Comparable returns the scalar used for filtering and sorting.
func (f *Field) Comparable() any {
	v, err := f.GetData()
	if err != nil {
		return nil
	}
	return f.Setting.handler.Comparable(f.Setting, v)
}

// Validate checks a value against the setting: compulsory fields must not
// be empty, then the type specific rules apply.
func (fs *FieldSetting) Validate(value any) *ValidationResult {
	if IsEmpty(value) {
		if fs.Compulsory {
			return Invalid(CodeCompulsory)
		}
		return nil
	}
	return fs.handler.Validate(fs, value)
}

// IsEmpty reports whether a field value counts as not set.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case *PasswordData:
		return t == nil || (t.Text == "" && t.Hash == "")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}
