package schema

import (
	"fmt"
	"strconv"
	"strings"
)

type booleanHandler struct{ baseHandler }

func (booleanHandler) TypeName() string { return "Boolean" }

func (booleanHandler) ParseConfig(base any, el *Element) (any, error) { return nil, nil }

func (booleanHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	b, err := parseBool(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a boolean (field %s)", ErrInvalidValue, text, fs.Name)
	}
	return b, nil
}

func (h booleanHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (booleanHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if b, ok := value.(bool); ok {
		el.Text = strconv.FormatBool(b)
	}
	return nil
}

func toBool(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case string:
		return booleanHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (booleanHandler) ToSlot(fs *FieldSetting, value any) (any, error) { return toBool(fs, value) }

func (booleanHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toBool(fs, slot) }

func (booleanHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toBool(fs, raw) }

func (booleanHandler) ToJSON(fs *FieldSetting, value any) any {
	b, _ := value.(bool)
	return b
}

func (booleanHandler) Validate(fs *FieldSetting, value any) *ValidationResult { return nil }

func (booleanHandler) EdmType(fs *FieldSetting) string { return "Edm.Boolean" }
