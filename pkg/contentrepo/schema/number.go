package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// IntegerConfig configures Integer fields.
type IntegerConfig struct {
	MinValue *int `json:"MinValue,omitempty"`
	MaxValue *int `json:"MaxValue,omitempty"`
}

type integerHandler struct{ baseHandler }

func (integerHandler) TypeName() string { return "Integer" }

func (integerHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg IntegerConfig
	if b, ok := base.(IntegerConfig); ok {
		cfg = b
	}
	if err := parseOptionalInt(el, "MinValue", &cfg.MinValue); err != nil {
		return nil, err
	}
	if err := parseOptionalInt(el, "MaxValue", &cfg.MaxValue); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (integerHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer (field %s)", ErrInvalidValue, text, fs.Name)
	}
	return n, nil
}

func (h integerHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (integerHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if n, ok := value.(int); ok {
		el.Text = strconv.Itoa(n)
	}
	return nil
}

func toInt(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("%w: %v is not an integer (field %s)", ErrInvalidValue, t, fs.Name)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v (field %s)", ErrInvalidValue, err, fs.Name)
		}
		return int(n), nil
	case string:
		return integerHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (integerHandler) ToSlot(fs *FieldSetting, value any) (any, error) { return toInt(fs, value) }

func (integerHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toInt(fs, slot) }

func (integerHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toInt(fs, raw) }

func (integerHandler) ToJSON(fs *FieldSetting, value any) any {
	if n, ok := value.(int); ok {
		return n
	}
	return nil
}

func (integerHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	n, ok := value.(int)
	if !ok {
		return nil
	}
	cfg, _ := fs.Config.(IntegerConfig)
	return checkRange(n, cfg.MinValue, cfg.MaxValue)
}

func (integerHandler) Comparable(fs *FieldSetting, value any) any {
	if n, ok := value.(int); ok {
		return int64(n)
	}
	return nil
}

func (integerHandler) EdmType(fs *FieldSetting) string { return "Edm.Int32" }

// NumberConfig configures Number and Currency fields.
type NumberConfig struct {
	MinValue         *decimal.Decimal `json:"MinValue,omitempty"`
	MaxValue         *decimal.Decimal `json:"MaxValue,omitempty"`
	Digits           *int             `json:"Digits,omitempty"`
	ShowAsPercentage bool             `json:"ShowAsPercentage,omitempty"`
	// Format is the culture used to render Currency values (e.g. "en-US").
	Format string `json:"Format,omitempty"`
}

type numberHandler struct {
	baseHandler
	name string
}

func (h numberHandler) TypeName() string { return h.name }

func parseOptionalDecimal(el *Element, name string, dst **decimal.Decimal) error {
	v, ok := el.ChildText(name)
	if !ok || v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = &d
	return nil
}

func (numberHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg NumberConfig
	if b, ok := base.(NumberConfig); ok {
		cfg = b
	}
	if err := parseOptionalDecimal(el, "MinValue", &cfg.MinValue); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(el, "MaxValue", &cfg.MaxValue); err != nil {
		return nil, err
	}
	if err := parseOptionalInt(el, "Digits", &cfg.Digits); err != nil {
		return nil, err
	}
	if err := parseOptionalBool(el, "ShowAsPercentage", &cfg.ShowAsPercentage); err != nil {
		return nil, err
	}
	if v, ok := el.ChildText("Format"); ok {
		cfg.Format = v
	}
	return cfg, nil
}

func (numberHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number (field %s)", ErrInvalidValue, text, fs.Name)
	}
	return d, nil
}

func (h numberHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (numberHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if d, ok := value.(decimal.Decimal); ok {
		el.Text = d.String()
	}
	return nil
}

func toDecimal(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return t, nil
	case *decimal.Decimal:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case json.Number:
		return numberHandler{}.ParseText(fs, t.String())
	case string:
		return numberHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (numberHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toDecimal(fs, value)
	if err != nil || v == nil {
		return nil, err
	}
	d := v.(decimal.Decimal)
	if cfg, _ := fs.Config.(NumberConfig); cfg.Digits != nil {
		d = d.Round(int32(*cfg.Digits))
	}
	return d.String(), nil
}

func (numberHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toDecimal(fs, slot) }

func (numberHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toDecimal(fs, raw) }

func (numberHandler) ToJSON(fs *FieldSetting, value any) any {
	if d, ok := value.(decimal.Decimal); ok {
		return json.Number(d.String())
	}
	return nil
}

func (numberHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return nil
	}
	cfg, _ := fs.Config.(NumberConfig)
	if cfg.MinValue != nil && d.LessThan(*cfg.MinValue) {
		return Invalid(CodeMinValue, "min", cfg.MinValue.String())
	}
	if cfg.MaxValue != nil && d.GreaterThan(*cfg.MaxValue) {
		return Invalid(CodeMaxValue, "max", cfg.MaxValue.String())
	}
	if cfg.Digits != nil && -d.Exponent() > int32(*cfg.Digits) && !d.Equal(d.Truncate(int32(*cfg.Digits))) {
		return Invalid(CodeDigits, "digits", *cfg.Digits)
	}
	return nil
}

func (numberHandler) Comparable(fs *FieldSetting, value any) any {
	if d, ok := value.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func (numberHandler) EdmType(fs *FieldSetting) string { return "Edm.Decimal" }
