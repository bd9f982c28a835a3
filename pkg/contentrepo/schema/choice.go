package schema

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ExtraValuePrefix marks a stored choice value that is not one of the options.
const ExtraValuePrefix = "~other."

// ChoiceOption is one selectable option of a Choice field.
type ChoiceOption struct {
	Value    string `json:"Value"`
	Text     string `json:"Text"`
	Selected bool   `json:"Selected,omitempty"`
}

// ChoiceConfig configures Choice fields.
type ChoiceConfig struct {
	AllowMultiple   bool           `json:"AllowMultiple"`
	AllowExtraValue bool           `json:"AllowExtraValue"`
	Options         []ChoiceOption `json:"Options"`
}

// Option returns the option with the given value.
func (c ChoiceConfig) Option(value string) (ChoiceOption, bool) {
	for _, o := range c.Options {
		if o.Value == value {
			return o, true
		}
	}
	return ChoiceOption{}, false
}

// DisplayText returns the text of a stored value: the option text, or the
// extra value without its prefix.
func (c ChoiceConfig) DisplayText(value string) string {
	if o, ok := c.Option(value); ok && o.Text != "" {
		return o.Text
	}
	return strings.TrimPrefix(value, ExtraValuePrefix)
}

type choiceHandler struct{ baseHandler }

func (choiceHandler) TypeName() string { return "Choice" }

func (choiceHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg ChoiceConfig
	if b, ok := base.(ChoiceConfig); ok {
		cfg = b
	}
	if err := parseOptionalBool(el, "AllowMultiple", &cfg.AllowMultiple); err != nil {
		return nil, err
	}
	if err := parseOptionalBool(el, "AllowExtraValue", &cfg.AllowExtraValue); err != nil {
		return nil, err
	}
	if opts := el.Child("Options"); opts != nil {
		cfg.Options = nil
		seen := map[string]bool{}
		for _, o := range opts.ChildrenNamed("Option") {
			text := o.TrimmedText()
			value, ok := o.Attr("value")
			if !ok {
				value = text
			}
			if seen[value] {
				return nil, fmt.Errorf("duplicate option value %q", value)
			}
			seen[value] = true
			opt := ChoiceOption{Value: value, Text: text}
			if s, ok := o.Attr("selected"); ok {
				opt.Selected, _ = parseBool(s)
			}
			cfg.Options = append(cfg.Options, opt)
		}
	}
	return cfg, nil
}

// ChoiceConfigOf returns the configuration of a Choice field setting.
func ChoiceConfigOf(fs *FieldSetting) ChoiceConfig {
	return choiceConfig(fs)
}

func choiceConfig(fs *FieldSetting) ChoiceConfig {
	cfg, _ := fs.Config.(ChoiceConfig)
	return cfg
}

// normalizeChoice maps option texts to values and marks unknown values as
// extra values.
func normalizeChoice(cfg ChoiceConfig, items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.HasPrefix(item, ExtraValuePrefix) {
			out = append(out, item)
			continue
		}
		if _, ok := cfg.Option(item); ok {
			out = append(out, item)
			continue
		}
		matched := false
		for _, o := range cfg.Options {
			if strings.EqualFold(o.Text, item) {
				out = append(out, o.Value)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, ExtraValuePrefix+item)
		}
	}
	return out
}

// ParseText splits on ";" and maps option texts to values.
func (choiceHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	cfg := choiceConfig(fs)
	return normalizeChoice(cfg, strings.Split(text, ";")), nil
}

func (h choiceHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	values := el.ChildrenNamed("Value")
	if len(values) == 0 {
		return h.ParseText(fs, el.Text)
	}
	items := make([]string, 0, len(values))
	for _, v := range values {
		items = append(items, v.TrimmedText())
	}
	return normalizeChoice(choiceConfig(fs), items), nil
}

func (choiceHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	items, _ := value.([]string)
	el.Text = strings.Join(items, ";")
	return nil
}

func toChoice(fs *FieldSetting, v any) (any, error) {
	cfg := choiceConfig(fs)
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return normalizeChoice(cfg, t), nil
	case string:
		return normalizeChoice(cfg, strings.Split(t, ";")), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				s = fmt.Sprint(x)
			}
			items = append(items, s)
		}
		return normalizeChoice(cfg, items), nil
	}
	return nil, invalidValue(fs, v)
}

func (choiceHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toChoice(fs, value)
	if err != nil {
		return nil, err
	}
	if len(v.([]string)) == 0 {
		return nil, nil
	}
	return v, nil
}

func (choiceHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toChoice(fs, slot) }

func (choiceHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toChoice(fs, raw) }

func (choiceHandler) ToJSON(fs *FieldSetting, value any) any {
	items, _ := value.([]string)
	if items == nil {
		items = []string{}
	}
	return items
}

func (choiceHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	items, _ := value.([]string)
	if len(items) == 0 {
		return nil
	}
	cfg := choiceConfig(fs)
	if len(items) > 1 && !cfg.AllowMultiple {
		return Invalid(CodeMultipleNotAllowed)
	}
	allowed := make([]any, 0, len(cfg.Options))
	for _, o := range cfg.Options {
		allowed = append(allowed, o.Value)
	}
	for _, item := range items {
		if strings.HasPrefix(item, ExtraValuePrefix) {
			if !cfg.AllowExtraValue {
				return Invalid(CodeExtraValueNotAllowed, "value", strings.TrimPrefix(item, ExtraValuePrefix))
			}
			continue
		}
		if r := fromRule(validation.Validate(item, validation.In(allowed...)), "value", item); r != nil {
			return r
		}
	}
	return nil
}

// Comparable joins multiple values with ";" so single choices compare as plain strings.
func (choiceHandler) Comparable(fs *FieldSetting, value any) any {
	items, _ := value.([]string)
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0]
	}
	return strings.Join(items, ";")
}

// DefaultChoice returns the preselected option values.
func DefaultChoice(fs *FieldSetting) []string {
	var out []string
	for _, o := range choiceConfig(fs).Options {
		if o.Selected {
			out = append(out, o.Value)
		}
	}
	return out
}
