package schema

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ColorConfig configures Color fields. An empty palette allows any color.
type ColorConfig struct {
	Palette []string `json:"Palette,omitempty"`
}

type colorHandler struct{ baseHandler }

func (colorHandler) TypeName() string { return "Color" }

func (colorHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg ColorConfig
	if b, ok := base.(ColorConfig); ok {
		cfg = b
	}
	if p := el.Child("Palette"); p != nil {
		cfg.Palette = nil
		for _, c := range p.ChildrenNamed("Color") {
			cfg.Palette = append(cfg.Palette, normalizeColor(c.Text))
		}
	}
	return cfg, nil
}

func normalizeColor(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	// expand the #RGB short form
	if len(s) == 4 {
		s = "#" + string([]byte{s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	return s
}

func (colorHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	if c := normalizeColor(text); c != "" {
		return c, nil
	}
	return nil, nil
}

func (h colorHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (colorHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	el.Text, _ = value.(string)
	return nil
}

func toColor(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return colorHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (colorHandler) ToSlot(fs *FieldSetting, value any) (any, error) { return toColor(fs, value) }

func (colorHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toColor(fs, slot) }

func (colorHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toColor(fs, raw) }

func (colorHandler) ToJSON(fs *FieldSetting, value any) any {
	s, _ := value.(string)
	return s
}

func (colorHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if err := validation.Validate(s, is.HexColor, validation.Length(7, 7)); err != nil {
		return Invalid(CodeInvalidColor, "value", s)
	}
	cfg, _ := fs.Config.(ColorConfig)
	if len(cfg.Palette) > 0 {
		for _, c := range cfg.Palette {
			if c == s {
				return nil
			}
		}
		return Invalid(CodeNotValidOption, "value", s)
	}
	return nil
}
