package schema

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/crypto/bcrypt"
)

// DefaultShortTextMaxLength is applied when a ShortText field has no MaxLength.
const DefaultShortTextMaxLength = 450

// TextConfig configures ShortText, LongText and Password fields.
type TextConfig struct {
	MinLength *int   `json:"MinLength,omitempty"`
	MaxLength *int   `json:"MaxLength,omitempty"`
	Regex     string `json:"Regex,omitempty"`
	// TextType is informational for LongText (PlainText, RichText, AdvancedRichText).
	TextType string `json:"TextType,omitempty"`
}

func parseTextConfig(base any, el *Element) (TextConfig, error) {
	var cfg TextConfig
	if b, ok := base.(TextConfig); ok {
		cfg = b
	}
	if err := parseOptionalInt(el, "MinLength", &cfg.MinLength); err != nil {
		return cfg, err
	}
	if err := parseOptionalInt(el, "MaxLength", &cfg.MaxLength); err != nil {
		return cfg, err
	}
	if v, ok := el.ChildText("Regex"); ok {
		if _, err := regexp.Compile(v); err != nil {
			return cfg, fmt.Errorf("invalid Regex: %w", err)
		}
		cfg.Regex = v
	}
	if v, ok := el.ChildText("TextType"); ok {
		cfg.TextType = v
	}
	return cfg, nil
}

func textConfig(fs *FieldSetting) TextConfig {
	cfg, _ := fs.Config.(TextConfig)
	return cfg
}

func validateText(cfg TextConfig, s string, defaultMax int) *ValidationResult {
	if cfg.MinLength != nil && *cfg.MinLength > 0 {
		if r := fromRule(validation.Validate(s, validation.Length(*cfg.MinLength, 0)), "min", *cfg.MinLength); r != nil {
			return r
		}
	}
	max := defaultMax
	if cfg.MaxLength != nil {
		max = *cfg.MaxLength
	}
	if max > 0 {
		if r := fromRule(validation.Validate(s, validation.Length(0, max)), "max", max); r != nil {
			return r
		}
	}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err == nil {
			if r := fromRule(validation.Validate(s, validation.Match(re)), "regex", cfg.Regex); r != nil {
				return r
			}
		}
	}
	return nil
}

func textFromAny(fs *FieldSetting, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case *string:
		if t == nil {
			return "", nil
		}
		return *t, nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(t), nil
	}
	return "", invalidValue(fs, v)
}

type shortTextHandler struct{ baseHandler }

func (shortTextHandler) TypeName() string { return "ShortText" }

func (shortTextHandler) ParseConfig(base any, el *Element) (any, error) {
	return parseTextConfig(base, el)
}

func (shortTextHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	return strings.TrimSpace(text), nil
}

func (h shortTextHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (shortTextHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	s, _ := value.(string)
	el.Text = s
	return nil
}

func (shortTextHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	return textFromAny(fs, value)
}

func (shortTextHandler) FromSlot(fs *FieldSetting, slot any) (any, error) {
	return textFromAny(fs, slot)
}

func (shortTextHandler) FromJSON(fs *FieldSetting, raw any) (any, error) {
	return textFromAny(fs, raw)
}

func (shortTextHandler) ToJSON(fs *FieldSetting, value any) any {
	s, _ := value.(string)
	return s
}

func (shortTextHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return validateText(textConfig(fs), s, DefaultShortTextMaxLength)
}

type longTextHandler struct{ shortTextHandler }

func (longTextHandler) TypeName() string { return "LongText" }

// LongText keeps whitespace; only surrounding newlines from XML formatting are dropped.
func (longTextHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	return strings.Trim(text, "\r\n"), nil
}

func (h longTextHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (longTextHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return validateText(textConfig(fs), s, 0)
}

// PasswordData is the value of a Password field. Text is the clear text
// being set; Hash is the stored bcrypt hash.
type PasswordData struct {
	Text string
	Hash string
}

// CheckPassword reports whether clear matches the stored password value.
func CheckPassword(value any, clear string) bool {
	pd, ok := value.(*PasswordData)
	if !ok || pd == nil || pd.Hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(pd.Hash), []byte(clear)) == nil
}

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

type passwordHandler struct{ baseHandler }

func (passwordHandler) TypeName() string { return "Password" }

func (passwordHandler) ParseConfig(base any, el *Element) (any, error) {
	return parseTextConfig(base, el)
}

func (passwordHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	if text == "" {
		return nil, nil
	}
	return &PasswordData{Text: text}, nil
}

func (h passwordHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	text := el.TrimmedText()
	if text == "" {
		return nil, nil
	}
	if v, ok := el.Attr("hash"); ok {
		if isHash, _ := parseBool(v); isHash {
			return &PasswordData{Hash: text}, nil
		}
	}
	return &PasswordData{Text: text}, nil
}

func (passwordHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	pd, ok := value.(*PasswordData)
	if !ok || pd == nil || pd.Hash == "" {
		return nil
	}
	el.SetAttr("hash", "true")
	el.Text = pd.Hash
	return nil
}

func (passwordHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	switch t := value.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		value = &PasswordData{Text: t}
	case *PasswordData:
	default:
		return nil, invalidValue(fs, value)
	}
	pd := value.(*PasswordData)
	if pd == nil {
		return nil, nil
	}
	if pd.Text == "" {
		if pd.Hash == "" {
			return nil, nil
		}
		return pd.Hash, nil
	}
	if len(pd.Text) > MaxPasswordBytes {
		return nil, fmt.Errorf("%w: password longer than %d bytes (field %s)", ErrInvalidValue, MaxPasswordBytes, fs.Name)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pd.Text), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v (field %s)", ErrInvalidValue, err, fs.Name)
	}
	return string(hash), nil
}

func (passwordHandler) FromSlot(fs *FieldSetting, slot any) (any, error) {
	switch t := slot.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return &PasswordData{Hash: t}, nil
	case *PasswordData:
		return t, nil
	}
	return nil, invalidValue(fs, slot)
}

func (h passwordHandler) FromJSON(fs *FieldSetting, raw any) (any, error) {
	s, err := textFromAny(fs, raw)
	if err != nil {
		return nil, err
	}
	return h.ParseText(fs, s)
}

// ToJSON never exposes the stored hash.
func (passwordHandler) ToJSON(fs *FieldSetting, value any) any { return nil }

func (passwordHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	pd, ok := value.(*PasswordData)
	if !ok || pd == nil || pd.Text == "" {
		return nil
	}
	if r := validateText(textConfig(fs), pd.Text, 0); r != nil {
		return r
	}
	if len(pd.Text) > MaxPasswordBytes {
		return Invalid(CodeMaxLength, "max", MaxPasswordBytes)
	}
	return nil
}

func (passwordHandler) Comparable(fs *FieldSetting, value any) any { return nil }
