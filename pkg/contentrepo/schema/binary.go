package schema

import (
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// BinaryData describes a blob attached to a Binary field. The bytes live in
// a blob store under BlobKey.
type BinaryData struct {
	BlobKey     string    `json:"blob_key"`
	Backend     string    `json:"backend,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BinaryConfig configures Binary fields.
type BinaryConfig struct {
	IsText bool `json:"IsText,omitempty"`
}

// ContentTypeOf guesses a MIME type from a file name.
func ContentTypeOf(fileName string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsBinary reports whether the setting is a Binary field.
func IsBinary(fs *FieldSetting) bool {
	_, ok := fs.handler.(binaryHandler)
	return ok
}

type binaryHandler struct{ baseHandler }

func (binaryHandler) TypeName() string { return "Binary" }

func (binaryHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg BinaryConfig
	if b, ok := base.(BinaryConfig); ok {
		cfg = b
	}
	if err := parseOptionalBool(el, "IsText", &cfg.IsText); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (binaryHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: binary field %s cannot be parsed from text", ErrInvalidValue, fs.Name)
}

// ImportXML reads the attachment named by the "attachment" attribute, or the
// inline text of the element, and stores it as a blob.
func (binaryHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	if name, ok := el.Attr("attachment"); ok && name != "" {
		rc, err := ctx.OpenAttachment(name)
		if err != nil {
			return nil, fmt.Errorf("open attachment %s of field %s: %w", name, fs.Name, err)
		}
		defer rc.Close()
		return ctx.StoreBinary(filepath.Base(name), ContentTypeOf(name), rc)
	}
	text := strings.Trim(el.Text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return ctx.StoreBinary(fs.Name+".txt", "text/plain; charset=utf-8", strings.NewReader(text))
}

func (binaryHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	bd, ok := value.(*BinaryData)
	if !ok || bd == nil {
		return nil
	}
	name, err := ctx.WriteAttachment(fs, bd)
	if err != nil {
		return fmt.Errorf("export binary of field %s: %w", fs.Name, err)
	}
	el.SetAttr("attachment", name)
	return nil
}

func toBinary(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *BinaryData:
		if t == nil {
			return nil, nil
		}
		return t, nil
	case BinaryData:
		return &t, nil
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v (field %s)", ErrInvalidValue, err, fs.Name)
		}
		var bd BinaryData
		if err := json.Unmarshal(data, &bd); err != nil {
			return nil, fmt.Errorf("%w: %v (field %s)", ErrInvalidValue, err, fs.Name)
		}
		if bd.BlobKey == "" {
			return nil, fmt.Errorf("%w: binary without blob key (field %s)", ErrInvalidValue, fs.Name)
		}
		return &bd, nil
	}
	return nil, invalidValue(fs, v)
}

func (binaryHandler) ToSlot(fs *FieldSetting, value any) (any, error) { return toBinary(fs, value) }

func (binaryHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toBinary(fs, slot) }

// FromJSON rejects client values: binary data is only set by upload, a raw
// blob reference would let one content point at another content's blob.
func (binaryHandler) FromJSON(fs *FieldSetting, raw any) (any, error) {
	return nil, fmt.Errorf("%w: binary field %s is set by upload", ErrInvalidValue, fs.Name)
}

// IsMediaResource reports whether raw is a binary field as rendered in an
// OData response, as sent back by clients that echo an entity.
func IsMediaResource(raw any) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["__mediaresource"]
	return ok
}

func (binaryHandler) ToJSON(fs *FieldSetting, value any) any {
	bd, ok := value.(*BinaryData)
	if !ok || bd == nil {
		return nil
	}
	return map[string]any{
		"FileName":    bd.FileName,
		"ContentType": bd.ContentType,
		"Size":        bd.Size,
	}
}

func (binaryHandler) Validate(fs *FieldSetting, value any) *ValidationResult { return nil }

func (binaryHandler) Comparable(fs *FieldSetting, value any) any {
	if bd, ok := value.(*BinaryData); ok && bd != nil {
		return bd.FileName
	}
	return nil
}
