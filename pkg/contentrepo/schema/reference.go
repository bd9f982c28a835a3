package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ReferenceConfig configures Reference fields.
type ReferenceConfig struct {
	AllowMultiple  bool     `json:"AllowMultiple"`
	AllowedTypes   []string `json:"AllowedTypes,omitempty"`
	SelectionRoots []string `json:"SelectionRoots,omitempty"`
}

// ReferencePaths is a reference value that still holds paths (or textual IDs)
// to be resolved to node IDs by the repository.
type ReferencePaths []string

// ReferenceConfigOf returns the configuration of a Reference field setting.
func ReferenceConfigOf(fs *FieldSetting) ReferenceConfig {
	cfg, _ := fs.Config.(ReferenceConfig)
	return cfg
}

// IsReference reports whether the setting is a Reference field.
func IsReference(fs *FieldSetting) bool {
	_, ok := fs.handler.(referenceHandler)
	return ok
}

type referenceHandler struct{ baseHandler }

func (referenceHandler) TypeName() string { return "Reference" }

func (referenceHandler) ParseConfig(base any, el *Element) (any, error) {
	var cfg ReferenceConfig
	if b, ok := base.(ReferenceConfig); ok {
		cfg = b
	}
	if err := parseOptionalBool(el, "AllowMultiple", &cfg.AllowMultiple); err != nil {
		return nil, err
	}
	if types := el.Child("AllowedTypes"); types != nil {
		cfg.AllowedTypes = nil
		for _, t := range types.ChildrenNamed("Type") {
			if name := t.TrimmedText(); name != "" {
				cfg.AllowedTypes = append(cfg.AllowedTypes, name)
			}
		}
	}
	if roots := el.Child("SelectionRoot"); roots != nil {
		cfg.SelectionRoots = nil
		for _, p := range roots.ChildrenNamed("Path") {
			if path := p.TrimmedText(); path != "" {
				cfg.SelectionRoots = append(cfg.SelectionRoots, path)
			}
		}
	}
	return cfg, nil
}

func splitReferences(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseText accepts comma separated IDs. Paths need a resolver and are
// returned as ReferencePaths.
func (referenceHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	parts := splitReferences(text)
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return ReferencePaths(parts), nil
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (referenceHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	var refs []string
	for _, c := range el.Children {
		switch c.Name() {
		case "Path", "Id":
			if v := strings.TrimSpace(c.Text); v != "" {
				refs = append(refs, v)
			}
		}
	}
	if len(el.Children) == 0 {
		refs = splitReferences(el.Text)
	}
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		if id, err := strconv.Atoi(ref); err == nil {
			ids = append(ids, id)
			continue
		}
		id, err := ctx.ResolvePath(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve reference %s of field %s: %w", ref, fs.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (referenceHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	ids, _ := value.([]int)
	for _, id := range ids {
		path, err := ctx.PathOf(id)
		if err != nil {
			return fmt.Errorf("export reference %d of field %s: %w", id, fs.Name, err)
		}
		el.Append(NewElement("Path", path))
	}
	return nil
}

func toReferences(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return []int{}, nil
	case int:
		if t == 0 {
			return []int{}, nil
		}
		return []int{t}, nil
	case int64:
		return toReferences(fs, int(t))
	case float64:
		if t != math.Trunc(t) {
			return nil, invalidValue(fs, v)
		}
		return toReferences(fs, int(t))
	case []int:
		return t, nil
	case ReferencePaths:
		return t, nil
	case string:
		return referenceHandler{}.ParseText(fs, t)
	case []string:
		return referenceHandler{}.ParseText(fs, strings.Join(t, ","))
	case map[string]any:
		// {"Id": 5} or {"Path": "/Root/x"} objects as sent by clients
		if id, ok := t["Id"]; ok {
			return toReferences(fs, id)
		}
		if p, ok := t["Path"].(string); ok {
			return ReferencePaths{p}, nil
		}
		return nil, invalidValue(fs, v)
	case []any:
		var ids []int
		var paths []string
		for _, x := range t {
			r, err := toReferences(fs, x)
			if err != nil {
				return nil, err
			}
			switch rv := r.(type) {
			case []int:
				ids = append(ids, rv...)
			case ReferencePaths:
				paths = append(paths, rv...)
			}
		}
		if len(paths) > 0 {
			for _, id := range ids {
				paths = append(paths, strconv.Itoa(id))
			}
			return ReferencePaths(paths), nil
		}
		if ids == nil {
			ids = []int{}
		}
		return ids, nil
	}
	return nil, invalidValue(fs, v)
}

func (referenceHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toReferences(fs, value)
	if err != nil {
		return nil, err
	}
	ids, ok := v.([]int)
	if !ok {
		return nil, fmt.Errorf("%w: unresolved references in field %s", ErrInvalidValue, fs.Name)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func (referenceHandler) FromSlot(fs *FieldSetting, slot any) (any, error) {
	return toReferences(fs, slot)
}

func (referenceHandler) FromJSON(fs *FieldSetting, raw any) (any, error) {
	return toReferences(fs, raw)
}

func (referenceHandler) ToJSON(fs *FieldSetting, value any) any {
	ids, _ := value.([]int)
	if ids == nil {
		ids = []int{}
	}
	return ids
}

func (referenceHandler) Validate(fs *FieldSetting, value any) *ValidationResult {
	ids, _ := value.([]int)
	if len(ids) > 1 && !ReferenceConfigOf(fs).AllowMultiple {
		return Invalid(CodeMultipleNotAllowed)
	}
	return nil
}

func (referenceHandler) Comparable(fs *FieldSetting, value any) any {
	ids, _ := value.([]int)
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return int64(ids[0])
	}
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func (referenceHandler) EdmType(fs *FieldSetting) string { return "Edm.Int32" }
