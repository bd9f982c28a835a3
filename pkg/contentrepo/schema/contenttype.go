package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ContentType is a parsed content type definition (CTD).
type ContentType struct {
	Name           string
	ParentTypeName string
	Parent         *ContentType
	Handler        string
	DisplayName    string
	Description    string
	Icon           string

	// AllowedChildTypes restricts the types that can be created below content
	// of this type. Nil means unrestricted unless restrictChildren is set.
	AllowedChildTypes []string
	restrictChildren  bool

	// FieldSettings holds inherited fields in parent order followed by the
	// fields declared by this type.
	FieldSettings []*FieldSetting
	fieldIndex    map[string]*FieldSetting

	// Source is the CTD document the type was installed from.
	Source []byte
}

// FieldSetting returns the setting of the named field.
func (ct *ContentType) FieldSetting(name string) (*FieldSetting, bool) {
	fs, ok := ct.fieldIndex[name]
	return fs, ok
}

// Title returns the display name, falling back to the type name.
func (ct *ContentType) Title() string {
	if ct.DisplayName != "" {
		return ct.DisplayName
	}
	return ct.Name
}

// IsA reports whether the type is ancestor or one of its descendants.
func (ct *ContentType) IsA(ancestor string) bool {
	for t := ct; t != nil; t = t.Parent {
		if t.Name == ancestor {
			return true
		}
	}
	return false
}

// Ancestry returns the type names from the root type down to this type.
func (ct *ContentType) Ancestry() []string {
	var names []string
	for t := ct; t != nil; t = t.Parent {
		names = append(names, t.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Describe returns a JSON friendly description of the type and its fields.
func (ct *ContentType) Describe() map[string]any {
	fields := make([]map[string]any, 0, len(ct.FieldSettings))
	for _, fs := range ct.FieldSettings {
		fields = append(fields, fs.Describe())
	}
	out := map[string]any{
		"ContentTypeName": ct.Name,
		"DisplayName":     ct.Title(),
		"Description":     ct.Description,
		"Icon":            ct.Icon,
		"FieldSettings":   fields,
	}
	if ct.ParentTypeName != "" {
		out["ParentTypeName"] = ct.ParentTypeName
	}
	if ct.AllowedChildTypes != nil || ct.restrictChildren {
		out["AllowedChildTypes"] = ct.AllowedChildTypes
	}
	return out
}

type ctdHeader struct {
	name   string
	parent string
	root   *Element
	source []byte
}

func parseHeader(data []byte) (*ctdHeader, error) {
	root, err := ParseElement(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if root.Name() != "ContentType" {
		return nil, fmt.Errorf("%w: root element is %s, expected ContentType", ErrInvalidDefinition, root.Name())
	}
	name, _ := root.Attr("name")
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: content type without name", ErrInvalidDefinition)
	}
	parent, _ := root.Attr("parentType")
	return &ctdHeader{name: name, parent: strings.TrimSpace(parent), root: root, source: data}, nil
}

func buildContentType(h *ctdHeader, parent *ContentType) (*ContentType, error) {
	ct := &ContentType{
		Name:           h.name,
		ParentTypeName: h.parent,
		Parent:         parent,
		Source:         h.source,
		fieldIndex:     map[string]*FieldSetting{},
	}
	ct.Handler, _ = h.root.Attr("handler")
	if v, ok := h.root.ChildText("DisplayName"); ok {
		ct.DisplayName = v
	}
	if v, ok := h.root.ChildText("Description"); ok {
		ct.Description = v
	}
	if v, ok := h.root.ChildText("Icon"); ok {
		ct.Icon = v
	}

	if parent != nil {
		ct.AllowedChildTypes = parent.AllowedChildTypes
		ct.restrictChildren = parent.restrictChildren
		if ct.Icon == "" {
			ct.Icon = parent.Icon
		}
		for _, fs := range parent.FieldSettings {
			ct.FieldSettings = append(ct.FieldSettings, fs)
			ct.fieldIndex[fs.Name] = fs
		}
	}
	if v, ok := h.root.ChildText("AllowedChildTypes"); ok {
		ct.restrictChildren = true
		ct.AllowedChildTypes = []string{}
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				ct.AllowedChildTypes = append(ct.AllowedChildTypes, t)
			}
		}
	}

	if fields := h.root.Child("Fields"); fields != nil {
		own := map[string]bool{}
		for _, el := range fields.ChildrenNamed("Field") {
			name, _ := el.Attr("name")
			if own[name] {
				return nil, fmt.Errorf("%w: field %s declared twice in %s", ErrInvalidDefinition, name, ct.Name)
			}
			own[name] = true
			inherited := ct.fieldIndex[name]
			fs, err := newFieldSetting(el, ct, inherited)
			if err != nil {
				return nil, err
			}
			if inherited != nil {
				for i, f := range ct.FieldSettings {
					if f == inherited {
						ct.FieldSettings[i] = fs
						break
					}
				}
			} else {
				ct.FieldSettings = append(ct.FieldSettings, fs)
			}
			ct.fieldIndex[fs.Name] = fs
		}
	}
	return ct, nil
}

//go:embed ctd/*.xml
var builtinCTDs embed.FS

// Manager holds the installed content types.
type Manager struct {
	mu    sync.RWMutex
	types map[string]*ContentType
}

// NewManager creates a manager with the built-in content types installed.
func NewManager() (*Manager, error) {
	m := &Manager{types: map[string]*ContentType{}}
	var docs [][]byte
	err := fs.WalkDir(builtinCTDs, "ctd", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinCTDs.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := m.Install(docs...); err != nil {
		return nil, fmt.Errorf("install built-in content types: %w", err)
	}
	return m, nil
}

// Install parses and installs CTD documents. Documents may arrive in any
// order; parents are installed before their children. Reinstalling a type
// replaces it together with the types derived from it.
func (m *Manager) Install(docs ...[]byte) ([]*ContentType, error) {
	pending := map[string]*ctdHeader{}
	var order []string
	for _, d := range docs {
		h, err := parseHeader(d)
		if err != nil {
			return nil, err
		}
		if _, dup := pending[h.name]; dup {
			return nil, fmt.Errorf("%w: content type %s defined twice", ErrInvalidDefinition, h.name)
		}
		pending[h.name] = h
		order = append(order, h.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]*ContentType, len(m.types))
	for k, v := range m.types {
		staged[k] = v
	}
	var installed []*ContentType
	done := map[string]bool{}
	var install func(name string, visiting map[string]bool) error
	install = func(name string, visiting map[string]bool) error {
		if done[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("%w: inheritance cycle at %s", ErrInvalidDefinition, name)
		}
		visiting[name] = true
		h := pending[name]
		var parent *ContentType
		if h.parent != "" {
			if _, ok := pending[h.parent]; ok {
				if err := install(h.parent, visiting); err != nil {
					return err
				}
			}
			p, ok := staged[h.parent]
			if !ok {
				return fmt.Errorf("%w: parent type %s of %s", ErrContentTypeNotFound, h.parent, name)
			}
			parent = p
		}
		ct, err := buildContentType(h, parent)
		if err != nil {
			return err
		}
		staged[name] = ct
		done[name] = true
		installed = append(installed, ct)
		return nil
	}
	for _, name := range order {
		if err := install(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	if err := m.rebuildDescendants(staged, done); err != nil {
		return nil, err
	}
	m.types = staged
	return installed, nil
}

// InstallDir installs every *.ContentType and *.xml file found below dir.
func (m *Manager) InstallDir(dir string) ([]*ContentType, error) {
	var docs [][]byte
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".contenttype", ".xml":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read content types from %s: %w", dir, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return m.Install(docs...)
}

// rebuildDescendants re-parses existing types whose ancestor was replaced so
// they pick up the new inherited fields.
func (m *Manager) rebuildDescendants(staged map[string]*ContentType, replaced map[string]bool) error {
	changed := true
	for changed {
		changed = false
		for name, ct := range staged {
			if replaced[name] || ct.Parent == nil {
				continue
			}
			if staged[ct.ParentTypeName] == ct.Parent {
				continue
			}
			h, err := parseHeader(ct.Source)
			if err != nil {
				return err
			}
			rebuilt, err := buildContentType(h, staged[ct.ParentTypeName])
			if err != nil {
				return err
			}
			staged[name] = rebuilt
			changed = true
		}
	}
	return nil
}

// Get returns the named content type.
func (m *Manager) Get(name string) (*ContentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ct, ok := m.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContentTypeNotFound, name)
	}
	return ct, nil
}

// Types returns all installed content types ordered by name.
func (m *Manager) Types() []*ContentType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ContentType, 0, len(m.types))
	for _, ct := range m.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsA reports whether type name is ancestor or derives from it.
func (m *Manager) IsA(name, ancestor string) bool {
	ct, err := m.Get(name)
	if err != nil {
		return false
	}
	return ct.IsA(ancestor)
}

// Ancestry returns the type names from the root type down to name.
func (m *Manager) Ancestry(name string) ([]string, error) {
	ct, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return ct.Ancestry(), nil
}

// AllowsChild reports whether content of type child can be created under
// content of type parent.
func (m *Manager) AllowsChild(parent, child string) bool {
	p, err := m.Get(parent)
	if err != nil {
		return false
	}
	c, err := m.Get(child)
	if err != nil {
		return false
	}
	if !p.restrictChildren {
		return true
	}
	for _, allowed := range p.AllowedChildTypes {
		if c.IsA(allowed) {
			return true
		}
	}
	return false
}
