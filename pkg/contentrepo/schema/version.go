package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// VersionNumber is a content version such as V1.0.A.
type VersionNumber struct {
	Major  int
	Minor  int
	Status string
}

// InitialVersion is the version of newly created content.
var InitialVersion = VersionNumber{Major: 1, Minor: 0, Status: "A"}

// ParseVersion parses the V<major>.<minor>.<status> form.
func ParseVersion(s string) (VersionNumber, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToUpper(s), "V") {
		return VersionNumber{}, fmt.Errorf("%w: version %q", ErrInvalidValue, s)
	}
	parts := strings.Split(s[1:], ".")
	if len(parts) != 3 {
		return VersionNumber{}, fmt.Errorf("%w: version %q", ErrInvalidValue, s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return VersionNumber{}, fmt.Errorf("%w: version %q", ErrInvalidValue, s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return VersionNumber{}, fmt.Errorf("%w: version %q", ErrInvalidValue, s)
	}
	return VersionNumber{Major: major, Minor: minor, Status: strings.ToUpper(parts[2])}, nil
}

func (v VersionNumber) String() string {
	return fmt.Sprintf("V%d.%d.%s", v.Major, v.Minor, v.Status)
}

// SortKey renders the version with fixed-width numbers so that keys
// order like the versions they stand for.
func (v VersionNumber) SortKey() string {
	return fmt.Sprintf("V%010d.%010d.%s", v.Major, v.Minor, v.Status)
}

// VersionSortKey returns the sort key of s when it is a version number and
// s unchanged otherwise.
func VersionSortKey(s string) string {
	v, err := ParseVersion(s)
	if err != nil {
		return s
	}
	return v.SortKey()
}

// NextMajor returns the following major version.
func (v VersionNumber) NextMajor() VersionNumber {
	return VersionNumber{Major: v.Major + 1, Minor: 0, Status: v.Status}
}

type versionHandler struct{ baseHandler }

func (versionHandler) TypeName() string { return "Version" }

func (versionHandler) ParseConfig(base any, el *Element) (any, error) { return nil, nil }

func (versionHandler) ParseText(fs *FieldSetting, text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return ParseVersion(text)
}

func (h versionHandler) ImportXML(ctx ImportContext, fs *FieldSetting, el *Element) (any, error) {
	return h.ParseText(fs, el.Text)
}

func (versionHandler) ExportXML(ctx ExportContext, fs *FieldSetting, value any, el *Element) error {
	if v, ok := value.(VersionNumber); ok {
		el.Text = v.String()
	}
	return nil
}

func toVersion(fs *FieldSetting, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case VersionNumber:
		return t, nil
	case string:
		return versionHandler{}.ParseText(fs, t)
	}
	return nil, invalidValue(fs, v)
}

func (versionHandler) ToSlot(fs *FieldSetting, value any) (any, error) {
	v, err := toVersion(fs, value)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(VersionNumber).String(), nil
}

func (versionHandler) FromSlot(fs *FieldSetting, slot any) (any, error) { return toVersion(fs, slot) }

func (versionHandler) FromJSON(fs *FieldSetting, raw any) (any, error) { return toVersion(fs, raw) }

func (versionHandler) ToJSON(fs *FieldSetting, value any) any {
	if v, ok := value.(VersionNumber); ok {
		return v.String()
	}
	return nil
}

func (versionHandler) Validate(fs *FieldSetting, value any) *ValidationResult { return nil }

func (versionHandler) Comparable(fs *FieldSetting, value any) any {
	if v, ok := value.(VersionNumber); ok {
		return v.SortKey()
	}
	return nil
}
