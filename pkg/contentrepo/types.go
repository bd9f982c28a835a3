package contentrepo

import (
	"encoding/json"
	"math"
	"path"
	"strings"
	"time"
)

// Well known tree locations and identities.
const (
	RootPath = "/Root"
	IMSPath  = "/Root/IMS"

	AdminUserID = 1
	RootID      = 2
	IMSID       = 3
)

// System slot names. Fields bound to these slots read and write the
// first-class Node properties instead of the Properties map.
const (
	SlotID               = "Id"
	SlotParentID         = "ParentId"
	SlotName             = "Name"
	SlotPath             = "Path"
	SlotTypeName         = "TypeName"
	SlotVersion          = "Version"
	SlotIndex            = "Index"
	SlotCreatedByID      = "CreatedById"
	SlotModifiedByID     = "ModifiedById"
	SlotOwnerID          = "OwnerId"
	SlotCreationDate     = "CreationDate"
	SlotModificationDate = "ModificationDate"
)

// Node is the persisted form of a content.
type Node struct {
	ID               int            `json:"id"`
	ParentID         int            `json:"parent_id"`
	Name             string         `json:"name"`
	Path             string         `json:"path"`
	TypeName         string         `json:"type_name"`
	Version          string         `json:"version"`
	Index            int            `json:"index"`
	CreatedByID      int            `json:"created_by_id"`
	ModifiedByID     int            `json:"modified_by_id"`
	OwnerID          int            `json:"owner_id"`
	CreationDate     time.Time      `json:"creation_date"`
	ModificationDate time.Time      `json:"modification_date"`
	Properties       map[string]any `json:"properties,omitempty"`
}

// Slot returns the value stored under a slot name.
func (n *Node) Slot(name string) (any, bool) {
	switch name {
	case SlotID:
		return n.ID, true
	case SlotParentID:
		return n.ParentID, true
	case SlotName:
		return n.Name, true
	case SlotPath:
		return n.Path, true
	case SlotTypeName:
		return n.TypeName, true
	case SlotVersion:
		return n.Version, true
	case SlotIndex:
		return n.Index, true
	case SlotCreatedByID:
		return n.CreatedByID, true
	case SlotModifiedByID:
		return n.ModifiedByID, true
	case SlotOwnerID:
		return n.OwnerID, true
	case SlotCreationDate:
		if n.CreationDate.IsZero() {
			return nil, true
		}
		return n.CreationDate, true
	case SlotModificationDate:
		if n.ModificationDate.IsZero() {
			return nil, true
		}
		return n.ModificationDate, true
	}
	v, ok := n.Properties[name]
	return v, ok
}

// SetSlot stores a slot value. System slots coerce the value to the
// property type; single-valued reference slots take the first ID.
func (n *Node) SetSlot(name string, value any) error {
	switch name {
	case SlotID:
		n.ID = slotInt(value)
	case SlotParentID:
		n.ParentID = slotInt(value)
	case SlotName:
		n.Name = slotString(value)
	case SlotPath:
		n.Path = slotString(value)
	case SlotTypeName:
		n.TypeName = slotString(value)
	case SlotVersion:
		n.Version = slotString(value)
	case SlotIndex:
		n.Index = slotInt(value)
	case SlotCreatedByID:
		n.CreatedByID = slotInt(value)
	case SlotModifiedByID:
		n.ModifiedByID = slotInt(value)
	case SlotOwnerID:
		n.OwnerID = slotInt(value)
	case SlotCreationDate:
		n.CreationDate = slotTime(value)
	case SlotModificationDate:
		n.ModificationDate = slotTime(value)
	default:
		if value == nil {
			delete(n.Properties, name)
			return nil
		}
		if n.Properties == nil {
			n.Properties = map[string]any{}
		}
		n.Properties[name] = value
	}
	return nil
}

func slotInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(math.Trunc(t))
	case []int:
		if len(t) > 0 {
			return t[0]
		}
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	}
	return 0
}

func slotString(v any) string {
	s, _ := v.(string)
	return s
}

func slotTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Clone returns a copy that shares no mutable state with n.
func (n *Node) Clone() *Node {
	c := *n
	if n.Properties != nil {
		c.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = cloneSlot(v)
		}
	}
	return &c
}

func cloneSlot(v any) any {
	switch t := v.(type) {
	case []int:
		return append([]int(nil), t...)
	case []string:
		return append([]string(nil), t...)
	case []any:
		return append([]any(nil), t...)
	}
	return v
}

// NodeQuery selects nodes below a parent.
type NodeQuery struct {
	ParentPath string
	// Recursive includes every descendant, not only direct children
	Recursive bool
	// Types restricts the result to the listed type names (exact match)
	Types []string
}

// ObjectMeta contains metadata about a blob in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading a blob
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// JoinPath appends a child name to a parent path.
func JoinPath(parent, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// ParentPath returns the path of the parent of p, "" for the root.
func ParentPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// NameOf returns the last segment of a path.
func NameOf(p string) string {
	return path.Base(p)
}

// IsInTree reports whether p equals ancestor or lies below it.
func IsInTree(p, ancestor string) bool {
	return p == ancestor || strings.HasPrefix(p, strings.TrimSuffix(ancestor, "/")+"/")
}

// CleanPath normalizes a repository path: a single leading slash, no
// trailing slash and no empty segments.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + strings.Trim(p, "/"))
	if cleaned == "/" {
		return ""
	}
	return cleaned
}
