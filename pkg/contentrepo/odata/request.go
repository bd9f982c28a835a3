package odata

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

// Format selects the response shape.
type Format string

const (
	FormatVerbose   Format = "verbosejson"
	FormatTypeahead Format = "typeahead"
	FormatExport    Format = "export"
)

// MetadataLevel controls the __metadata member of entities.
type MetadataLevel string

const (
	MetadataNo      MetadataLevel = "no"
	MetadataMinimal MetadataLevel = "minimal"
	MetadataFull    MetadataLevel = "full"
)

// Request is a parsed OData request URL.
type Request struct {
	// Path is the repository path of the addressed collection or entity.
	Path string
	// ID addresses an entity by id (content(42)); 0 when Path is used.
	ID int

	IsEntity   bool
	IsMetadata bool
	IsCount    bool
	IsRawValue bool
	// Member is the property or operation segment after an entity.
	Member string

	Select      []string
	Expand      []string
	Filter      string
	Top         int
	Skip        int
	OrderBy     []contentrepo.OrderBy
	InlineCount bool
	Format      Format
	Metadata    MetadataLevel
}

// Kind names the request shape for logs and metrics.
func (r *Request) Kind() string {
	switch {
	case r.IsMetadata:
		return "metadata"
	case r.IsCount:
		return "count"
	case r.IsRawValue:
		return "value"
	case r.Member != "":
		return "member"
	case r.IsEntity:
		return "entity"
	}
	return "collection"
}

// ParseRequest parses the resource path below the service root and the
// query options.
func ParseRequest(resource string, query url.Values) (*Request, error) {
	req := &Request{}
	if err := req.parsePath(resource); err != nil {
		return nil, err
	}
	if err := req.parseQuery(query); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Request) parsePath(resource string) error {
	resource = strings.Trim(resource, "/")
	if resource == "$metadata" {
		r.IsMetadata = true
		return nil
	}
	if strings.HasSuffix(resource, "/$metadata") {
		r.IsMetadata = true
		resource = strings.TrimSuffix(resource, "/$metadata")
	}
	if resource == "" {
		return newError(http.StatusBadRequest, CodeInvalidRequest, "missing resource path")
	}

	segments := strings.Split(resource, "/")
	for i, seg := range segments {
		open := strings.Index(seg, "(")
		if open < 0 || !strings.HasSuffix(seg, ")") {
			continue
		}
		key := seg[open+1 : len(seg)-1]
		// names like "Folder(1)" are plain path segments
		if !isQuoted(key) && (i > 0 || !strings.EqualFold(seg[:open], "content")) {
			continue
		}
		if err := r.parseEntity(segments[:i], seg[:open], key); err != nil {
			return err
		}
		return r.parseMember(segments[i+1:])
	}

	if segments[len(segments)-1] == "$count" {
		r.IsCount = true
		segments = segments[:len(segments)-1]
	}
	r.Path = contentrepo.CleanPath(strings.Join(segments, "/"))
	if r.Path == "" {
		return newError(http.StatusBadRequest, CodeInvalidRequest, "missing resource path")
	}
	return nil
}

func (r *Request) parseEntity(parents []string, last, key string) error {
	r.IsEntity = true
	if len(parents) == 0 && strings.EqualFold(last, "content") {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || id <= 0 {
			return newError(http.StatusBadRequest, CodeInvalidRequest, "invalid content id %q", key)
		}
		r.ID = id
		return nil
	}
	name := strings.ReplaceAll(key[1:len(key)-1], "''", "'")
	if name == "" {
		return newError(http.StatusBadRequest, CodeInvalidRequest, "empty entity name")
	}
	container := append(append([]string{}, parents...), last)
	r.Path = contentrepo.JoinPath(contentrepo.CleanPath(strings.Join(container, "/")), name)
	return nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

func (r *Request) parseMember(rest []string) error {
	if r.IsMetadata {
		if len(rest) > 0 {
			return newError(http.StatusBadRequest, CodeInvalidRequest, "unexpected segment %q", rest[0])
		}
		return nil
	}
	switch len(rest) {
	case 0:
		return nil
	case 1:
	case 2:
		if rest[1] != "$value" {
			return newError(http.StatusBadRequest, CodeInvalidRequest, "unexpected segment %q", rest[1])
		}
		r.IsRawValue = true
	default:
		return newError(http.StatusBadRequest, CodeInvalidRequest, "unexpected segment %q", rest[2])
	}
	if rest[0] == "" || strings.HasPrefix(rest[0], "$") {
		return newError(http.StatusBadRequest, CodeInvalidRequest, "invalid member %q", rest[0])
	}
	r.Member = rest[0]
	return nil
}

func (r *Request) parseQuery(q url.Values) error {
	var err error
	if r.Top, err = nonNegative(q.Get("$top"), CodeInvalidTopParameter, CodeNegativeTopParameter, "$top"); err != nil {
		return err
	}
	if r.Skip, err = nonNegative(q.Get("$skip"), CodeInvalidSkipParameter, CodeNegativeSkipParameter, "$skip"); err != nil {
		return err
	}
	if r.Select, err = parseList(q.Get("$select"), CodeInvalidSelectParameter, "$select"); err != nil {
		return err
	}
	if r.Expand, err = parseList(q.Get("$expand"), CodeInvalidExpandParameter, "$expand"); err != nil {
		return err
	}
	if r.OrderBy, err = parseOrderBy(q.Get("$orderby")); err != nil {
		return err
	}
	r.Filter = strings.TrimSpace(q.Get("$filter"))

	switch v := strings.ToLower(q.Get("$inlinecount")); v {
	case "", "none":
	case "allpages":
		r.InlineCount = true
	default:
		return badRequest(CodeInvalidInlineCountParameter, "invalid $inlinecount value %q", v)
	}

	switch v := strings.ToLower(q.Get("$format")); v {
	case "", "json", "verbosejson":
		r.Format = FormatVerbose
	case "typeahead":
		r.Format = FormatTypeahead
	case "export":
		r.Format = FormatExport
	default:
		return badRequest(CodeInvalidFormatParameter, "invalid $format value %q", v)
	}

	switch v := MetadataLevel(strings.ToLower(q.Get("metadata"))); v {
	case "":
		r.Metadata = MetadataFull
	case MetadataNo, MetadataMinimal, MetadataFull:
		r.Metadata = v
	default:
		return badRequest(CodeInvalidMetadataParameter, "invalid metadata value %q", v)
	}
	return nil
}

func nonNegative(v, invalid, negative, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, badRequest(invalid, "invalid %s value %q", name, v)
	}
	if n < 0 {
		return 0, badRequest(negative, "%s must not be negative", name)
	}
	return n, nil
}

func validPropertyPath(s string) bool {
	if s == "*" {
		return true
	}
	for _, part := range strings.Split(s, "/") {
		if part == "" {
			return false
		}
		for _, c := range part {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '*':
			default:
				return false
			}
		}
	}
	return true
}

func parseList(v, code, name string) ([]string, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if !validPropertyPath(item) {
			return nil, badRequest(code, "invalid %s item %q", name, item)
		}
		out = append(out, item)
	}
	return out, nil
}

func parseOrderBy(v string) ([]contentrepo.OrderBy, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var out []contentrepo.OrderBy
	for _, item := range strings.Split(v, ",") {
		parts := strings.Fields(item)
		if len(parts) == 0 || len(parts) > 2 || !validPropertyPath(parts[0]) || strings.Contains(parts[0], "/") {
			return nil, badRequest(CodeInvalidOrderByParameter, "invalid $orderby item %q", strings.TrimSpace(item))
		}
		o := contentrepo.OrderBy{Field: parts[0]}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				o.Desc = true
			default:
				return nil, badRequest(CodeInvalidOrderByParameter, "invalid sort direction %q", parts[1])
			}
		}
		out = append(out, o)
	}
	return out, nil
}
