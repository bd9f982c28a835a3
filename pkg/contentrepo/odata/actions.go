package odata

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// Parameter describes an operation parameter.
type Parameter struct {
	Name     string
	Type     string
	Required bool
}

// Invocation carries the input of one operation call.
type Invocation struct {
	Service contentrepo.Service
	Content *contentrepo.Content
	// Params holds the JSON body (actions) or query string (functions).
	Params  map[string]any
	Request *http.Request
}

// String returns a parameter as text.
func (inv *Invocation) String(name string) string {
	switch v := inv.Params[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a numeric parameter.
func (inv *Invocation) Int(name string) (int, error) {
	switch v := inv.Params[name].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, badRequest(CodeInvalidRequest, "parameter %s must be a number", name)
		}
		return n, nil
	case nil:
		return 0, badRequest(CodeInvalidRequest, "missing parameter %s", name)
	}
	return 0, badRequest(CodeInvalidRequest, "parameter %s must be a number", name)
}

// Action is an operation bound to a content. Functions are invoked with GET
// and must not change state; actions are invoked with POST.
type Action struct {
	Name       string
	Title      string
	IsFunction bool
	Parameters []Parameter
	// Applicable reports whether the operation is offered for a content;
	// nil means always.
	Applicable func(types *schema.Manager, c *contentrepo.Content) bool
	// Invoke runs the operation. A *contentrepo.Content result is rendered
	// as an entity, a []*contentrepo.Content as a collection, nil as
	// 204 No Content and anything else as plain JSON.
	Invoke func(ctx context.Context, inv *Invocation) (any, error)
}

// Registry holds the operations known to a handler.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates a registry holding the given actions.
func NewRegistry(actions ...*Action) *Registry {
	r := &Registry{actions: map[string]*Action{}}
	for _, a := range actions {
		r.Register(a)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in operations.
func DefaultRegistry() *Registry {
	return NewRegistry(BuiltinActions()...)
}

// Register adds or replaces an operation.
func (r *Registry) Register(a *Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// Get returns the named operation.
func (r *Registry) Get(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Applicable lists the operations offered for c ordered by name.
func (r *Registry) Applicable(types *schema.Manager, c *contentrepo.Content) []*Action {
	r.mu.RLock()
	out := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		if a.Applicable == nil || a.Applicable(types, c) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func notRoot(_ *schema.Manager, c *contentrepo.Content) bool {
	return c.ID() != contentrepo.RootID
}

// BuiltinActions returns the operations every handler offers.
func BuiltinActions() []*Action {
	return []*Action{
		{
			Name:       "MoveTo",
			Title:      "Move",
			Parameters: []Parameter{{Name: "targetPath", Type: "string", Required: true}},
			Applicable: notRoot,
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				target := inv.String("targetPath")
				if target == "" {
					return nil, badRequest(CodeInvalidRequest, "missing parameter targetPath")
				}
				return inv.Service.Move(ctx, inv.Content.ID(), target)
			},
		},
		{
			Name:       "CopyTo",
			Title:      "Copy",
			Parameters: []Parameter{{Name: "targetPath", Type: "string", Required: true}},
			Applicable: notRoot,
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				target := inv.String("targetPath")
				if target == "" {
					return nil, badRequest(CodeInvalidRequest, "missing parameter targetPath")
				}
				return inv.Service.Copy(ctx, inv.Content.ID(), target)
			},
		},
		{
			Name:       "Delete",
			Title:      "Delete",
			Applicable: notRoot,
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				return nil, inv.Service.Delete(ctx, inv.Content.ID())
			},
		},
		{
			Name:       "GetSchema",
			Title:      "Schema",
			IsFunction: true,
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				return inv.Content.Type.Describe(), nil
			},
		},
		{
			Name:       "Ancestors",
			Title:      "Ancestors",
			IsFunction: true,
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				return inv.Service.Ancestors(ctx, inv.Content.ID())
			},
		},
		{
			Name:  "Rate",
			Title: "Rate",
			Parameters: []Parameter{
				{Name: "value", Type: "int", Required: true},
				{Name: "field", Type: "string"},
			},
			Applicable: func(_ *schema.Manager, c *contentrepo.Content) bool { return ratingField(c) != "" },
			Invoke: func(ctx context.Context, inv *Invocation) (any, error) {
				stars, err := inv.Int("value")
				if err != nil {
					return nil, err
				}
				field := inv.String("field")
				if field == "" {
					field = ratingField(inv.Content)
				}
				return inv.Service.Rate(ctx, inv.Content.ID(), field, stars)
			},
		},
		{
			Name:  "Upload",
			Title: "Upload",
			Parameters: []Parameter{
				{Name: "FileName", Type: "string"},
				{Name: "PropertyName", Type: "string"},
				{Name: "ContentType", Type: "string"},
				{Name: "Overwrite", Type: "bool"},
			},
			Applicable: func(types *schema.Manager, c *contentrepo.Content) bool {
				return types.AllowsChild(c.TypeName(), "File")
			},
			Invoke: upload,
		},
	}
}

func ratingField(c *contentrepo.Content) string {
	for _, fs := range c.Type.FieldSettings {
		if fs.Type == "Rating" {
			return fs.Name
		}
	}
	return ""
}

// maxUploadMemory is the part of a multipart upload kept in memory.
const maxUploadMemory = 32 << 20

// upload stores a multipart file into a child of the target content, creating
// the child when it does not exist.
func upload(ctx context.Context, inv *Invocation) (any, error) {
	r := inv.Request
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, tooLarge(mbe.Limit)
		}
		return nil, badRequest(CodeInvalidRequest, "upload requires a multipart body: %v", err)
	}
	file, header, err := uploadedFile(r.MultipartForm)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	param := func(name, def string) string {
		if v := r.FormValue(name); v != "" {
			return v
		}
		return def
	}
	fileName := param("FileName", header.Filename)
	field := param("PropertyName", "Binary")
	typeName := param("ContentType", "File")
	overwrite := true
	if v := r.FormValue("Overwrite"); v != "" {
		overwrite, _ = strconv.ParseBool(v)
	}
	mimeType := header.Header.Get("Content-Type")

	parent := inv.Content
	if !inv.Service.Types().AllowsChild(parent.TypeName(), typeName) {
		return nil, &contentrepo.ContentError{ID: parent.ID(), Path: parent.Path(), Op: "upload",
			Err: fmt.Errorf("%w: %s under %s", contentrepo.ErrTypeNotAllowed, typeName, parent.TypeName())}
	}

	target, err := inv.Service.LoadByPath(ctx, contentrepo.JoinPath(parent.Path(), fileName))
	switch {
	case err == nil:
		if !overwrite {
			return nil, &contentrepo.ContentError{ID: target.ID(), Path: target.Path(), Op: "upload",
				Err: contentrepo.ErrContentAlreadyExists}
		}
	case errors.Is(err, contentrepo.ErrContentNotFound):
		target, err = inv.Service.Create(ctx, contentrepo.CreateRequest{
			ParentPath: parent.Path(),
			TypeName:   typeName,
			Name:       fileName,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return inv.Service.SaveBinary(ctx, contentrepo.SaveBinaryRequest{
		ID:          target.ID(),
		Field:       field,
		FileName:    fileName,
		ContentType: mimeType,
		Reader:      file,
	})
}

func uploadedFile(form *multipart.Form) (multipart.File, *multipart.FileHeader, error) {
	if form != nil {
		for _, key := range []string{"files[]", "file"} {
			if headers := form.File[key]; len(headers) > 0 {
				f, err := headers[0].Open()
				if err != nil {
					return nil, nil, err
				}
				return f, headers[0], nil
			}
		}
	}
	return nil, nil, badRequest(CodeInvalidRequest, "upload without a file part")
}
