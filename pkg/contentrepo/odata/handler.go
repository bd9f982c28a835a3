// Package odata exposes a content repository through an OData v2 style HTTP
// API: entity and collection addressing, query options, field projection,
// bound operations and the $metadata document.
package odata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

const (
	DefaultServiceRoot = "/odata.svc"
	DefaultBinaryRoot  = "/binaryhandler"

	// MethodMerge is the OData v2 partial update verb.
	MethodMerge = "MERGE"

	// ContentTypeProperty names the type of a content to create.
	ContentTypeProperty = "__ContentType"
)

func init() {
	chi.RegisterMethod(MethodMerge)
}

// Handler serves the OData API of a content repository.
type Handler struct {
	svc         contentrepo.Service
	serviceRoot string
	binaryRoot  string
	actions     *Registry
	filters     *FilterCompiler
	metrics     *Metrics
	cacheSize   int
	maxBody     int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithServiceRoot sets the path the API is mounted at; entity URIs start
// with it.
func WithServiceRoot(root string) Option {
	return func(h *Handler) {
		if root != "" {
			h.serviceRoot = "/" + strings.Trim(root, "/")
		}
	}
}

// WithBinaryRoot sets the path the binary download routes are mounted at.
func WithBinaryRoot(root string) Option {
	return func(h *Handler) {
		if root != "" {
			h.binaryRoot = "/" + strings.Trim(root, "/")
		}
	}
}

// WithActions replaces the operation registry.
func WithActions(r *Registry) Option {
	return func(h *Handler) {
		if r != nil {
			h.actions = r
		}
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithFilterCacheSize sets the number of compiled $filter programs kept.
func WithFilterCacheSize(n int) Option {
	return func(h *Handler) {
		h.cacheSize = n
	}
}

// WithMaxBodySize limits the request body of the OData routes; n <= 0
// removes the limit.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// New creates a handler serving svc.
func New(svc contentrepo.Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("odata: nil service")
	}
	h := &Handler{
		svc:         svc,
		serviceRoot: DefaultServiceRoot,
		binaryRoot:  DefaultBinaryRoot,
		cacheSize:   DefaultFilterCacheSize,
		maxBody:     DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.actions == nil {
		h.actions = DefaultRegistry()
	}
	filters, err := NewFilterCompiler(h.cacheSize)
	if err != nil {
		return nil, err
	}
	h.filters = filters
	return h, nil
}

// Actions returns the operation registry.
func (h *Handler) Actions() *Registry {
	return h.actions
}

// Routes returns the OData routes, to be mounted at the service root.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(MaxBodySize(h.maxBody))
	r.HandleFunc("/", h.serve)
	r.HandleFunc("/*", h.serve)
	return r
}

// BinaryRoutes returns the binary download routes, to be mounted at the
// binary root.
func (h *Handler) BinaryRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/{property}", h.GetBinary)
	r.Head("/{id}/{property}", h.GetBinary)
	return r
}

// GetBinary streams the blob of a binary field.
func (h *Handler) GetBinary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, badRequest(CodeInvalidRequest, "invalid content id %q", chi.URLParam(r, "id")))
		return
	}
	if err := streamBinary(w, r, h.svc, id, chi.URLParam(r, "property")); err != nil {
		writeError(w, r, err)
	}
}

func resourcePath(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(p); err == nil {
			p = u
		}
	}
	return p
}

// requestMethod honors the X-HTTP-Method override of tunneled POSTs.
func requestMethod(r *http.Request) string {
	if r.Method == http.MethodPost {
		if m := r.Header.Get("X-HTTP-Method"); m != "" {
			return strings.ToUpper(m)
		}
	}
	return r.Method
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	method := requestMethod(r)
	kind := "invalid"

	req, err := ParseRequest(resourcePath(r), r.URL.Query())
	if err == nil {
		kind = req.Kind()
		err = h.dispatch(ww, r, method, req)
	}
	if err != nil {
		writeError(ww, r, err)
	}
	h.metrics.observe(method, kind, ww.Status(), time.Since(start))
}

func methodNotAllowed(method string, req *Request) error {
	return newError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method %s is not allowed on %s requests", method, req.Kind())
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, method string, req *Request) error {
	switch {
	case req.IsMetadata:
		if method != http.MethodGet {
			return methodNotAllowed(method, req)
		}
		return h.getMetadata(w, r, req)
	case req.IsCount:
		if method != http.MethodGet {
			return methodNotAllowed(method, req)
		}
		return h.getCount(w, r, req)
	case !req.IsEntity:
		switch method {
		case http.MethodGet:
			return h.getCollection(w, r, req)
		case http.MethodPost:
			return h.createContent(w, r, req)
		}
		return methodNotAllowed(method, req)
	case req.Member != "":
		return h.member(w, r, method, req)
	}
	switch method {
	case http.MethodGet:
		return h.getEntity(w, r, req)
	case http.MethodPut:
		return h.updateContent(w, r, req, true)
	case http.MethodPatch, MethodMerge:
		return h.updateContent(w, r, req, false)
	case http.MethodDelete:
		return h.deleteContent(w, r, req)
	}
	return methodNotAllowed(method, req)
}

func (h *Handler) load(ctx context.Context, req *Request) (*contentrepo.Content, error) {
	if req.ID > 0 {
		return h.svc.Load(ctx, req.ID)
	}
	return h.svc.LoadByPath(ctx, req.Path)
}

func (h *Handler) projector(r *http.Request, req *Request) *projector {
	return &projector{
		ctx:         r.Context(),
		svc:         h.svc,
		actions:     h.actions,
		serviceRoot: h.serviceRoot,
		binaryRoot:  h.binaryRoot,
		metadata:    req.Metadata,
		format:      req.Format,
	}
}

func (h *Handler) query(req *Request) (contentrepo.Query, error) {
	q := contentrepo.Query{OrderBy: req.OrderBy, Top: req.Top, Skip: req.Skip}
	if req.Filter != "" {
		pred, err := h.filters.Predicate(req.Filter)
		if err != nil {
			return q, err
		}
		q.Filter = pred
	}
	return q, nil
}

func (h *Handler) children(r *http.Request, req *Request) (*contentrepo.QueryResult, error) {
	q, err := h.query(req)
	if err != nil {
		return nil, err
	}
	return h.svc.Children(r.Context(), req.Path, q)
}

func (h *Handler) getCollection(w http.ResponseWriter, r *http.Request, req *Request) error {
	res, err := h.children(r, req)
	if err != nil {
		return err
	}
	count := len(res.Items)
	if req.InlineCount {
		count = res.Total
	}
	h.writeContents(w, r, req, res.Items, count)
	return nil
}

func (h *Handler) writeContents(w http.ResponseWriter, r *http.Request, req *Request, items []*contentrepo.Content, count int) {
	p := h.projector(r, req)
	sel := newSelection(req.Select, req.Expand)
	out := make([]map[string]any, 0, len(items))
	for _, c := range items {
		out = append(out, p.project(c, sel))
	}
	writeCollection(w, r, req.Format, out, count)
}

// getCount answers the number of items the collection request would return.
func (h *Handler) getCount(w http.ResponseWriter, r *http.Request, req *Request) error {
	res, err := h.children(r, req)
	if err != nil {
		return err
	}
	writeCount(w, r, len(res.Items))
	return nil
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request, req *Request) error {
	c, err := h.load(r.Context(), req)
	if err != nil {
		return err
	}
	writeEntity(w, r, h.projector(r, req).project(c, newSelection(req.Select, req.Expand)))
	return nil
}

func (h *Handler) getMetadata(w http.ResponseWriter, r *http.Request, req *Request) error {
	types := h.svc.Types().Types()
	if req.Path != "" || req.ID > 0 {
		c, err := h.load(r.Context(), req)
		if err != nil {
			return err
		}
		types = h.creatableTypes(c)
	}
	doc, err := BuildMetadata(types)
	if err != nil {
		return err
	}
	writeMetadata(w, doc)
	return nil
}

// creatableTypes lists the types allowed below c together with their
// ancestors.
func (h *Handler) creatableTypes(c *contentrepo.Content) []*schema.ContentType {
	all := h.svc.Types().Types()
	keep := map[string]bool{}
	for _, t := range all {
		if h.svc.Types().AllowsChild(c.TypeName(), t.Name) {
			for _, name := range t.Ancestry() {
				keep[name] = true
			}
		}
	}
	out := make([]*schema.ContentType, 0, len(keep))
	for _, t := range all {
		if keep[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// readBody decodes a JSON object from the request body, from the "models"
// form value or from the plain form values. A one element array is
// accepted in place of the object.
func readBody(r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var raw []byte
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		models := r.FormValue("models")
		if models == "" {
			values := map[string]any{}
			for k, v := range r.Form {
				if len(v) > 0 {
					values[k] = v[0]
				}
			}
			return values, nil
		}
		raw = []byte(models)
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	if raw[0] == '[' {
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, badRequest(CodeInvalidRequest, "invalid request body: %v", err)
		}
		if len(list) == 0 {
			return map[string]any{}, nil
		}
		return list[0], nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, badRequest(CodeInvalidRequest, "invalid request body: %v", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

func (h *Handler) createContent(w http.ResponseWriter, r *http.Request, req *Request) error {
	values, err := readBody(r)
	if err != nil {
		return err
	}
	typeName, _ := values[ContentTypeProperty].(string)
	if typeName == "" {
		typeName = "Folder"
	}
	name, _ := values["Name"].(string)
	delete(values, "Name")

	c, err := h.svc.Create(r.Context(), contentrepo.CreateRequest{
		ParentPath: req.Path,
		TypeName:   typeName,
		Name:       name,
		Values:     values,
	})
	if err != nil {
		return err
	}
	w.Header().Set("Location", EntityURI(h.serviceRoot, c.Path()))
	render.Status(r, http.StatusCreated)
	writeEntity(w, r, h.projector(r, req).project(c, newSelection(req.Select, req.Expand)))
	return nil
}

func (h *Handler) updateContent(w http.ResponseWriter, r *http.Request, req *Request, reset bool) error {
	c, err := h.load(r.Context(), req)
	if err != nil {
		return err
	}
	values, err := readBody(r)
	if err != nil {
		return err
	}
	updated, err := h.svc.Update(r.Context(), contentrepo.UpdateRequest{ID: c.ID(), Values: values, Reset: reset})
	if err != nil {
		return err
	}
	writeEntity(w, r, h.projector(r, req).project(updated, newSelection(req.Select, req.Expand)))
	return nil
}

func (h *Handler) deleteContent(w http.ResponseWriter, r *http.Request, req *Request) error {
	c, err := h.load(r.Context(), req)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(r.Context(), c.ID()); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// member serves <entity>/Name: a property on GET unless only an operation
// has that name, an action on POST.
func (h *Handler) member(w http.ResponseWriter, r *http.Request, method string, req *Request) error {
	c, err := h.load(r.Context(), req)
	if err != nil {
		return err
	}
	_, isField := c.Field(req.Member)
	isField = isField || req.Member == ActionsField
	action, isAction := h.actions.Get(req.Member)

	switch method {
	case http.MethodGet:
		if isField {
			return h.getProperty(w, r, req, c)
		}
		if isAction && action.IsFunction && !req.IsRawValue {
			return h.invoke(w, r, req, c, action)
		}
	case http.MethodPost:
		if isAction && !action.IsFunction && !req.IsRawValue {
			return h.invoke(w, r, req, c, action)
		}
	}
	if !isField && !isAction {
		return newError(http.StatusNotFound, CodeNotFound, "%s has no field or operation %s", c.Path(), req.Member)
	}
	return methodNotAllowed(method, req)
}

func (h *Handler) getProperty(w http.ResponseWriter, r *http.Request, req *Request, c *contentrepo.Content) error {
	p := h.projector(r, req)
	sel := newSelection(req.Select, req.Expand)

	f, ok := c.Field(req.Member)
	if !ok {
		// the virtual Actions field
		writeProperty(w, r, req.Member, p.actionList(c))
		return nil
	}
	switch {
	case schema.IsBinary(f.Setting) && req.IsRawValue:
		return streamBinary(w, r, h.svc, c.ID(), f.Name())
	case req.IsRawValue:
		v, err := f.JSON()
		if err != nil {
			return err
		}
		writeRawValue(w, r, v)
		return nil
	case schema.IsReference(f.Setting):
		targets := p.referenced(f)
		if schema.ReferenceConfigOf(f.Setting).AllowMultiple {
			h.writeContents(w, r, req, targets, len(targets))
			return nil
		}
		if len(targets) == 0 {
			writeProperty(w, r, req.Member, nil)
			return nil
		}
		writeEntity(w, r, p.project(targets[0], sel))
		return nil
	}
	writeProperty(w, r, req.Member, p.fieldValue(c, req.Member, sel))
	return nil
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request, req *Request, c *contentrepo.Content, a *Action) error {
	if a.Applicable != nil && !a.Applicable(h.svc.Types(), c) {
		return badRequest(CodeInvalidOperation, "operation %s is not available on %s", a.Name, c.Path())
	}
	params := map[string]any{}
	if a.IsFunction {
		for k, v := range r.URL.Query() {
			if !strings.HasPrefix(k, "$") && k != "metadata" && len(v) > 0 {
				params[k] = v[0]
			}
		}
	} else {
		body, err := readBody(r)
		if err != nil {
			return err
		}
		params = body
	}

	result, err := a.Invoke(r.Context(), &Invocation{Service: h.svc, Content: c, Params: params, Request: r})
	if err != nil {
		return err
	}
	switch v := result.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case *contentrepo.Content:
		writeEntity(w, r, h.projector(r, req).project(v, newSelection(req.Select, req.Expand)))
	case []*contentrepo.Content:
		h.writeContents(w, r, req, v, len(v))
	default:
		render.JSON(w, r, v)
	}
	return nil
}
