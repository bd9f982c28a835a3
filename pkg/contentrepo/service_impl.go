package contentrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/content-odata/pkg/contentrepo/blobkey"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// service implements the Service interface
type service struct {
	repository     Repository
	eventSink      EventSink
	types          *schema.Manager
	keyGenerator   blobkey.Generator
	now            func() time.Time
	defaultBackend string

	backendMu  sync.RWMutex
	blobStores map[string]BlobStore

	bootMu sync.Mutex
	booted bool
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds a blob storage backend. The first backend added becomes
// the default unless WithDefaultBackend names another one.
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
		if s.defaultBackend == "" {
			s.defaultBackend = name
		}
	}
}

// WithDefaultBackend selects the backend new binaries are stored in
func WithDefaultBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithContentTypes sets the content type manager; a manager with the
// built-in types is created otherwise
func WithContentTypes(m *schema.Manager) Option {
	return func(s *service) {
		s.types = m
	}
}

// WithKeyGenerator sets the blob key generation strategy
func WithKeyGenerator(g blobkey.Generator) Option {
	return func(s *service) {
		s.keyGenerator = g
	}
}

// WithClock overrides the time source used for content dates
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:   make(map[string]BlobStore),
		keyGenerator: blobkey.NewGitLikeGenerator(),
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.types == nil {
		m, err := schema.NewManager()
		if err != nil {
			return nil, err
		}
		s.types = m
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}

	return s, nil
}

func (s *service) Types() *schema.Manager {
	return s.types
}

// ensureRoot creates /Root, /Root/IMS and the administrator the first time
// the repository is used.
func (s *service) ensureRoot(ctx context.Context) error {
	s.bootMu.Lock()
	defer s.bootMu.Unlock()
	if s.booted {
		return nil
	}

	_, err := s.repository.GetNodeByPath(ctx, RootPath)
	if err == nil {
		s.booted = true
		return nil
	}
	if !errors.Is(err, ErrContentNotFound) {
		return err
	}

	now := s.now()
	nodes := []*Node{
		{ID: RootID, Name: "Root", Path: RootPath, TypeName: "Folder"},
		{ID: IMSID, ParentID: RootID, Name: "IMS", Path: IMSPath, TypeName: "Folder",
			Properties: map[string]any{"DisplayName": "Identity management"}},
		{ID: AdminUserID, ParentID: IMSID, Name: "Admin", Path: JoinPath(IMSPath, "Admin"), TypeName: "User",
			Properties: map[string]any{"LoginName": "admin", "FullName": "Administrator", "Enabled": true}},
	}
	for _, n := range nodes {
		n.Version = schema.InitialVersion.String()
		n.CreatedByID, n.ModifiedByID, n.OwnerID = AdminUserID, AdminUserID, AdminUserID
		n.CreationDate, n.ModificationDate = now, now
		if err := s.repository.CreateNode(ctx, n); err != nil && !errors.Is(err, ErrContentAlreadyExists) {
			return fmt.Errorf("bootstrap %s: %w", n.Path, err)
		}
	}
	slog.Info("Bootstrapped content repository", "root", RootPath)
	s.booted = true
	return nil
}

func (s *service) contentOf(n *Node) (*Content, error) {
	ct, err := s.types.Get(n.TypeName)
	if err != nil {
		return nil, &ContentError{ID: n.ID, Path: n.Path, Op: "load", Err: err}
	}
	return NewContent(n, ct), nil
}

// Content read operations

func (s *service) Load(ctx context.Context, id int) (*Content, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	n, err := s.repository.GetNode(ctx, id)
	if err != nil {
		return nil, &ContentError{ID: id, Op: "load", Err: err}
	}
	return s.contentOf(n)
}

func (s *service) LoadByPath(ctx context.Context, path string) (*Content, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	path = CleanPath(path)
	n, err := s.repository.GetNodeByPath(ctx, path)
	if err != nil {
		return nil, &ContentError{Path: path, Op: "load", Err: err}
	}
	return s.contentOf(n)
}

// expandTypes lists the installed types deriving from any of names.
func (s *service) expandTypes(names []string) []string {
	var out []string
	for _, ct := range s.types.Types() {
		for _, name := range names {
			if ct.IsA(name) {
				out = append(out, ct.Name)
				break
			}
		}
	}
	return out
}

func (s *service) Children(ctx context.Context, path string, query Query) (*QueryResult, error) {
	parent, err := s.LoadByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	nq := NodeQuery{ParentPath: parent.Path(), Recursive: query.Recursive}
	if len(query.Types) > 0 {
		nq.Types = s.expandTypes(query.Types)
		if len(nq.Types) == 0 {
			return &QueryResult{Items: []*Content{}}, nil
		}
	}
	nodes, err := s.repository.ListNodes(ctx, nq)
	if err != nil {
		return nil, &ContentError{ID: parent.ID(), Path: parent.Path(), Op: "list", Err: err}
	}

	items := make([]*Content, 0, len(nodes))
	for _, n := range nodes {
		c, err := s.contentOf(n)
		if err != nil {
			slog.Warn("Skipping content with unknown type", "path", n.Path, "type", n.TypeName)
			continue
		}
		if query.Filter != nil && !query.Filter(c) {
			continue
		}
		items = append(items, c)
	}

	total := len(items)
	SortContents(items, query.OrderBy)
	return &QueryResult{Items: Page(items, query.Skip, query.Top), Total: total}, nil
}

// Ancestors returns the parents of a content from /Root downwards.
func (s *service) Ancestors(ctx context.Context, id int) ([]*Content, error) {
	c, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []*Content
	for pid := c.Node.ParentID; pid != 0; {
		n, err := s.repository.GetNode(ctx, pid)
		if err != nil {
			return nil, &ContentError{ID: pid, Op: "ancestors", Err: err}
		}
		pc, err := s.contentOf(n)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
		pid = n.ParentID
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Write operations

func (s *service) New(ctx context.Context, parentPath, typeName, name string) (*Content, error) {
	parent, err := s.LoadByPath(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	ct, err := s.types.Get(typeName)
	if err != nil {
		return nil, &ContentError{Path: JoinPath(parent.Path(), name), Op: "create", Err: err}
	}
	node := &Node{
		ParentID: parent.ID(),
		Name:     name,
		Path:     JoinPath(parent.Path(), name),
		TypeName: ct.Name,
	}
	c := NewContent(node, ct)
	if err := c.applyDefaults(); err != nil {
		return nil, &ContentError{Path: node.Path, Op: "create", Err: err}
	}
	return c, nil
}

func (s *service) Save(ctx context.Context, c *Content) error {
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	if c.Node.ID == 0 {
		return s.create(ctx, c)
	}
	return s.update(ctx, c)
}

var forbiddenNameChars = `/\:*?"<>|'`

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, forbiddenNameChars) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

var nameReplacer = regexp.MustCompile(`[/\\:*?"<>|']+`)

func sanitizeName(s string) string {
	return strings.TrimSpace(nameReplacer.ReplaceAllString(s, "-"))
}

func (s *service) create(ctx context.Context, c *Content) error {
	node := c.Node
	if err := checkName(node.Name); err != nil {
		return &ContentError{Path: node.Path, Op: "create", Err: err}
	}
	parent, err := s.repository.GetNode(ctx, node.ParentID)
	if err != nil {
		return &ContentError{ID: node.ParentID, Op: "create", Err: err}
	}
	node.TypeName = c.Type.Name
	node.Path = JoinPath(parent.Path, node.Name)
	if !s.types.AllowsChild(parent.TypeName, c.Type.Name) {
		return &ContentError{Path: node.Path, Op: "create",
			Err: fmt.Errorf("%w: %s under %s", ErrTypeNotAllowed, c.Type.Name, parent.TypeName)}
	}
	if err := s.validate(ctx, c, "create"); err != nil {
		return err
	}
	exists, err := s.repository.NameExists(ctx, parent.ID, node.Name)
	if err != nil {
		return &ContentError{Path: node.Path, Op: "create", Err: err}
	}
	if exists {
		return &ContentError{Path: node.Path, Op: "create", Err: ErrContentAlreadyExists}
	}

	user := UserFromContext(ctx)
	now := s.now()
	if node.Version == "" {
		node.Version = schema.InitialVersion.String()
	}
	if node.CreationDate.IsZero() {
		node.CreationDate = now
	}
	if node.ModificationDate.IsZero() {
		node.ModificationDate = now
	}
	if node.CreatedByID == 0 {
		node.CreatedByID = user
	}
	if node.ModifiedByID == 0 {
		node.ModifiedByID = user
	}
	if node.OwnerID == 0 {
		node.OwnerID = user
	}

	if err := s.repository.CreateNode(ctx, node); err != nil {
		return &ContentError{Path: node.Path, Op: "create", Err: err}
	}
	s.notify("created", node, s.eventSink.ContentCreated(ctx, node))
	return nil
}

func (s *service) update(ctx context.Context, c *Content) error {
	node := c.Node
	orig, err := s.repository.GetNode(ctx, node.ID)
	if err != nil {
		return &ContentError{ID: node.ID, Op: "update", Err: err}
	}

	// structural properties change through Move only
	node.ParentID = orig.ParentID
	node.Path = orig.Path
	node.TypeName = orig.TypeName
	node.CreationDate = orig.CreationDate
	node.CreatedByID = orig.CreatedByID

	renamed := orig.Name != node.Name
	if renamed {
		if orig.ID == RootID {
			return &ContentError{ID: node.ID, Path: orig.Path, Op: "rename", Err: ErrInvalidOperation}
		}
		if err := checkName(node.Name); err != nil {
			return &ContentError{ID: node.ID, Path: orig.Path, Op: "rename", Err: err}
		}
		exists, err := s.repository.NameExists(ctx, orig.ParentID, node.Name)
		if err != nil {
			return &ContentError{ID: node.ID, Path: orig.Path, Op: "rename", Err: err}
		}
		if exists {
			return &ContentError{ID: node.ID, Path: orig.Path, Op: "rename", Err: ErrContentAlreadyExists}
		}
	}
	if err := s.validate(ctx, c, "update"); err != nil {
		return err
	}

	if renamed {
		moved, err := s.repository.MoveNode(ctx, node.ID, orig.ParentID, node.Name)
		if err != nil {
			return &ContentError{ID: node.ID, Path: orig.Path, Op: "rename", Err: err}
		}
		node.Path = moved.Path
	}

	version, err := schema.ParseVersion(orig.Version)
	if err != nil {
		version = schema.InitialVersion
	} else {
		version = version.NextMajor()
	}
	node.Version = version.String()
	node.ModificationDate = s.now()
	node.ModifiedByID = UserFromContext(ctx)

	if err := s.repository.UpdateNode(ctx, node); err != nil {
		if renamed {
			if _, rerr := s.repository.MoveNode(ctx, node.ID, orig.ParentID, orig.Name); rerr != nil {
				slog.Error("Cannot restore name after failed update", "id", node.ID, "name", orig.Name, "err", rerr)
			}
			node.Name, node.Path = orig.Name, orig.Path
		}
		return &ContentError{ID: node.ID, Path: node.Path, Op: "update", Err: err}
	}
	s.notify("updated", node, s.eventSink.ContentUpdated(ctx, node))
	if renamed {
		s.notify("moved", node, s.eventSink.ContentMoved(ctx, node, orig.Path))
	}
	return nil
}

// validate runs field validation plus the reference target checks that
// need the repository.
func (s *service) validate(ctx context.Context, c *Content, op string) error {
	err := c.Validate()
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return &ContentError{ID: c.ID(), Path: c.Path(), Op: op, Err: err}
	}
	refs, err := s.checkReferences(ctx, c)
	if err != nil {
		return &ContentError{ID: c.ID(), Path: c.Path(), Op: op, Err: err}
	}
	if len(refs) > 0 {
		if verr == nil {
			verr = &ValidationError{Results: map[string]*schema.ValidationResult{}}
		}
		for name, r := range refs {
			if _, ok := verr.Results[name]; !ok {
				verr.Results[name] = r
			}
		}
	}
	if verr != nil {
		return &ContentError{ID: c.ID(), Path: c.Path(), Op: op, Err: verr}
	}
	return nil
}

func (s *service) checkReferences(ctx context.Context, c *Content) (map[string]*schema.ValidationResult, error) {
	out := map[string]*schema.ValidationResult{}
	for _, f := range c.Fields() {
		fs := f.Setting
		if !schema.IsReference(fs) || fs.ReadOnly {
			continue
		}
		cfg := schema.ReferenceConfigOf(fs)
		if len(cfg.AllowedTypes) == 0 && len(cfg.SelectionRoots) == 0 {
			continue
		}
		v, err := f.GetData()
		if err != nil {
			return nil, err
		}
		ids, _ := v.([]int)
		for _, id := range ids {
			n, err := s.repository.GetNode(ctx, id)
			if errors.Is(err, ErrContentNotFound) {
				out[fs.Name] = schema.Invalid(schema.CodeNotAllowedType, "id", id)
				break
			}
			if err != nil {
				return nil, err
			}
			if len(cfg.AllowedTypes) > 0 && !s.isAnyOf(n.TypeName, cfg.AllowedTypes) {
				out[fs.Name] = schema.Invalid(schema.CodeNotAllowedType, "id", id, "type", n.TypeName)
				break
			}
			if len(cfg.SelectionRoots) > 0 && !inSelectionRoots(n.Path, c.Path(), cfg.SelectionRoots) {
				out[fs.Name] = schema.Invalid(schema.CodeOutOfSelectionRoot, "id", id, "path", n.Path)
				break
			}
		}
	}
	return out, nil
}

// inSelectionRoots reports whether path lies in one of the roots. A "."
// root stands for the referring content itself.
func inSelectionRoots(path, self string, roots []string) bool {
	for _, root := range roots {
		if root == "." {
			root = self
		}
		if IsInTree(path, root) {
			return true
		}
	}
	return false
}

func (s *service) isAnyOf(typeName string, allowed []string) bool {
	for _, a := range allowed {
		if s.types.IsA(typeName, a) {
			return true
		}
	}
	return false
}

func (s *service) resolveReferences(ctx context.Context, v any) (any, error) {
	paths, ok := v.(schema.ReferencePaths)
	if !ok {
		return v, nil
	}
	ids := make([]int, 0, len(paths))
	for _, p := range paths {
		if id, err := strconv.Atoi(p); err == nil {
			ids = append(ids, id)
			continue
		}
		n, err := s.repository.GetNodeByPath(ctx, CleanPath(p))
		if err != nil {
			return nil, fmt.Errorf("resolve reference %s: %w", p, err)
		}
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// applyValues sets decoded client values on a content. Read-only fields may
// only be sent with their current value.
func (s *service) applyValues(ctx context.Context, c *Content, values map[string]any, reset bool) error {
	for name, raw := range values {
		if strings.HasPrefix(name, "__") {
			continue
		}
		fs, ok := c.Type.FieldSetting(name)
		if !ok {
			return &ContentError{ID: c.ID(), Path: c.Path(), Op: "set",
				Err: fmt.Errorf("%w: %s.%s", ErrFieldNotFound, c.Type.Name, name)}
		}
		if schema.IsBinary(fs) && schema.IsMediaResource(raw) {
			continue
		}
		v, err := fs.Handler().FromJSON(fs, raw)
		if fs.ReadOnly {
			if err != nil || fmt.Sprint(fs.Handler().Comparable(fs, v)) != fmt.Sprint(c.Comparable(name)) {
				c.markInvalid(name, schema.Invalid(schema.CodeReadOnly))
			}
			continue
		}
		if err != nil {
			return &ContentError{ID: c.ID(), Path: c.Path(), Op: "set " + name, Err: err}
		}
		if fs.Type == "Password" && schema.IsEmpty(v) {
			// passwords are never sent back, empty means unchanged
			continue
		}
		if v, err = s.resolveReferences(ctx, v); err != nil {
			return &ContentError{ID: c.ID(), Path: c.Path(), Op: "set " + name, Err: err}
		}
		if err := c.SetValue(name, v); err != nil {
			return &ContentError{ID: c.ID(), Path: c.Path(), Op: "set " + name, Err: err}
		}
	}
	if !reset {
		return nil
	}
	for _, f := range c.Fields() {
		fs := f.Setting
		if _, given := values[fs.Name]; given || fs.ReadOnly || fs.Type == "Password" || schema.IsBinary(fs) {
			continue
		}
		if slot := fs.SlotName(); slot == SlotName || slot == SlotOwnerID {
			continue
		}
		if err := c.resetField(f); err != nil {
			return &ContentError{ID: c.ID(), Path: c.Path(), Op: "reset " + fs.Name, Err: err}
		}
	}
	return nil
}

func (s *service) uniqueName(ctx context.Context, parentID int, base string) (string, error) {
	name := base
	for i := 1; ; i++ {
		exists, err := s.repository.NameExists(ctx, parentID, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s(%d)", base, i)
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Content, error) {
	c, err := s.New(ctx, req.ParentPath, req.TypeName, req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.applyValues(ctx, c, req.Values, false); err != nil {
		return nil, err
	}
	if c.Node.Name == "" {
		// derive a unique name from the display name or the type
		base := sanitizeName(c.DisplayName())
		if base == "" {
			base = c.Type.Name
		}
		name, err := s.uniqueName(ctx, c.Node.ParentID, base)
		if err != nil {
			return nil, &ContentError{Op: "create", Err: err}
		}
		c.Node.Name = name
	}
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) Update(ctx context.Context, req UpdateRequest) (*Content, error) {
	c, err := s.Load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.applyValues(ctx, c, req.Values, req.Reset); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) Delete(ctx context.Context, id int) error {
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	n, err := s.repository.GetNode(ctx, id)
	if err != nil {
		return &ContentError{ID: id, Op: "delete", Err: err}
	}
	if admin, err := s.repository.GetNode(ctx, AdminUserID); err == nil && IsInTree(admin.Path, n.Path) {
		return &ContentError{ID: id, Path: n.Path, Op: "delete", Err: ErrInvalidOperation}
	}
	if n.ID == RootID {
		return &ContentError{ID: id, Path: n.Path, Op: "delete", Err: ErrInvalidOperation}
	}

	deleted, err := s.repository.DeleteNode(ctx, id)
	if err != nil {
		return &ContentError{ID: id, Path: n.Path, Op: "delete", Err: err}
	}
	for _, d := range deleted {
		for _, bd := range s.binariesOf(d) {
			s.deleteBlob(ctx, bd)
		}
	}
	s.notify("deleted", n, s.eventSink.ContentDeleted(ctx, n))
	return nil
}

func (s *service) Move(ctx context.Context, id int, targetPath string) (*Content, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	n, err := s.repository.GetNode(ctx, id)
	if err != nil {
		return nil, &ContentError{ID: id, Op: "move", Err: err}
	}
	if n.ID == RootID {
		return nil, &ContentError{ID: id, Path: n.Path, Op: "move", Err: ErrInvalidOperation}
	}
	target, err := s.LoadByPath(ctx, targetPath)
	if err != nil {
		return nil, err
	}
	if IsInTree(target.Path(), n.Path) {
		return nil, &ContentError{ID: id, Path: n.Path, Op: "move",
			Err: fmt.Errorf("%w: cannot move into own subtree %s", ErrInvalidOperation, target.Path())}
	}
	if target.ID() == n.ParentID {
		return s.contentOf(n)
	}
	if !s.types.AllowsChild(target.TypeName(), n.TypeName) {
		return nil, &ContentError{ID: id, Path: n.Path, Op: "move",
			Err: fmt.Errorf("%w: %s under %s", ErrTypeNotAllowed, n.TypeName, target.TypeName())}
	}
	exists, err := s.repository.NameExists(ctx, target.ID(), n.Name)
	if err != nil {
		return nil, &ContentError{ID: id, Path: n.Path, Op: "move", Err: err}
	}
	if exists {
		return nil, &ContentError{ID: id, Path: n.Path, Op: "move", Err: ErrContentAlreadyExists}
	}

	oldPath := n.Path
	moved, err := s.repository.MoveNode(ctx, id, target.ID(), n.Name)
	if err != nil {
		return nil, &ContentError{ID: id, Path: oldPath, Op: "move", Err: err}
	}
	s.notify("moved", moved, s.eventSink.ContentMoved(ctx, moved, oldPath))
	return s.contentOf(moved)
}

func (s *service) Copy(ctx context.Context, id int, targetPath string) (*Content, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	src, err := s.repository.GetNode(ctx, id)
	if err != nil {
		return nil, &ContentError{ID: id, Op: "copy", Err: err}
	}
	target, err := s.LoadByPath(ctx, targetPath)
	if err != nil {
		return nil, err
	}
	if IsInTree(target.Path(), src.Path) {
		return nil, &ContentError{ID: id, Path: src.Path, Op: "copy",
			Err: fmt.Errorf("%w: cannot copy into own subtree %s", ErrInvalidOperation, target.Path())}
	}
	if !s.types.AllowsChild(target.TypeName(), src.TypeName) {
		return nil, &ContentError{ID: id, Path: src.Path, Op: "copy",
			Err: fmt.Errorf("%w: %s under %s", ErrTypeNotAllowed, src.TypeName, target.TypeName())}
	}
	exists, err := s.repository.NameExists(ctx, target.ID(), src.Name)
	if err != nil {
		return nil, &ContentError{ID: id, Path: src.Path, Op: "copy", Err: err}
	}
	if exists {
		return nil, &ContentError{ID: id, Path: src.Path, Op: "copy", Err: ErrContentAlreadyExists}
	}

	descendants, err := s.repository.ListNodes(ctx, NodeQuery{ParentPath: src.Path, Recursive: true})
	if err != nil {
		return nil, &ContentError{ID: id, Path: src.Path, Op: "copy", Err: err}
	}
	sort.SliceStable(descendants, func(i, j int) bool {
		return strings.Count(descendants[i].Path, "/") < strings.Count(descendants[j].Path, "/")
	})

	user := UserFromContext(ctx)
	now := s.now()
	newIDs := map[int]int{src.ParentID: target.ID()}
	newPaths := map[int]string{src.ParentID: target.Path()}
	var root *Node
	var blobs []*schema.BinaryData
	// rollback removes what a failed copy created so far
	rollback := func() {
		if root != nil {
			if _, err := s.repository.DeleteNode(ctx, root.ID); err != nil {
				slog.Error("Cannot remove partial copy", "path", root.Path, "err", err)
			}
		}
		for _, bd := range blobs {
			s.deleteBlob(ctx, bd)
		}
	}
	for _, orig := range append([]*Node{src}, descendants...) {
		n := orig.Clone()
		n.ID = 0
		n.ParentID = newIDs[orig.ParentID]
		n.Path = JoinPath(newPaths[orig.ParentID], n.Name)
		n.Version = schema.InitialVersion.String()
		n.CreationDate, n.ModificationDate = now, now
		n.CreatedByID, n.ModifiedByID = user, user
		copied, err := s.copyBlobs(ctx, n)
		blobs = append(blobs, copied...)
		if err != nil {
			rollback()
			return nil, &ContentError{ID: orig.ID, Path: orig.Path, Op: "copy", Err: err}
		}
		if err := s.repository.CreateNode(ctx, n); err != nil {
			rollback()
			return nil, &ContentError{ID: orig.ID, Path: n.Path, Op: "copy", Err: err}
		}
		newIDs[orig.ID] = n.ID
		newPaths[orig.ID] = n.Path
		if root == nil {
			root = n
		}
	}
	s.notify("created", root, s.eventSink.ContentCreated(ctx, root))
	return s.contentOf(root)
}

func (s *service) Rate(ctx context.Context, id int, field string, stars int) (*Content, error) {
	c, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	f, ok := c.Field(field)
	if !ok {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "rate", Err: fmt.Errorf("%w: %s", ErrFieldNotFound, field)}
	}
	if f.Setting.Type != "Rating" {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "rate",
			Err: fmt.Errorf("%w: %s is not a rating field", ErrInvalidValue, field)}
	}
	cur, err := f.GetData()
	if err != nil {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "rate", Err: err}
	}
	rating, _ := cur.(*schema.RatingData)
	if rating == nil {
		rating = schema.NewRating(schema.RatingConfigOf(f.Setting).Range)
	} else {
		rating = rating.Clone()
	}
	if err := rating.Vote(stars); err != nil {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "rate", Err: err}
	}
	if err := f.SetData(rating); err != nil {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "rate", Err: err}
	}
	if err := s.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Binary operations

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *service) StoreBlob(ctx context.Context, fileName, contentType string, reader io.Reader) (*schema.BinaryData, error) {
	s.backendMu.RLock()
	backend := s.defaultBackend
	s.backendMu.RUnlock()
	store, err := s.GetBackend(backend)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = schema.ContentTypeOf(fileName)
	}
	key := s.keyGenerator.GenerateKey(uuid.New(), &blobkey.KeyMetadata{FileName: fileName, ContentType: contentType})

	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(reader, hash)}
	if err := store.UploadWithParams(ctx, counter, UploadParams{ObjectKey: key, MimeType: contentType}); err != nil {
		return nil, &StorageError{Backend: backend, Key: key, Op: "upload", Err: err}
	}
	return &schema.BinaryData{
		BlobKey:     key,
		Backend:     backend,
		FileName:    fileName,
		ContentType: contentType,
		Size:        counter.n,
		Checksum:    hex.EncodeToString(hash.Sum(nil)),
		UpdatedAt:   s.now(),
	}, nil
}

func (s *service) SaveBinary(ctx context.Context, req SaveBinaryRequest) (*Content, error) {
	c, err := s.Load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	f, ok := c.Field(req.Field)
	if !ok {
		return nil, &ContentError{ID: req.ID, Path: c.Path(), Op: "upload", Err: fmt.Errorf("%w: %s", ErrFieldNotFound, req.Field)}
	}
	if !schema.IsBinary(f.Setting) {
		return nil, &ContentError{ID: req.ID, Path: c.Path(), Op: "upload",
			Err: fmt.Errorf("%w: %s is not a binary field", ErrInvalidValue, req.Field)}
	}
	old, _ := f.GetData()

	bd, err := s.StoreBlob(ctx, req.FileName, req.ContentType, req.Reader)
	if err != nil {
		return nil, err
	}
	if err := f.SetData(bd); err != nil {
		s.deleteBlob(ctx, bd)
		return nil, &ContentError{ID: req.ID, Path: c.Path(), Op: "upload", Err: err}
	}
	if size, ok := c.Field("Size"); ok && req.Field == "Binary" {
		if err := size.SetData(int(bd.Size)); err != nil {
			return nil, &ContentError{ID: req.ID, Path: c.Path(), Op: "upload", Err: err}
		}
	}
	if err := s.Save(ctx, c); err != nil {
		s.deleteBlob(ctx, bd)
		return nil, err
	}
	if prev, ok := old.(*schema.BinaryData); ok && prev != nil && prev.BlobKey != bd.BlobKey {
		s.deleteBlob(ctx, prev)
	}
	return c, nil
}

func (s *service) binaryOf(ctx context.Context, id int, field string) (*schema.BinaryData, error) {
	c, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := c.Value(field)
	if err != nil {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "download", Err: err}
	}
	bd, ok := v.(*schema.BinaryData)
	if !ok || bd == nil {
		return nil, &ContentError{ID: id, Path: c.Path(), Op: "download", Err: ErrBinaryNotFound}
	}
	return bd, nil
}

func (s *service) OpenBinary(ctx context.Context, id int, field string) (io.ReadCloser, *schema.BinaryData, error) {
	bd, err := s.binaryOf(ctx, id, field)
	if err != nil {
		return nil, nil, err
	}
	store, err := s.GetBackend(bd.Backend)
	if err != nil {
		return nil, nil, err
	}
	rc, err := store.Download(ctx, bd.BlobKey)
	if err != nil {
		return nil, nil, &StorageError{Backend: bd.Backend, Key: bd.BlobKey, Op: "download", Err: err}
	}
	return rc, bd, nil
}

func (s *service) GetDownloadURL(ctx context.Context, id int, field string) (string, error) {
	bd, err := s.binaryOf(ctx, id, field)
	if err != nil {
		return "", err
	}
	store, err := s.GetBackend(bd.Backend)
	if err != nil {
		return "", err
	}
	url, err := store.GetDownloadURL(ctx, bd.BlobKey, bd.FileName)
	if err != nil {
		return "", &StorageError{Backend: bd.Backend, Key: bd.BlobKey, Op: "download_url", Err: err}
	}
	return url, nil
}

// binariesOf returns the binary field values of a node.
func (s *service) binariesOf(n *Node) []*schema.BinaryData {
	ct, err := s.types.Get(n.TypeName)
	if err != nil {
		return nil
	}
	var out []*schema.BinaryData
	for _, fs := range ct.FieldSettings {
		if !schema.IsBinary(fs) {
			continue
		}
		slot, _ := n.Slot(fs.SlotName())
		v, err := fs.Handler().FromSlot(fs, slot)
		if err != nil {
			continue
		}
		if bd, ok := v.(*schema.BinaryData); ok && bd != nil {
			out = append(out, bd)
		}
	}
	return out
}

// copyBlobs duplicates the blobs of a node so the copy owns its data. It
// returns the blobs it stored, also on error.
func (s *service) copyBlobs(ctx context.Context, n *Node) ([]*schema.BinaryData, error) {
	ct, err := s.types.Get(n.TypeName)
	if err != nil {
		return nil, err
	}
	var stored []*schema.BinaryData
	for _, fs := range ct.FieldSettings {
		if !schema.IsBinary(fs) {
			continue
		}
		slot, _ := n.Slot(fs.SlotName())
		v, err := fs.Handler().FromSlot(fs, slot)
		if err != nil {
			return stored, err
		}
		bd, ok := v.(*schema.BinaryData)
		if !ok || bd == nil {
			continue
		}
		store, err := s.GetBackend(bd.Backend)
		if err != nil {
			return stored, err
		}
		rc, err := store.Download(ctx, bd.BlobKey)
		if err != nil {
			return stored, &StorageError{Backend: bd.Backend, Key: bd.BlobKey, Op: "download", Err: err}
		}
		copied, err := s.StoreBlob(ctx, bd.FileName, bd.ContentType, rc)
		rc.Close()
		if err != nil {
			return stored, err
		}
		stored = append(stored, copied)
		if err := n.SetSlot(fs.SlotName(), copied); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

func (s *service) deleteBlob(ctx context.Context, bd *schema.BinaryData) {
	store, err := s.GetBackend(bd.Backend)
	if err != nil {
		slog.Warn("Cannot delete blob", "key", bd.BlobKey, "backend", bd.Backend, "err", err)
		return
	}
	if err := store.Delete(ctx, bd.BlobKey); err != nil {
		slog.Warn("Failed to delete blob", "key", bd.BlobKey, "backend", bd.Backend, "err", err)
	}
}

// Storage backend operations

func (s *service) RegisterBackend(name string, backend BlobStore) {
	s.backendMu.Lock()
	defer s.backendMu.Unlock()
	s.blobStores[name] = backend
	if s.defaultBackend == "" {
		s.defaultBackend = name
	}
}

// GetBackend returns the named backend, the default one for an empty name.
func (s *service) GetBackend(name string) (BlobStore, error) {
	s.backendMu.RLock()
	defer s.backendMu.RUnlock()
	if name == "" {
		name = s.defaultBackend
	}
	store, ok := s.blobStores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStorageBackendNotFound, name)
	}
	return store, nil
}

// notify logs event sink failures; they never fail the operation.
func (s *service) notify(event string, n *Node, err error) {
	if err != nil {
		slog.Warn("Event sink failed", "event", event, "path", n.Path, "err", err)
	}
}
