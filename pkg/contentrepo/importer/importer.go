// Package importer moves content trees between the repository and a
// directory of .Content metadata files.
//
// A directory entry X.Content describes the content X; its children live in
// the directory X next to it. Directories without metadata become folders,
// other files become File contents unless a metadata file references them as
// an attachment.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

const (
	// MetadataExt is the extension of content metadata files.
	MetadataExt = ".Content"

	// ContentTypesDir is the directory of an import source holding content
	// type definitions.
	ContentTypesDir = "ContentTypes"
)

// Result summarizes an import or export run.
type Result struct {
	Created      int
	Updated      int
	ContentTypes int
	Attachments  int
}

// Importer imports and exports content trees.
type Importer struct {
	svc    contentrepo.Service
	logger *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger used for progress messages.
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an importer working on svc.
func New(svc contentrepo.Service, opts ...Option) *Importer {
	i := &Importer{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InstallContentTypes installs the content type definitions found in dir.
func (i *Importer) InstallContentTypes(dir string) (int, error) {
	installed, err := i.svc.Types().InstallDir(dir)
	if err != nil {
		return 0, err
	}
	for _, ct := range installed {
		i.logger.Info("content type installed", "name", ct.Name, "parent", ct.ParentTypeName)
	}
	return len(installed), nil
}

// pendingRef is a reference field set after every content exists.
type pendingRef struct {
	path  string
	field string
	el    *schema.Element
	dir   string
}

type importRun struct {
	*Importer
	ctx     context.Context
	result  *Result
	pending []pendingRef
}

// Import loads the tree found in sourceDir below targetPath. A ContentTypes
// directory directly inside sourceDir is installed first.
func (i *Importer) Import(ctx context.Context, sourceDir, targetPath string) (*Result, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import source %s is not a directory", sourceDir)
	}
	if _, err := i.svc.LoadByPath(ctx, targetPath); err != nil {
		return nil, fmt.Errorf("import target %s: %w", targetPath, err)
	}

	run := &importRun{Importer: i, ctx: ctx, result: &Result{}}

	ctdDir := filepath.Join(sourceDir, ContentTypesDir)
	if st, err := os.Stat(ctdDir); err == nil && st.IsDir() {
		n, err := i.InstallContentTypes(ctdDir)
		if err != nil {
			return run.result, err
		}
		run.result.ContentTypes = n
	}

	if err := run.importDir(sourceDir, contentrepo.CleanPath(targetPath), true); err != nil {
		return run.result, err
	}
	if err := run.resolveReferences(); err != nil {
		return run.result, err
	}
	i.logger.Info("import finished", "source", sourceDir, "target", targetPath,
		"created", run.result.Created, "updated", run.result.Updated)
	return run.result, nil
}

// entry is one content found in a source directory.
type entry struct {
	name     string
	meta     *metadata
	metaPath string
	file     string // plain file imported as File
	childDir string
}

func (r *importRun) scan(dir string, top bool) ([]*entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	byName := map[string]*entry{}
	attachments := map[string]bool{}
	get := func(name string) *entry {
		e, ok := byName[name]
		if !ok {
			e = &entry{name: name}
			byName[name] = e
		}
		return e
	}

	for _, it := range items {
		name := it.Name()
		if it.IsDir() || !strings.HasSuffix(name, MetadataExt) {
			continue
		}
		p := filepath.Join(dir, name)
		m, err := readMetadata(p)
		if err != nil {
			return nil, err
		}
		e := get(strings.TrimSuffix(name, MetadataExt))
		e.meta = m
		e.metaPath = p
		for _, a := range m.attachments() {
			attachments[filepath.Clean(a)] = true
		}
	}
	for _, it := range items {
		name := it.Name()
		switch {
		case strings.HasPrefix(name, "."):
		case it.IsDir():
			if top && name == ContentTypesDir {
				continue
			}
			get(name).childDir = filepath.Join(dir, name)
		case strings.HasSuffix(name, MetadataExt):
		case attachments[name]:
		default:
			e := get(name)
			if e.meta == nil {
				e.file = filepath.Join(dir, name)
			}
		}
	}

	out := make([]*entry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].name < out[b].name })
	return out, nil
}

func (r *importRun) importDir(dir, parentPath string, top bool) error {
	entries, err := r.scan(dir, top)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path, err := r.importEntry(dir, parentPath, e)
		if err != nil {
			return err
		}
		if e.childDir != "" {
			if err := r.importDir(e.childDir, path, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *importRun) importEntry(dir, parentPath string, e *entry) (string, error) {
	meta := e.meta
	if meta == nil {
		meta = &metadata{ContentType: "Folder"}
		if e.file != "" {
			meta = &metadata{ContentType: "File", Fields: &schema.Element{}}
			meta.Fields.Append(binaryElement("Binary", filepath.Base(e.file)))
		}
	}
	name := meta.ContentName
	if name == "" {
		name = e.name
	}
	path := contentrepo.JoinPath(parentPath, name)

	c, err := r.svc.LoadByPath(r.ctx, path)
	created := false
	switch {
	case errors.Is(err, contentrepo.ErrContentNotFound):
		c, err = r.svc.New(r.ctx, parentPath, meta.ContentType, name)
		if err != nil {
			return "", err
		}
		created = true
	case err != nil:
		return "", err
	}

	if meta.Fields != nil {
		ictx := &importContext{run: r, dir: dir}
		for idx := range meta.Fields.Children {
			el := &meta.Fields.Children[idx]
			f, ok := c.Field(el.Name())
			if !ok {
				r.logger.Warn("unknown field skipped", "path", path, "field", el.Name())
				continue
			}
			if schema.IsReference(f.Setting) {
				r.pending = append(r.pending, pendingRef{path: path, field: el.Name(), el: el, dir: dir})
				continue
			}
			if err := f.ImportXML(ictx, el); err != nil {
				return "", fmt.Errorf("import %s field %s: %w", path, el.Name(), err)
			}
			if schema.IsBinary(f.Setting) {
				r.result.Attachments++
				syncSize(c, f)
			}
		}
	}

	if err := r.svc.Save(r.ctx, c); err != nil {
		return "", fmt.Errorf("import %s: %w", path, err)
	}
	if created {
		r.result.Created++
		r.logger.Debug("content created", "path", c.Path(), "type", c.TypeName())
	} else {
		r.result.Updated++
		r.logger.Debug("content updated", "path", c.Path(), "type", c.TypeName())
	}
	return c.Path(), nil
}

// syncSize mirrors the length of the main binary into the Size field.
func syncSize(c *contentrepo.Content, f *schema.Field) {
	if f.Name() != "Binary" {
		return
	}
	v, err := f.GetData()
	if err != nil {
		return
	}
	if bd, ok := v.(*schema.BinaryData); ok && bd != nil {
		if size, ok := c.Field("Size"); ok {
			_ = size.SetData(bd.Size)
		}
	}
}

func (r *importRun) resolveReferences() error {
	byPath := map[string][]pendingRef{}
	var order []string
	for _, p := range r.pending {
		if _, ok := byPath[p.path]; !ok {
			order = append(order, p.path)
		}
		byPath[p.path] = append(byPath[p.path], p)
	}
	for _, path := range order {
		c, err := r.svc.LoadByPath(r.ctx, path)
		if err != nil {
			return err
		}
		for _, p := range byPath[path] {
			f, _ := c.Field(p.field)
			if err := f.ImportXML(&importContext{run: r, dir: p.dir}, p.el); err != nil {
				return fmt.Errorf("import %s field %s: %w", path, p.field, err)
			}
		}
		if err := r.svc.Save(r.ctx, c); err != nil {
			return fmt.Errorf("import references of %s: %w", path, err)
		}
	}
	return nil
}

type importContext struct {
	run *importRun
	dir string
}

func (c *importContext) Context() context.Context { return c.run.ctx }

func (c *importContext) ResolvePath(path string) (int, error) {
	content, err := c.run.svc.LoadByPath(c.run.ctx, path)
	if err != nil {
		return 0, err
	}
	return content.ID(), nil
}

func (c *importContext) OpenAttachment(name string) (io.ReadCloser, error) {
	p := filepath.Join(c.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(c.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("attachment %s is outside of %s", name, c.dir)
	}
	return os.Open(p)
}

func (c *importContext) StoreBinary(fileName, contentType string, r io.Reader) (*schema.BinaryData, error) {
	return c.run.svc.StoreBlob(c.run.ctx, fileName, contentType, r)
}
