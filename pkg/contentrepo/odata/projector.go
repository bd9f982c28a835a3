package odata

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// ActionsField is the virtual field listing the operations of a content.
const ActionsField = "Actions"

// defaultFields are listed first when no $select is given.
var defaultFields = []string{"Id", "Path", "Type"}

// selection is one level of the $select/$expand tree.
type selection struct {
	// fields is nil when every field is selected
	fields   []string
	expanded map[string]*selection
}

func newSelection(selects, expands []string) *selection {
	root := &selection{}
	for _, e := range expands {
		node := root
		for _, part := range strings.Split(e, "/") {
			node = node.expand(part)
		}
	}
	for _, s := range selects {
		parts := strings.Split(s, "/")
		node := root
		for i, part := range parts {
			node.add(part)
			if i < len(parts)-1 {
				node = node.expand(part)
			}
		}
	}
	return root
}

func (s *selection) expand(name string) *selection {
	if s.expanded == nil {
		s.expanded = map[string]*selection{}
	}
	child, ok := s.expanded[name]
	if !ok {
		child = &selection{}
		s.expanded[name] = child
	}
	return child
}

func (s *selection) add(name string) {
	for _, f := range s.fields {
		if f == name {
			return
		}
	}
	s.fields = append(s.fields, name)
}

func (s *selection) selectsAll() bool {
	if s.fields == nil {
		return true
	}
	for _, f := range s.fields {
		if f == "*" {
			return true
		}
	}
	return false
}

// projector renders contents as OData entities.
type projector struct {
	ctx         context.Context
	svc         contentrepo.Service
	actions     *Registry
	serviceRoot string
	binaryRoot  string
	metadata    MetadataLevel
	format      Format
}

// entityURI is the canonical address of a content: <root>/Parent('Name').
func (p *projector) entityURI(c *contentrepo.Content) string {
	return EntityURI(p.serviceRoot, c.Path())
}

// EntityURI returns the OData address of the content at path.
func EntityURI(serviceRoot, path string) string {
	name := strings.ReplaceAll(contentrepo.NameOf(path), "'", "''")
	return strings.TrimSuffix(serviceRoot, "/") + contentrepo.ParentPath(path) + "('" + name + "')"
}

// fieldNames lists the names to render at one selection level.
func (p *projector) fieldNames(c *contentrepo.Content, sel *selection) []string {
	if !sel.selectsAll() {
		return sel.fields
	}
	names := append([]string{}, defaultFields...)
	seen := map[string]bool{"Id": true, "Path": true, "Type": true}
	for _, fs := range c.Type.FieldSettings {
		if !seen[fs.Name] {
			names = append(names, fs.Name)
			seen[fs.Name] = true
		}
	}
	for _, f := range sel.fields {
		if f != "*" && !seen[f] {
			names = append(names, f)
			seen[f] = true
		}
	}
	if !seen[ActionsField] {
		names = append(names, ActionsField)
	}
	return names
}

func (p *projector) project(c *contentrepo.Content, sel *selection) map[string]any {
	if p.format == FormatTypeahead {
		return map[string]any{
			"Name":        c.Name(),
			"DisplayName": c.DisplayName(),
			"Path":        c.Path(),
			"Type":        c.TypeName(),
		}
	}
	out := map[string]any{}
	if p.metadata != MetadataNo {
		out["__metadata"] = p.entityMetadata(c)
	}
	for _, name := range p.fieldNames(c, sel) {
		out[name] = p.fieldValue(c, name, sel)
	}
	return out
}

func (p *projector) entityMetadata(c *contentrepo.Content) map[string]any {
	md := map[string]any{
		"uri":  p.entityURI(c),
		"type": c.TypeName(),
	}
	if p.metadata == MetadataFull {
		actions, functions := []map[string]any{}, []map[string]any{}
		for _, a := range p.actions.Applicable(p.svc.Types(), c) {
			d := p.describeAction(c, a)
			if a.IsFunction {
				functions = append(functions, d)
			} else {
				actions = append(actions, d)
			}
		}
		md["actions"] = actions
		md["functions"] = functions
	}
	return md
}

func (p *projector) describeAction(c *contentrepo.Content, a *Action) map[string]any {
	params := make([]map[string]any, 0, len(a.Parameters))
	for _, prm := range a.Parameters {
		params = append(params, map[string]any{"name": prm.Name, "type": prm.Type, "required": prm.Required})
	}
	return map[string]any{
		"name":       a.Name,
		"title":      a.Title,
		"target":     p.entityURI(c) + "/" + a.Name,
		"forbidden":  false,
		"parameters": params,
	}
}

func (p *projector) deferred(c *contentrepo.Content, name string) map[string]any {
	return map[string]any{"__deferred": map[string]any{"uri": p.entityURI(c) + "/" + name}}
}

func (p *projector) fieldValue(c *contentrepo.Content, name string, sel *selection) any {
	nested, expanded := sel.expanded[name]
	if name == ActionsField {
		if _, ok := c.Field(name); !ok {
			if !expanded {
				return p.deferred(c, name)
			}
			return p.actionList(c)
		}
	}
	f, ok := c.Field(name)
	if !ok {
		return nil
	}
	switch {
	case schema.IsReference(f.Setting):
		if p.format == FormatExport {
			return p.referencePaths(f)
		}
		if !expanded {
			return p.deferred(c, name)
		}
		return p.expandReference(f, nested)
	case schema.IsBinary(f.Setting):
		return p.binaryValue(c, f)
	}
	if p.format == FormatExport {
		return p.exportValue(f)
	}
	v, err := f.JSON()
	if err != nil {
		slog.Warn("Cannot read field", "path", c.Path(), "field", name, "err", err)
		return nil
	}
	return v
}

func (p *projector) actionList(c *contentrepo.Content) []map[string]any {
	out := []map[string]any{}
	for _, a := range p.actions.Applicable(p.svc.Types(), c) {
		d := p.describeAction(c, a)
		d["isFunction"] = a.IsFunction
		out = append(out, d)
	}
	return out
}

// referenced loads the targets of a reference field, skipping missing ones.
func (p *projector) referenced(f *schema.Field) []*contentrepo.Content {
	v, err := f.GetData()
	if err != nil {
		return nil
	}
	ids, _ := v.([]int)
	out := make([]*contentrepo.Content, 0, len(ids))
	for _, id := range ids {
		target, err := p.svc.Load(p.ctx, id)
		if err != nil {
			slog.Debug("Skipping missing reference", "field", f.Name(), "id", id, "err", err)
			continue
		}
		out = append(out, target)
	}
	return out
}

func (p *projector) expandReference(f *schema.Field, sel *selection) any {
	targets := p.referenced(f)
	if schema.ReferenceConfigOf(f.Setting).AllowMultiple {
		items := make([]map[string]any, 0, len(targets))
		for _, t := range targets {
			items = append(items, p.project(t, sel))
		}
		return items
	}
	if len(targets) == 0 {
		return nil
	}
	return p.project(targets[0], sel)
}

func (p *projector) referencePaths(f *schema.Field) any {
	targets := p.referenced(f)
	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		paths = append(paths, t.Path())
	}
	if schema.ReferenceConfigOf(f.Setting).AllowMultiple {
		return paths
	}
	if len(paths) == 0 {
		return nil
	}
	return paths[0]
}

func (p *projector) binaryValue(c *contentrepo.Content, f *schema.Field) any {
	v, _ := f.GetData()
	bd, _ := v.(*schema.BinaryData)
	if p.format == FormatExport {
		if bd == nil {
			return nil
		}
		return bd.FileName
	}
	media := map[string]any{
		"edit_media": p.entityURI(c) + "/" + f.Name(),
		"media_src":  strings.TrimSuffix(p.binaryRoot, "/") + "/" + strconv.Itoa(c.ID()) + "/" + f.Name(),
	}
	if bd != nil {
		media["content_type"] = bd.ContentType
		media["media_etag"] = etagOf(bd)
	} else {
		media["content_type"] = nil
		media["media_etag"] = nil
	}
	return map[string]any{"__mediaresource": media}
}

func etagOf(bd *schema.BinaryData) string {
	if bd.Checksum != "" {
		return `"` + bd.Checksum + `"`
	}
	return `"` + bd.BlobKey + `"`
}

// exportValue renders a field value for people rather than programs.
func (p *projector) exportValue(f *schema.Field) any {
	v, err := f.GetData()
	if err != nil || schema.IsEmpty(v) {
		return nil
	}
	switch f.Setting.Type {
	case "Choice":
		values, _ := v.([]string)
		cfg := schema.ChoiceConfigOf(f.Setting)
		texts := make([]string, 0, len(values))
		for _, value := range values {
			texts = append(texts, cfg.DisplayText(value))
		}
		return strings.Join(texts, ", ")
	case "Rating":
		if r, ok := v.(*schema.RatingData); ok {
			return schema.RatingConfigOf(f.Setting).Round(r.Average)
		}
	}
	j, _ := f.JSON()
	return j
}
