package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// Export writes the content at sourcePath and its subtree into targetDir.
func (i *Importer) Export(ctx context.Context, sourcePath, targetDir string) (*Result, error) {
	c, err := i.svc.LoadByPath(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, err
	}
	result := &Result{}
	if err := i.exportContent(ctx, c, targetDir, result); err != nil {
		return result, err
	}
	i.logger.Info("export finished", "source", sourcePath, "target", targetDir, "count", result.Created)
	return result, nil
}

// skipOnExport reports fields that are not written to metadata files.
func skipOnExport(fs *schema.FieldSetting) bool {
	if fs.ReadOnly || fs.SlotName() == contentrepo.SlotName {
		return true
	}
	return fs.Type == "Password"
}

func (i *Importer) exportContent(ctx context.Context, c *contentrepo.Content, dir string, result *Result) error {
	children, err := i.svc.Children(ctx, c.Path(), contentrepo.Query{})
	if err != nil {
		return err
	}

	ectx := &exportContext{ctx: ctx, svc: i.svc, content: c, dir: dir, hasChildren: children.Total > 0, result: result}
	meta := &metadata{ContentType: c.TypeName(), ContentName: c.Name(), Fields: &schema.Element{}}
	for _, f := range c.Fields() {
		if skipOnExport(f.Setting) {
			continue
		}
		el, err := f.ExportXML(ectx)
		if err != nil {
			return fmt.Errorf("export %s: %w", c.Path(), err)
		}
		if el != nil {
			meta.Fields.Append(el)
		}
	}
	data, err := meta.marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, c.Name()+MetadataExt), data, 0644); err != nil {
		return err
	}
	result.Created++

	if len(children.Items) == 0 {
		return nil
	}
	childDir := filepath.Join(dir, c.Name())
	if err := os.MkdirAll(childDir, 0755); err != nil {
		return err
	}
	for _, child := range children.Items {
		if err := i.exportContent(ctx, child, childDir, result); err != nil {
			return err
		}
	}
	return nil
}

type exportContext struct {
	ctx         context.Context
	svc         contentrepo.Service
	content     *contentrepo.Content
	dir         string
	hasChildren bool
	result      *Result
}

func (e *exportContext) Context() context.Context { return e.ctx }

func (e *exportContext) PathOf(id int) (string, error) {
	c, err := e.svc.Load(e.ctx, id)
	if err != nil {
		return "", err
	}
	return c.Path(), nil
}

// WriteAttachment names the main binary of a leaf content after the content
// itself; other binaries get the field name appended.
func (e *exportContext) WriteAttachment(fs *schema.FieldSetting, data *schema.BinaryData) (string, error) {
	name := e.content.Name()
	if fs.Name != "Binary" || e.hasChildren {
		name = name + "." + fs.Name + filepath.Ext(data.FileName)
	}

	rc, _, err := e.svc.OpenBinary(e.ctx, e.content.ID(), fs.Name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.Create(filepath.Join(e.dir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	e.result.Attachments++
	return name, nil
}
