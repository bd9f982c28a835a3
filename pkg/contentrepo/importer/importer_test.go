package importer_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/importer"
	"github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
	memorystorage "github.com/tendant/content-odata/pkg/contentrepo/storage/memory"
)

const articleCTD = `<?xml version="1.0" encoding="utf-8"?>
<ContentType name="Article" parentType="GenericContent" handler="Article">
  <Fields>
    <Field name="Related" type="Reference">
      <Configuration>
        <AllowMultiple>true</AllowMultiple>
        <AllowedTypes><Type>Article</Type></AllowedTypes>
      </Configuration>
    </Field>
  </Fields>
</ContentType>`

func setupService(t *testing.T) contentrepo.Service {
	t.Helper()
	svc, err := contentrepo.New(
		contentrepo.WithRepository(memory.New()),
		contentrepo.WithBlobStore("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	return svc
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// buildSource lays out a small import tree:
//
//	ContentTypes/Article.ContentType
//	Docs.Content
//	Docs/readme.txt
//	Docs/guide.Content + guide.md
//	Docs/Notes/
//	Docs/a.Content (references b)
//	Docs/b.Content
func buildSource(t *testing.T) string {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "ContentTypes", "Article.ContentType"), articleCTD)
	write(t, filepath.Join(dir, "Docs.Content"), `<?xml version="1.0" encoding="utf-8"?>
<ContentMetaData>
  <ContentType>Folder</ContentType>
  <ContentName>Docs</ContentName>
  <Fields>
    <DisplayName>Documents</DisplayName>
  </Fields>
</ContentMetaData>`)
	write(t, filepath.Join(dir, "Docs", "readme.txt"), "hello")
	write(t, filepath.Join(dir, "Docs", "guide.Content"), `<ContentMetaData>
  <ContentType>File</ContentType>
  <Fields>
    <DisplayName>Guide</DisplayName>
    <Binary attachment="guide.md" />
    <Owner><Path>/Root/IMS/Admin</Path></Owner>
  </Fields>
</ContentMetaData>`)
	write(t, filepath.Join(dir, "Docs", "guide.md"), "# Guide")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Docs", "Notes"), 0755))
	write(t, filepath.Join(dir, "Docs", "a.Content"), `<ContentMetaData>
  <ContentType>Article</ContentType>
  <Fields>
    <Related><Path>/Root/Docs/b</Path></Related>
  </Fields>
</ContentMetaData>`)
	write(t, filepath.Join(dir, "Docs", "b.Content"), `<ContentMetaData>
  <ContentType>Article</ContentType>
</ContentMetaData>`)
	return dir
}

func readBinary(t *testing.T, svc contentrepo.Service, path string) string {
	t.Helper()
	c, err := svc.LoadByPath(context.Background(), path)
	require.NoError(t, err)
	rc, _, err := svc.OpenBinary(context.Background(), c.ID(), "Binary")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestImport(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	imp := importer.New(svc)

	result, err := imp.Import(ctx, buildSource(t), contentrepo.RootPath)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ContentTypes)
	assert.Equal(t, 6, result.Created)
	assert.Equal(t, 2, result.Attachments)

	t.Run("folder metadata", func(t *testing.T) {
		docs, err := svc.LoadByPath(ctx, "/Root/Docs")
		require.NoError(t, err)
		assert.Equal(t, "Folder", docs.TypeName())
		assert.Equal(t, "Documents", docs.DisplayName())
	})

	t.Run("plain file", func(t *testing.T) {
		readme, err := svc.LoadByPath(ctx, "/Root/Docs/readme.txt")
		require.NoError(t, err)
		assert.Equal(t, "File", readme.TypeName())
		size, err := readme.Value("Size")
		require.NoError(t, err)
		assert.Equal(t, 5, size)
		assert.Equal(t, "hello", readBinary(t, svc, "/Root/Docs/readme.txt"))
	})

	t.Run("attachment", func(t *testing.T) {
		assert.Equal(t, "# Guide", readBinary(t, svc, "/Root/Docs/guide"))
		_, err := svc.LoadByPath(ctx, "/Root/Docs/guide.md")
		assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)
	})

	t.Run("directory without metadata", func(t *testing.T) {
		notes, err := svc.LoadByPath(ctx, "/Root/Docs/Notes")
		require.NoError(t, err)
		assert.Equal(t, "Folder", notes.TypeName())
	})

	t.Run("forward reference", func(t *testing.T) {
		a, err := svc.LoadByPath(ctx, "/Root/Docs/a")
		require.NoError(t, err)
		b, err := svc.LoadByPath(ctx, "/Root/Docs/b")
		require.NoError(t, err)
		related, err := a.Value("Related")
		require.NoError(t, err)
		assert.Equal(t, []int{b.ID()}, related)
	})

	t.Run("content types directory is not content", func(t *testing.T) {
		_, err := svc.LoadByPath(ctx, "/Root/ContentTypes")
		assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)
	})

	t.Run("reimport updates", func(t *testing.T) {
		again, err := imp.Import(ctx, buildSource(t), contentrepo.RootPath)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Created)
		assert.Equal(t, 6, again.Updated)
	})
}

func TestImport_Errors(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	imp := importer.New(svc)

	_, err := imp.Import(ctx, filepath.Join(t.TempDir(), "missing"), contentrepo.RootPath)
	assert.Error(t, err)

	_, err = imp.Import(ctx, t.TempDir(), "/Root/Nowhere")
	assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)

	bad := t.TempDir()
	write(t, filepath.Join(bad, "x.Content"), `<ContentMetaData><Fields/></ContentMetaData>`)
	_, err = imp.Import(ctx, bad, contentrepo.RootPath)
	assert.ErrorContains(t, err, "missing ContentType")

	escape := t.TempDir()
	write(t, filepath.Join(escape, "f.Content"), `<ContentMetaData>
  <ContentType>File</ContentType>
  <Fields><Binary attachment="../secret" /></Fields>
</ContentMetaData>`)
	_, err = imp.Import(ctx, escape, contentrepo.RootPath)
	assert.ErrorContains(t, err, "outside")
}

func TestExportRoundTrip(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	imp := importer.New(svc)

	_, err := imp.Import(ctx, buildSource(t), contentrepo.RootPath)
	require.NoError(t, err)

	out := t.TempDir()
	result, err := imp.Export(ctx, "/Root/Docs", out)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Created)
	assert.Equal(t, 2, result.Attachments)

	assert.FileExists(t, filepath.Join(out, "Docs.Content"))
	assert.FileExists(t, filepath.Join(out, "Docs", "readme.txt.Content"))
	data, err := os.ReadFile(filepath.Join(out, "Docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	meta, err := os.ReadFile(filepath.Join(out, "Docs", "a.Content"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "<Path>/Root/Docs/b</Path>")
	assert.NotContains(t, string(meta), "<Id>")

	// import the export into a fresh repository
	fresh := setupService(t)
	_, err = fresh.Types().Install([]byte(articleCTD))
	require.NoError(t, err)
	freshResult, err := importer.New(fresh).Import(ctx, out, contentrepo.RootPath)
	require.NoError(t, err)
	assert.Equal(t, 6, freshResult.Created)

	assert.Equal(t, "# Guide", readBinary(t, fresh, "/Root/Docs/guide"))
	docs, err := fresh.LoadByPath(ctx, "/Root/Docs")
	require.NoError(t, err)
	assert.Equal(t, "Documents", docs.DisplayName())
}

func TestInstallContentTypes(t *testing.T) {
	svc := setupService(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, "Article.xml"), articleCTD)

	n, err := importer.New(svc).InstallContentTypes(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ct, err := svc.Types().Get("Article")
	require.NoError(t, err)
	fs, ok := ct.FieldSetting("Related")
	require.True(t, ok)
	assert.True(t, schema.IsReference(fs))
}
