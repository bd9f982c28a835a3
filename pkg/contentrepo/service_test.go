package contentrepo_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
	memorystorage "github.com/tendant/content-odata/pkg/contentrepo/storage/memory"
)

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []contentrepo.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []contentrepo.Option{},
			expectError: true,
		},
		{
			name:    "with repository should succeed",
			options: []contentrepo.Option{contentrepo.WithRepository(memory.New())},
		},
		{
			name: "with repository and blob store should succeed",
			options: []contentrepo.Option{
				contentrepo.WithRepository(memory.New()),
				contentrepo.WithBlobStore("memory", memorystorage.New()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := contentrepo.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

type recordedEvent struct {
	kind    string
	path    string
	oldPath string
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) add(e recordedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) ContentCreated(ctx context.Context, n *contentrepo.Node) error {
	return s.add(recordedEvent{kind: "created", path: n.Path})
}

func (s *recordingSink) ContentUpdated(ctx context.Context, n *contentrepo.Node) error {
	return s.add(recordedEvent{kind: "updated", path: n.Path})
}

func (s *recordingSink) ContentDeleted(ctx context.Context, n *contentrepo.Node) error {
	return s.add(recordedEvent{kind: "deleted", path: n.Path})
}

func (s *recordingSink) ContentMoved(ctx context.Context, n *contentrepo.Node, oldPath string) error {
	return s.add(recordedEvent{kind: "moved", path: n.Path, oldPath: oldPath})
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.kind)
	}
	return out
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestService(t *testing.T) (contentrepo.Service, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	svc, err := contentrepo.New(
		contentrepo.WithRepository(memory.New()),
		contentrepo.WithBlobStore("memory", memorystorage.New()),
		contentrepo.WithEventSink(sink),
		contentrepo.WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return svc, sink
}

func createFolder(t *testing.T, svc contentrepo.Service, parent, name string) *contentrepo.Content {
	t.Helper()
	c, err := svc.Create(context.Background(), contentrepo.CreateRequest{ParentPath: parent, TypeName: "Folder", Name: name})
	require.NoError(t, err)
	return c
}

func TestBootstrap(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	root, err := svc.LoadByPath(ctx, "/Root")
	require.NoError(t, err)
	assert.Equal(t, contentrepo.RootID, root.ID())

	admin, err := svc.Load(ctx, contentrepo.AdminUserID)
	require.NoError(t, err)
	assert.Equal(t, "/Root/IMS/Admin", admin.Path())
	assert.Equal(t, "User", admin.TypeName())
	login, err := admin.Value("LoginName")
	require.NoError(t, err)
	assert.Equal(t, "admin", login)

	ims, err := svc.LoadByPath(ctx, "Root/IMS/")
	require.NoError(t, err)
	assert.Equal(t, contentrepo.IMSID, ims.ID())
}

func TestCreateContent(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()

	t.Run("folder with values", func(t *testing.T) {
		c, err := svc.Create(ctx, contentrepo.CreateRequest{
			ParentPath: "/Root",
			TypeName:   "Folder",
			Name:       "Docs",
			Values:     map[string]any{"DisplayName": "Documents", "Index": float64(3)},
		})
		require.NoError(t, err)
		assert.NotZero(t, c.ID())
		assert.Equal(t, "/Root/Docs", c.Path())
		assert.Equal(t, "Documents", c.DisplayName())
		assert.Equal(t, 3, c.Node.Index)
		assert.Equal(t, "V1.0.A", c.Node.Version)
		assert.Equal(t, contentrepo.AdminUserID, c.Node.CreatedByID)
		assert.Equal(t, testNow, c.Node.CreationDate)
		assert.Equal(t, []string{"created"}, sink.kinds())
	})

	t.Run("name derived from display name", func(t *testing.T) {
		req := contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Folder", Values: map[string]any{"DisplayName": "My: Folder"}}
		first, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "My- Folder", first.Name())

		second, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "My- Folder(1)", second.Name())
	})

	t.Run("name derived from type", func(t *testing.T) {
		c, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "Folder"})
		require.NoError(t, err)
		assert.Equal(t, "Folder", c.Name())
	})

	t.Run("defaults applied", func(t *testing.T) {
		c, err := svc.Create(ctx, contentrepo.CreateRequest{
			ParentPath: "/Root/IMS", TypeName: "User", Name: "jdoe",
			Values: map[string]any{"LoginName": "jdoe"},
		})
		require.NoError(t, err)
		enabled, err := c.Value("Enabled")
		require.NoError(t, err)
		assert.Equal(t, true, enabled)
	})

	t.Run("user context sets creator", func(t *testing.T) {
		user, err := svc.LoadByPath(ctx, "/Root/IMS/jdoe")
		require.NoError(t, err)
		c, err := svc.Create(contentrepo.WithUser(ctx, user.ID()), contentrepo.CreateRequest{
			ParentPath: "/Root", TypeName: "Folder", Name: "Mine",
		})
		require.NoError(t, err)
		assert.Equal(t, user.ID(), c.Node.CreatedByID)
		assert.Equal(t, user.ID(), c.Node.OwnerID)
	})
}

func TestCreateContent_Errors(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Docs")
	_, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "File", Name: "a.txt"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  contentrepo.CreateRequest
		want error
	}{
		{name: "duplicate name", req: contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Folder", Name: "Docs"}, want: contentrepo.ErrContentAlreadyExists},
		{name: "missing parent", req: contentrepo.CreateRequest{ParentPath: "/Root/Nope", TypeName: "Folder", Name: "x"}, want: contentrepo.ErrContentNotFound},
		{name: "unknown type", req: contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Nope", Name: "x"}, want: contentrepo.ErrContentTypeNotFound},
		{name: "invalid name", req: contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Folder", Name: "a/b"}, want: contentrepo.ErrInvalidName},
		{name: "type not allowed", req: contentrepo.CreateRequest{ParentPath: "/Root/Docs/a.txt", TypeName: "Folder", Name: "x"}, want: contentrepo.ErrTypeNotAllowed},
		{name: "unknown field", req: contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Folder", Name: "x", Values: map[string]any{"Nope": 1}}, want: contentrepo.ErrFieldNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateContent_Validation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, contentrepo.CreateRequest{
		ParentPath: "/Root/IMS", TypeName: "User", Name: "bad",
		Values: map[string]any{
			"Email":    "not-an-email",
			"Password": "123",
			"Manager":  []any{float64(contentrepo.RootID)},
			"Id":       float64(42),
		},
	})
	require.Error(t, err)

	var verr *contentrepo.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Email", "Id", "LoginName", "Manager", "Password"}, verr.Fields())
	assert.Equal(t, schema.CodeCompulsory, verr.Results["LoginName"].Code)
	assert.Equal(t, schema.CodeRegEx, verr.Results["Email"].Code)
	assert.Equal(t, schema.CodeMinLength, verr.Results["Password"].Code)
	assert.Equal(t, schema.CodeNotAllowedType, verr.Results["Manager"].Code)
	assert.Equal(t, schema.CodeReadOnly, verr.Results["Id"].Code)

	_, err = svc.LoadByPath(ctx, "/Root/IMS/bad")
	assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)
}

func TestUpdateContent(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()
	folder := createFolder(t, svc, "/Root", "Docs")
	child := createFolder(t, svc, "/Root/Docs", "Child")
	_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: folder.ID(), Values: map[string]any{"Description": "text"}})
	require.NoError(t, err)

	t.Run("merge keeps other fields", func(t *testing.T) {
		updated, err := svc.Update(ctx, contentrepo.UpdateRequest{
			ID:     folder.ID(),
			Values: map[string]any{"DisplayName": "Documents", "Id": float64(folder.ID())},
		})
		require.NoError(t, err)
		assert.Equal(t, "Documents", updated.DisplayName())
		desc, _ := updated.Value("Description")
		assert.Equal(t, "text", desc)
		assert.Equal(t, "V3.0.A", updated.Node.Version)
	})

	t.Run("reset clears missing fields", func(t *testing.T) {
		updated, err := svc.Update(ctx, contentrepo.UpdateRequest{
			ID:     folder.ID(),
			Values: map[string]any{"Index": float64(7)},
			Reset:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, 7, updated.Node.Index)
		desc, _ := updated.Value("Description")
		assert.Empty(t, desc)
		assert.Equal(t, contentrepo.AdminUserID, updated.Node.OwnerID)
		assert.Equal(t, "Docs", updated.Name())
	})

	t.Run("read only field rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: folder.ID(), Values: map[string]any{"Path": "/Root/Other"}})
		var verr *contentrepo.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, schema.CodeReadOnly, verr.Results["Path"].Code)
	})

	t.Run("rename moves subtree", func(t *testing.T) {
		renamed, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: folder.ID(), Values: map[string]any{"Name": "Papers"}})
		require.NoError(t, err)
		assert.Equal(t, "/Root/Papers", renamed.Path())

		moved, err := svc.Load(ctx, child.ID())
		require.NoError(t, err)
		assert.Equal(t, "/Root/Papers/Child", moved.Path())
		assert.Contains(t, sink.kinds(), "moved")
	})

	t.Run("rename root forbidden", func(t *testing.T) {
		_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: contentrepo.RootID, Values: map[string]any{"Name": "Top"}})
		assert.ErrorIs(t, err, contentrepo.ErrInvalidOperation)
	})
}

func TestUpdateContent_Password(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, contentrepo.CreateRequest{
		ParentPath: "/Root/IMS", TypeName: "User", Name: "jdoe",
		Values: map[string]any{"LoginName": "jdoe", "Password": "secret1"},
	})
	require.NoError(t, err)

	pw, err := user.Value("Password")
	require.NoError(t, err)
	assert.True(t, schema.CheckPassword(pw, "secret1"))

	updated, err := svc.Update(ctx, contentrepo.UpdateRequest{
		ID:     user.ID(),
		Values: map[string]any{"LoginName": "jdoe", "Password": ""},
		Reset:  true,
	})
	require.NoError(t, err)
	pw, err = updated.Value("Password")
	require.NoError(t, err)
	assert.True(t, schema.CheckPassword(pw, "secret1"))

	t.Run("longer than bcrypt accepts", func(t *testing.T) {
		_, err := svc.Create(ctx, contentrepo.CreateRequest{
			ParentPath: "/Root/IMS", TypeName: "User", Name: "long",
			Values: map[string]any{"LoginName": "long", "Password": strings.Repeat("p", 80)},
		})
		require.Error(t, err)
		_, err = svc.LoadByPath(ctx, "/Root/IMS/long")
		assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)

		_, err = svc.Update(ctx, contentrepo.UpdateRequest{ID: user.ID(), Values: map[string]any{"Password": strings.Repeat("p", 80)}})
		require.Error(t, err)
		current, err := svc.Load(ctx, user.ID())
		require.NoError(t, err)
		pw, err := current.Value("Password")
		require.NoError(t, err)
		assert.True(t, schema.CheckPassword(pw, "secret1"))
	})
}

func TestReferencesByPath(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	boss, err := svc.Create(ctx, contentrepo.CreateRequest{
		ParentPath: "/Root/IMS", TypeName: "User", Name: "boss",
		Values: map[string]any{"LoginName": "boss"},
	})
	require.NoError(t, err)

	user, err := svc.Create(ctx, contentrepo.CreateRequest{
		ParentPath: "/Root/IMS", TypeName: "User", Name: "jdoe",
		Values: map[string]any{"LoginName": "jdoe", "Manager": map[string]any{"Path": "/Root/IMS/boss"}},
	})
	require.NoError(t, err)

	manager, err := user.Value("Manager")
	require.NoError(t, err)
	assert.Equal(t, []int{boss.ID()}, manager)
}

func TestChildren(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Docs")
	for i, name := range []string{"c.txt", "a.txt", "b.txt"} {
		_, err := svc.Create(ctx, contentrepo.CreateRequest{
			ParentPath: "/Root/Docs", TypeName: "File", Name: name,
			Values: map[string]any{"Index": float64(i % 2)},
		})
		require.NoError(t, err)
	}
	createFolder(t, svc, "/Root/Docs", "Sub")

	names := func(r *contentrepo.QueryResult) []string {
		var out []string
		for _, c := range r.Items {
			out = append(out, c.Name())
		}
		return out
	}

	tests := []struct {
		name     string
		path     string
		query    contentrepo.Query
		expected []string
		total    int
	}{
		{name: "default order", path: "/Root/Docs", expected: []string{"b.txt", "c.txt", "Sub", "a.txt"}, total: 4},
		{name: "order by name desc", path: "/Root/Docs", query: contentrepo.Query{OrderBy: []contentrepo.OrderBy{{Field: "Name", Desc: true}}},
			expected: []string{"Sub", "c.txt", "b.txt", "a.txt"}, total: 4},
		{name: "paging", path: "/Root/Docs", query: contentrepo.Query{OrderBy: []contentrepo.OrderBy{{Field: "Name"}}, Skip: 1, Top: 2},
			expected: []string{"b.txt", "c.txt"}, total: 4},
		{name: "types", path: "/Root/Docs", query: contentrepo.Query{Types: []string{"Folder"}}, expected: []string{"Sub"}, total: 1},
		{name: "base type matches derived", path: "/Root", query: contentrepo.Query{Recursive: true, Types: []string{"GenericContent"}}, total: 7},
		{name: "filter", path: "/Root/Docs", query: contentrepo.Query{Filter: func(c *contentrepo.Content) bool {
			return strings.HasPrefix(c.Name(), "a")
		}}, expected: []string{"a.txt"}, total: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.Children(ctx, tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.total, r.Total)
			if tt.expected != nil {
				assert.Equal(t, tt.expected, names(r))
			}
		})
	}
}

func TestAncestors(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	ancestors, err := svc.Ancestors(ctx, contentrepo.AdminUserID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, "/Root", ancestors[0].Path())
	assert.Equal(t, "/Root/IMS", ancestors[1].Path())

	ancestors, err = svc.Ancestors(ctx, contentrepo.RootID)
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestDeleteContent(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()
	docs := createFolder(t, svc, "/Root", "Docs")
	sub := createFolder(t, svc, "/Root/Docs", "Sub")

	require.NoError(t, svc.Delete(ctx, docs.ID()))
	_, err := svc.Load(ctx, sub.ID())
	assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)
	assert.Contains(t, sink.kinds(), "deleted")

	assert.ErrorIs(t, svc.Delete(ctx, docs.ID()), contentrepo.ErrContentNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, contentrepo.RootID), contentrepo.ErrInvalidOperation)
	assert.ErrorIs(t, svc.Delete(ctx, contentrepo.IMSID), contentrepo.ErrInvalidOperation)
	assert.ErrorIs(t, svc.Delete(ctx, contentrepo.AdminUserID), contentrepo.ErrInvalidOperation)
}

func TestMoveContent(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()
	a := createFolder(t, svc, "/Root", "A")
	b := createFolder(t, svc, "/Root", "B")
	child := createFolder(t, svc, "/Root/A", "Child")

	moved, err := svc.Move(ctx, a.ID(), "/Root/B")
	require.NoError(t, err)
	assert.Equal(t, "/Root/B/A", moved.Path())

	c, err := svc.Load(ctx, child.ID())
	require.NoError(t, err)
	assert.Equal(t, "/Root/B/A/Child", c.Path())

	sink.mu.Lock()
	last := sink.events[len(sink.events)-1]
	sink.mu.Unlock()
	assert.Equal(t, recordedEvent{kind: "moved", path: "/Root/B/A", oldPath: "/Root/A"}, last)

	_, err = svc.Move(ctx, b.ID(), "/Root/B/A")
	assert.ErrorIs(t, err, contentrepo.ErrInvalidOperation)

	_, err = svc.Move(ctx, contentrepo.RootID, "/Root/B")
	assert.ErrorIs(t, err, contentrepo.ErrInvalidOperation)

	createFolder(t, svc, "/Root", "Child")
	_, err = svc.Move(ctx, child.ID(), "/Root")
	assert.ErrorIs(t, err, contentrepo.ErrContentAlreadyExists)
}

func TestBinaryOperations(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Docs")
	file, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "File", Name: "hello.txt"})
	require.NoError(t, err)

	_, _, err = svc.OpenBinary(ctx, file.ID(), "Binary")
	assert.ErrorIs(t, err, contentrepo.ErrBinaryNotFound)

	updated, err := svc.SaveBinary(ctx, contentrepo.SaveBinaryRequest{
		ID: file.ID(), Field: "Binary", FileName: "hello.txt", Reader: strings.NewReader("hello world"),
	})
	require.NoError(t, err)
	size, _ := updated.Value("Size")
	assert.Equal(t, 11, size)

	rc, bd, err := svc.OpenBinary(ctx, file.ID(), "Binary")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "hello.txt", bd.FileName)
	assert.Equal(t, "memory", bd.Backend)
	assert.Contains(t, bd.ContentType, "text/plain")
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", bd.Checksum)

	t.Run("replace deletes old blob", func(t *testing.T) {
		store, err := svc.GetBackend("memory")
		require.NoError(t, err)
		oldKey := bd.BlobKey

		_, err = svc.SaveBinary(ctx, contentrepo.SaveBinaryRequest{
			ID: file.ID(), Field: "Binary", FileName: "v2.txt", Reader: strings.NewReader("second"),
		})
		require.NoError(t, err)
		_, err = store.Download(ctx, oldKey)
		assert.ErrorIs(t, err, contentrepo.ErrBlobNotFound)
	})

	t.Run("not a binary field", func(t *testing.T) {
		_, err := svc.SaveBinary(ctx, contentrepo.SaveBinaryRequest{
			ID: file.ID(), Field: "DisplayName", FileName: "x", Reader: strings.NewReader("x"),
		})
		assert.ErrorIs(t, err, contentrepo.ErrInvalidValue)
	})

	t.Run("download url unsupported by memory store", func(t *testing.T) {
		_, err := svc.GetDownloadURL(ctx, file.ID(), "Binary")
		assert.Error(t, err)
	})
}

func TestCopyContent(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Src")
	createFolder(t, svc, "/Root", "Dst")
	createFolder(t, svc, "/Root/Src", "Sub")
	file, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Src/Sub", TypeName: "File", Name: "f.txt"})
	require.NoError(t, err)
	_, err = svc.SaveBinary(ctx, contentrepo.SaveBinaryRequest{ID: file.ID(), Field: "Binary", FileName: "f.txt", Reader: strings.NewReader("data")})
	require.NoError(t, err)

	src, err := svc.LoadByPath(ctx, "/Root/Src")
	require.NoError(t, err)
	copied, err := svc.Copy(ctx, src.ID(), "/Root/Dst")
	require.NoError(t, err)
	assert.Equal(t, "/Root/Dst/Src", copied.Path())
	assert.NotEqual(t, src.ID(), copied.ID())

	copiedFile, err := svc.LoadByPath(ctx, "/Root/Dst/Src/Sub/f.txt")
	require.NoError(t, err)
	rc, bd, err := svc.OpenBinary(ctx, copiedFile.ID(), "Binary")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "data", string(data))

	_, orig, err := svc.OpenBinary(ctx, file.ID(), "Binary")
	require.NoError(t, err)
	assert.NotEqual(t, orig.BlobKey, bd.BlobKey)

	_, err = svc.Copy(ctx, src.ID(), "/Root/Dst")
	assert.ErrorIs(t, err, contentrepo.ErrContentAlreadyExists)

	_, err = svc.Copy(ctx, src.ID(), "/Root/Src/Sub")
	assert.ErrorIs(t, err, contentrepo.ErrInvalidOperation)
}

func TestRate(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	ctd := `<ContentType name="Article" parentType="Folder" handler="Folder">
  <Fields>
    <Field name="Stars" type="Rating" />
  </Fields>
</ContentType>`
	_, err := svc.Types().Install([]byte(ctd))
	require.NoError(t, err)

	article, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Article", Name: "post"})
	require.NoError(t, err)

	_, err = svc.Rate(ctx, article.ID(), "Stars", 5)
	require.NoError(t, err)
	rated, err := svc.Rate(ctx, article.ID(), "Stars", 2)
	require.NoError(t, err)

	v, err := rated.Value("Stars")
	require.NoError(t, err)
	r := v.(*schema.RatingData)
	assert.Equal(t, 2, r.Count)
	assert.InDelta(t, 3.5, r.Average, 0.001)

	_, err = svc.Rate(ctx, article.ID(), "Stars", 9)
	assert.ErrorIs(t, err, contentrepo.ErrInvalidValue)
	_, err = svc.Rate(ctx, article.ID(), "Name", 3)
	assert.ErrorIs(t, err, contentrepo.ErrInvalidValue)
}

func TestBackends(t *testing.T) {
	svc, _ := setupTestService(t)

	_, err := svc.GetBackend("missing")
	assert.ErrorIs(t, err, contentrepo.ErrStorageBackendNotFound)

	other := memorystorage.New()
	svc.RegisterBackend("other", other)
	got, err := svc.GetBackend("other")
	require.NoError(t, err)
	assert.Same(t, other, got)

	def, err := svc.GetBackend("")
	require.NoError(t, err)
	assert.NotSame(t, other, def)
}

func TestUpdateContent_BinaryOnlyThroughUpload(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Docs")
	a, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "File", Name: "a.txt"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "File", Name: "b.txt"})
	require.NoError(t, err)
	_, err = svc.SaveBinary(ctx, contentrepo.SaveBinaryRequest{ID: a.ID(), Field: "Binary", FileName: "a.txt", Reader: strings.NewReader("secret")})
	require.NoError(t, err)
	_, bd, err := svc.OpenBinary(ctx, a.ID(), "Binary")
	require.NoError(t, err)

	_, err = svc.Update(ctx, contentrepo.UpdateRequest{ID: b.ID(), Values: map[string]any{
		"Binary": map[string]any{"blob_key": bd.BlobKey, "backend": bd.Backend, "file_name": "a.txt"},
	}})
	assert.ErrorIs(t, err, contentrepo.ErrInvalidValue)

	_, err = svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root/Docs", TypeName: "File", Name: "c.txt", Values: map[string]any{
		"Binary": map[string]any{"blob_key": bd.BlobKey, "backend": bd.Backend},
	}})
	assert.ErrorIs(t, err, contentrepo.ErrInvalidValue)

	require.NoError(t, svc.Delete(ctx, b.ID()))
	rc, _, err := svc.OpenBinary(ctx, a.ID(), "Binary")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "secret", string(data))

	t.Run("echoed media resource ignored", func(t *testing.T) {
		_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: a.ID(), Values: map[string]any{
			"DisplayName": "A",
			"Binary":      map[string]any{"__mediaresource": map[string]any{"media_src": "/binaryhandler/1/Binary"}},
		}})
		require.NoError(t, err)
		_, got, err := svc.OpenBinary(ctx, a.ID(), "Binary")
		require.NoError(t, err)
		assert.Equal(t, bd.BlobKey, got.BlobKey)
	})

	t.Run("reset keeps binary", func(t *testing.T) {
		_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: a.ID(), Values: map[string]any{}, Reset: true})
		require.NoError(t, err)
		_, got, err := svc.OpenBinary(ctx, a.ID(), "Binary")
		require.NoError(t, err)
		assert.Equal(t, bd.BlobKey, got.BlobKey)
	})
}

func TestChildren_OrderByVersion(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	createFolder(t, svc, "/Root", "Docs")
	often := createFolder(t, svc, "/Root/Docs", "often")
	once := createFolder(t, svc, "/Root/Docs", "once")

	for i := 0; i < 9; i++ {
		_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: often.ID(), Values: map[string]any{"Index": float64(i)}})
		require.NoError(t, err)
	}
	_, err := svc.Update(ctx, contentrepo.UpdateRequest{ID: once.ID(), Values: map[string]any{"Index": float64(1)}})
	require.NoError(t, err)

	r, err := svc.Children(ctx, "/Root/Docs", contentrepo.Query{OrderBy: []contentrepo.OrderBy{{Field: "Version"}}})
	require.NoError(t, err)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "V2.0.A", r.Items[0].Node.Version)
	assert.Equal(t, "V10.0.A", r.Items[1].Node.Version)
}

func TestReferences_SelectionRoots(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	ctd := `<ContentType name="Task" parentType="Folder" handler="Folder">
  <Fields>
    <Field name="Assignee" type="Reference">
      <Configuration>
        <SelectionRoot>
          <Path>/Root/IMS</Path>
        </SelectionRoot>
      </Configuration>
    </Field>
    <Field name="Attachment" type="Reference">
      <Configuration>
        <SelectionRoot>
          <Path>.</Path>
        </SelectionRoot>
      </Configuration>
    </Field>
  </Fields>
</ContentType>`
	_, err := svc.Types().Install([]byte(ctd))
	require.NoError(t, err)
	createFolder(t, svc, "/Root", "Docs")

	task, err := svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Task", Name: "t1",
		Values: map[string]any{"Assignee": map[string]any{"Path": "/Root/IMS/Admin"}}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, contentrepo.CreateRequest{ParentPath: "/Root", TypeName: "Task", Name: "t2",
		Values: map[string]any{"Assignee": map[string]any{"Path": "/Root/Docs"}}})
	var verr *contentrepo.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.CodeOutOfSelectionRoot, verr.Results["Assignee"].Code)

	own := createFolder(t, svc, "/Root/t1", "files")
	_, err = svc.Update(ctx, contentrepo.UpdateRequest{ID: task.ID(), Values: map[string]any{"Attachment": map[string]any{"Path": own.Path()}}})
	require.NoError(t, err)

	_, err = svc.Update(ctx, contentrepo.UpdateRequest{ID: task.ID(), Values: map[string]any{"Attachment": map[string]any{"Path": "/Root/Docs"}}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.CodeOutOfSelectionRoot, verr.Results["Attachment"].Code)
}

func TestBackends_ConcurrentRegister(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			svc.RegisterBackend("extra"+strings.Repeat("x", i), memorystorage.New())
		}(i)
		go func() {
			defer wg.Done()
			_, err := svc.StoreBlob(ctx, "f.txt", "", strings.NewReader("data"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bd, err := svc.StoreBlob(ctx, "f.txt", "", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "memory", bd.Backend)
}
