package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
	memorystorage "github.com/tendant/content-odata/pkg/contentrepo/storage/memory"
)

const articleCTD = `<?xml version="1.0" encoding="utf-8"?>
<ContentType name="Article" parentType="GenericContent" handler="Article" xmlns="http://schemas.sensenet.com/SenseNet/ContentRepository/ContentTypeDefinition">
  <DisplayName>Article</DisplayName>
  <AllowedChildTypes>File</AllowedChildTypes>
  <Fields>
    <Field name="Rank" type="Integer" />
    <Field name="Category" type="Choice">
      <Configuration>
        <Options>
          <Option value="news" selected="true">News</Option>
          <Option value="blog">Blog</Option>
        </Options>
      </Configuration>
    </Field>
    <Field name="Related" type="Reference">
      <Configuration>
        <AllowMultiple>true</AllowMultiple>
      </Configuration>
    </Field>
    <Field name="Score" type="Rating" />
  </Fields>
</ContentType>`

func setupHandlerTest(t *testing.T) (contentrepo.Service, http.Handler) {
	t.Helper()
	types, err := schema.NewManager()
	require.NoError(t, err)
	_, err = types.Install([]byte(articleCTD))
	require.NoError(t, err)

	svc, err := contentrepo.New(
		contentrepo.WithRepository(memory.New()),
		contentrepo.WithBlobStore("memory", memorystorage.New()),
		contentrepo.WithContentTypes(types),
	)
	require.NoError(t, err)

	h, err := New(svc)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount(DefaultServiceRoot, h.Routes())
	r.Mount(DefaultBinaryRoot, h.BinaryRoutes())

	createContent(t, svc, "/Root", "Folder", "Docs", nil)
	return svc, r
}

func createContent(t *testing.T, svc contentrepo.Service, parent, typeName, name string, values map[string]any) *contentrepo.Content {
	t.Helper()
	c, err := svc.Create(context.Background(), contentrepo.CreateRequest{
		ParentPath: parent, TypeName: typeName, Name: name, Values: values,
	})
	require.NoError(t, err)
	return c
}

func serve(h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string, query url.Values) *httptest.ResponseRecorder {
	target := DefaultServiceRoot + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return serve(h, http.MethodGet, target, nil, nil)
}

func sendJSON(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	return serve(h, method, DefaultServiceRoot+path, bytes.NewReader(data), map[string]string{"Content-Type": "application/json"})
}

func decodeD(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	d, ok := body["d"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return d
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func resultNames(t *testing.T, d map[string]any) []string {
	t.Helper()
	results, ok := d["results"].([]any)
	require.True(t, ok)
	names := []string{}
	for _, r := range results {
		names = append(names, r.(map[string]any)["Name"].(string))
	}
	return names
}

func TestHandler_GetEntity(t *testing.T) {
	_, h := setupHandlerTest(t)

	t.Run("selected fields without metadata", func(t *testing.T) {
		rec := get(h, "/Root('Docs')", url.Values{"$select": {"Name,Path"}, "metadata": {"no"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{"Name": "Docs", "Path": "/Root/Docs"}, decodeD(t, rec))
	})

	t.Run("full metadata", func(t *testing.T) {
		rec := get(h, "/Root('Docs')", url.Values{"$select": {"Name"}})
		require.Equal(t, http.StatusOK, rec.Code)
		d := decodeD(t, rec)
		md := d["__metadata"].(map[string]any)
		assert.Equal(t, "/odata.svc/Root('Docs')", md["uri"])
		assert.Equal(t, "Folder", md["type"])

		var actions, functions []string
		for _, a := range md["actions"].([]any) {
			actions = append(actions, a.(map[string]any)["name"].(string))
		}
		for _, f := range md["functions"].([]any) {
			functions = append(functions, f.(map[string]any)["name"].(string))
		}
		assert.Contains(t, actions, "MoveTo")
		assert.Contains(t, actions, "Upload")
		assert.NotContains(t, actions, "Rate")
		assert.Contains(t, functions, "GetSchema")
	})

	t.Run("minimal metadata", func(t *testing.T) {
		rec := get(h, "/Root('Docs')", url.Values{"$select": {"Name"}, "metadata": {"minimal"}})
		md := decodeD(t, rec)["__metadata"].(map[string]any)
		assert.NotContains(t, md, "actions")
	})

	t.Run("default fields", func(t *testing.T) {
		rec := get(h, "/Root('Docs')", url.Values{"metadata": {"no"}})
		d := decodeD(t, rec)
		assert.Equal(t, "Folder", d["Type"])
		assert.Contains(t, d, "Id")
		assert.Contains(t, d, "DisplayName")
		assert.Contains(t, d["Owner"], "__deferred")
		assert.Contains(t, d["Actions"], "__deferred")
	})

	t.Run("by id", func(t *testing.T) {
		rec := get(h, "/content(2)", url.Values{"$select": {"Path"}, "metadata": {"no"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/Root", decodeD(t, rec)["Path"])
	})

	t.Run("missing", func(t *testing.T) {
		rec := get(h, "/Root('Nope')", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeNotFound, errorCode(t, rec))
	})
}

func TestHandler_Collection(t *testing.T) {
	svc, h := setupHandlerTest(t)
	for i, name := range []string{"a", "b", "c"} {
		createContent(t, svc, "/Root/Docs", "Article", name, map[string]any{"Rank": float64(i + 1)})
	}
	createContent(t, svc, "/Root/Docs", "Folder", "sub", nil)

	t.Run("filter and order", func(t *testing.T) {
		rec := get(h, "/Root/Docs", url.Values{
			"$filter":  {"Rank gt 1"},
			"$orderby": {"Rank desc"},
			"$select":  {"Name"},
			"metadata": {"no"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeD(t, rec)
		assert.Equal(t, []string{"c", "b"}, resultNames(t, d))
		assert.Equal(t, float64(2), d["__count"])
	})

	t.Run("paging with inline count", func(t *testing.T) {
		rec := get(h, "/Root/Docs", url.Values{
			"$orderby":     {"Name"},
			"$top":         {"2"},
			"$skip":        {"1"},
			"$inlinecount": {"allpages"},
			"$select":      {"Name"},
		})
		d := decodeD(t, rec)
		assert.Equal(t, []string{"b", "c"}, resultNames(t, d))
		assert.Equal(t, float64(4), d["__count"])
	})

	t.Run("count", func(t *testing.T) {
		rec := get(h, "/Root/Docs/$count", url.Values{"$filter": {"isof('Article')"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Body.String())
	})

	t.Run("typeahead", func(t *testing.T) {
		rec := get(h, "/Root/Docs", url.Values{"$format": {"typeahead"}, "$top": {"1"}, "$orderby": {"Name"}})
		d := decodeD(t, rec)
		assert.NotContains(t, d, "__count")
		results := d["results"].([]any)
		require.Len(t, results, 1)
		assert.Equal(t, map[string]any{"Name": "a", "DisplayName": "a", "Path": "/Root/Docs/a", "Type": "Article"}, results[0])
	})

	t.Run("export", func(t *testing.T) {
		rec := get(h, "/Root/Docs('a')", url.Values{"$format": {"export"}, "$select": {"Category,Owner"}, "metadata": {"no"}})
		d := decodeD(t, rec)
		assert.Equal(t, "News", d["Category"])
		assert.Equal(t, "/Root/IMS/Admin", d["Owner"])
	})

	t.Run("invalid filter", func(t *testing.T) {
		rec := get(h, "/Root/Docs", url.Values{"$filter": {"Rank gt"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidFilterParameter, errorCode(t, rec))
	})

	t.Run("invalid top", func(t *testing.T) {
		rec := get(h, "/Root/Docs", url.Values{"$top": {"-1"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeNegativeTopParameter, errorCode(t, rec))
	})

	t.Run("missing collection", func(t *testing.T) {
		rec := get(h, "/Root/Nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_ExportRoundsRating(t *testing.T) {
	svc, h := setupHandlerTest(t)
	ctx := context.Background()
	article := createContent(t, svc, "/Root/Docs", "Article", "rated", nil)
	for _, stars := range []int{4, 5} {
		_, err := svc.Rate(ctx, article.ID(), "Score", stars)
		require.NoError(t, err)
	}

	rec := get(h, "/Root/Docs('rated')", url.Values{"$format": {"export"}, "$select": {"Score"}, "metadata": {"no"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5.0, decodeD(t, rec)["Score"])

	c, err := svc.Load(ctx, article.ID())
	require.NoError(t, err)
	assert.Equal(t, 4.5, c.Comparable("Score"))
}

func TestHandler_CreateUpdateDelete(t *testing.T) {
	svc, h := setupHandlerTest(t)

	rec := sendJSON(h, http.MethodPost, "/Root/Docs", map[string]any{
		"__ContentType": "Article",
		"Name":          "post",
		"DisplayName":   "A post",
		"Rank":          4,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/odata.svc/Root/Docs('post')", rec.Header().Get("Location"))
	d := decodeD(t, rec)
	assert.Equal(t, "/Root/Docs/post", d["Path"])
	assert.Equal(t, float64(4), d["Rank"])

	t.Run("create from models form value", func(t *testing.T) {
		form := url.Values{"models": {`[{"Name":"formed"}]`}}
		rec := serve(h, http.MethodPost, DefaultServiceRoot+"/Root/Docs", strings.NewReader(form.Encode()),
			map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "Folder", decodeD(t, rec)["Type"])
	})

	t.Run("duplicate", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/Docs", map[string]any{"Name": "post"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, CodeContentAlreadyExists, errorCode(t, rec))
	})

	t.Run("patch merges", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPatch, "/Root/Docs('post')", map[string]any{"Description": "text"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeD(t, rec)
		assert.Equal(t, "text", d["Description"])
		assert.Equal(t, "A post", d["DisplayName"])
	})

	t.Run("merge through method override", func(t *testing.T) {
		rec := serve(h, http.MethodPost, DefaultServiceRoot+"/Root/Docs('post')", strings.NewReader(`{"Rank": 9}`),
			map[string]string{"Content-Type": "application/json", "X-HTTP-Method": "MERGE"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeD(t, rec)
		assert.Equal(t, float64(9), d["Rank"])
		assert.Equal(t, "text", d["Description"])
	})

	t.Run("put resets", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPut, "/Root/Docs('post')", map[string]any{"Rank": 2})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeD(t, rec)
		assert.Equal(t, float64(2), d["Rank"])
		assert.Empty(t, d["Description"])
		assert.Equal(t, "/Root/Docs/post", d["Path"])
	})

	t.Run("invalid value", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPatch, "/Root/Docs('post')", map[string]any{"Path": "/Root/x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidContent, errorCode(t, rec))
	})

	t.Run("delete", func(t *testing.T) {
		rec := serve(h, http.MethodDelete, DefaultServiceRoot+"/Root/Docs('post')", nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		_, err := svc.LoadByPath(context.Background(), "/Root/Docs/post")
		assert.ErrorIs(t, err, contentrepo.ErrContentNotFound)
	})

	t.Run("delete collection not allowed", func(t *testing.T) {
		rec := serve(h, http.MethodDelete, DefaultServiceRoot+"/Root/Docs", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, CodeMethodNotAllowed, errorCode(t, rec))
	})
}

func TestHandler_Properties(t *testing.T) {
	svc, h := setupHandlerTest(t)
	createContent(t, svc, "/Root/IMS", "User", "boss", map[string]any{"LoginName": "boss", "FullName": "The Boss"})
	createContent(t, svc, "/Root/IMS", "User", "jdoe", map[string]any{
		"LoginName": "jdoe",
		"Manager":   map[string]any{"Path": "/Root/IMS/boss"},
	})

	t.Run("scalar property", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')/LoginName", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{"LoginName": "jdoe"}, decodeD(t, rec))
	})

	t.Run("raw value", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')/LoginName/$value", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "jdoe", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("reference property", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')/Manager", url.Values{"$select": {"Name"}, "metadata": {"no"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{"Name": "boss"}, decodeD(t, rec))
	})

	t.Run("expand", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')", url.Values{
			"$select":  {"Name,Manager/FullName"},
			"$expand":  {"Manager"},
			"metadata": {"no"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{
			"Name":    "jdoe",
			"Manager": map[string]any{"FullName": "The Boss"},
		}, decodeD(t, rec))
	})

	t.Run("actions property", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')/Actions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		actions := decodeD(t, rec)["Actions"].([]any)
		assert.NotEmpty(t, actions)
	})

	t.Run("unknown member", func(t *testing.T) {
		rec := get(h, "/Root/IMS('jdoe')/Nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("post to property", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/IMS('jdoe')/LoginName", map[string]any{})
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_Operations(t *testing.T) {
	svc, h := setupHandlerTest(t)
	article := createContent(t, svc, "/Root/Docs", "Article", "story", nil)
	createContent(t, svc, "/Root", "Folder", "Archive", nil)

	t.Run("function", func(t *testing.T) {
		rec := get(h, "/Root/Docs('story')/GetSchema", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Article", body["ContentTypeName"])
	})

	t.Run("ancestors", func(t *testing.T) {
		rec := get(h, "/Root/Docs('story')/Ancestors", url.Values{"$select": {"Name"}, "metadata": {"no"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []string{"Root", "Docs"}, resultNames(t, decodeD(t, rec)))
	})

	t.Run("action needs post", func(t *testing.T) {
		rec := get(h, "/Root/Docs('story')/MoveTo", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("rate", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/Docs('story')/Rate", map[string]any{"value": 4})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		c, err := svc.Load(context.Background(), article.ID())
		require.NoError(t, err)
		assert.Equal(t, 4.0, c.Comparable("Score"))
	})

	t.Run("rate not available on folders", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root('Docs')/Rate", map[string]any{"value": 4})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidOperation, errorCode(t, rec))
	})

	t.Run("move", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/Docs('story')/MoveTo", map[string]any{"targetPath": "/Root/Archive"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "/Root/Archive/story", decodeD(t, rec)["Path"])
	})

	t.Run("copy", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/Archive('story')/CopyTo", map[string]any{"targetPath": "/Root/Docs"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "/Root/Docs/story", decodeD(t, rec)["Path"])
	})

	t.Run("delete root forbidden", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/('Root')/Delete", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete action", func(t *testing.T) {
		rec := sendJSON(h, http.MethodPost, "/Root/Archive('story')/Delete", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("files[]", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_UploadAndDownload(t *testing.T) {
	svc, h := setupHandlerTest(t)

	body, contentType := multipartUpload(t, nil, "hello.txt", "hello world")
	rec := serve(h, http.MethodPost, DefaultServiceRoot+"/Root('Docs')/Upload", body, map[string]string{"Content-Type": contentType})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decodeD(t, rec)
	assert.Equal(t, "/Root/Docs/hello.txt", d["Path"])
	assert.Equal(t, float64(11), d["Size"])
	media := d["Binary"].(map[string]any)["__mediaresource"].(map[string]any)

	file, err := svc.LoadByPath(context.Background(), "/Root/Docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, DefaultBinaryRoot+"/"+strconv.Itoa(file.ID())+"/Binary", media["media_src"])

	t.Run("binary handler", func(t *testing.T) {
		rec := serve(h, http.MethodGet, media["media_src"].(string), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello world", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=hello.txt`)
		etag := rec.Header().Get("ETag")
		require.NotEmpty(t, etag)

		rec = serve(h, http.MethodGet, media["media_src"].(string), nil, map[string]string{"If-None-Match": etag})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})

	t.Run("raw value", func(t *testing.T) {
		rec := get(h, "/Root/Docs('hello.txt')/Binary/$value", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello world", rec.Body.String())
	})

	t.Run("no overwrite", func(t *testing.T) {
		body, contentType := multipartUpload(t, map[string]string{"Overwrite": "false"}, "hello.txt", "again")
		rec := serve(h, http.MethodPost, DefaultServiceRoot+"/Root('Docs')/Upload", body, map[string]string{"Content-Type": contentType})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("overwrite", func(t *testing.T) {
		body, contentType := multipartUpload(t, nil, "hello.txt", "again")
		rec := serve(h, http.MethodPost, DefaultServiceRoot+"/Root('Docs')/Upload", body, map[string]string{"Content-Type": contentType})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = get(h, "/Root/Docs('hello.txt')/Binary/$value", nil)
		assert.Equal(t, "again", rec.Body.String())
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := serve(h, http.MethodGet, DefaultBinaryRoot+"/abc/Binary", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no binary", func(t *testing.T) {
		empty := createContent(t, svc, "/Root/Docs", "File", "empty.txt", nil)
		rec := serve(h, http.MethodGet, DefaultBinaryRoot+"/"+strconv.Itoa(empty.ID())+"/Binary", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Metadata(t *testing.T) {
	_, h := setupHandlerTest(t)

	rec := get(h, "/$metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), `<EntityType Name="Article" BaseType="ContentRepository.GenericContent">`)

	rec = get(h, "/Root/Docs('missing')/$metadata", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodPost, DefaultServiceRoot+"/$metadata", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Options(t *testing.T) {
	svc, err := contentrepo.New(contentrepo.WithRepository(memory.New()))
	require.NoError(t, err)

	_, err = New(nil)
	assert.Error(t, err)

	h, err := New(svc, WithServiceRoot("api/"), WithBinaryRoot("/blobs/"), WithActions(NewRegistry()))
	require.NoError(t, err)
	assert.Equal(t, "/api", h.serviceRoot)
	assert.Equal(t, "/blobs", h.binaryRoot)
	_, ok := h.Actions().Get("MoveTo")
	assert.False(t, ok)
}
