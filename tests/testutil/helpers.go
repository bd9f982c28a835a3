package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/odata"
)

// Entity is a decoded OData entity.
type Entity map[string]any

func (e Entity) String(name string) string {
	s, _ := e[name].(string)
	return s
}

// MediaSrc returns the download path of a binary field.
func (e Entity) MediaSrc(field string) string {
	f, _ := e[field].(map[string]any)
	media, _ := f["__mediaresource"].(map[string]any)
	src, _ := media["media_src"].(string)
	return src
}

// EntityURL returns the OData URL of the content at path.
func EntityURL(serverURL, path string) string {
	return serverURL + odata.EntityURI(odata.DefaultServiceRoot, path)
}

// CollectionURL returns the OData URL of the children of path.
func CollectionURL(serverURL, path string, query url.Values) string {
	u := serverURL + odata.DefaultServiceRoot + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func decodeEntity(t *testing.T, resp *http.Response, status int) Entity {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, status, resp.StatusCode, string(body))

	var envelope struct {
		D Entity `json:"d"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.D
}

// CreateContent creates a content below parentPath through the API.
func CreateContent(t *testing.T, serverURL, parentPath, typeName, name string, values map[string]any) Entity {
	t.Helper()
	body := map[string]any{odata.ContentTypeProperty: typeName, "Name": name}
	for k, v := range values {
		body[k] = v
	}
	reqJSON, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(CollectionURL(serverURL, parentPath, nil), "application/json", bytes.NewReader(reqJSON))
	require.NoError(t, err)
	return decodeEntity(t, resp, http.StatusCreated)
}

// GetEntity loads the content at path through the API.
func GetEntity(t *testing.T, serverURL, path string) Entity {
	t.Helper()
	resp, err := http.Get(EntityURL(serverURL, path) + "?metadata=no")
	require.NoError(t, err)
	return decodeEntity(t, resp, http.StatusOK)
}

// GetCollection lists the children of path through the API.
func GetCollection(t *testing.T, serverURL, path string, query url.Values) []Entity {
	t.Helper()
	resp, err := http.Get(CollectionURL(serverURL, path, query))
	require.NoError(t, err)
	d := decodeEntity(t, resp, http.StatusOK)

	results, _ := d["results"].([]any)
	out := make([]Entity, 0, len(results))
	for _, r := range results {
		m, _ := r.(map[string]any)
		out = append(out, Entity(m))
	}
	return out
}

// UploadFile uploads a file into the folder at parentPath.
func UploadFile(t *testing.T, serverURL, parentPath, fileName string, content []byte) Entity {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files[]", fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(EntityURL(serverURL, parentPath)+"/Upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return decodeEntity(t, resp, http.StatusOK)
}

// Download fetches a binary through the binary handler.
func Download(t *testing.T, serverURL, mediaSrc string) []byte {
	t.Helper()
	resp, err := http.Get(serverURL + mediaSrc)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

// Delete removes the content at path through the API.
func Delete(t *testing.T, serverURL, path string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, EntityURL(serverURL, path), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// RootPath is the repository root.
const RootPath = contentrepo.RootPath
