package odata

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
)

// writeEntity renders a single entity: {"d": {...}}.
func writeEntity(w http.ResponseWriter, r *http.Request, entity map[string]any) {
	render.JSON(w, r, map[string]any{"d": entity})
}

// writeCollection renders {"d": {"__count": n, "results": [...]}}. Typeahead
// responses carry no count.
func writeCollection(w http.ResponseWriter, r *http.Request, format Format, items []map[string]any, count int) {
	d := map[string]any{"results": items}
	if format != FormatTypeahead {
		d["__count"] = count
	}
	render.JSON(w, r, map[string]any{"d": d})
}

func writeProperty(w http.ResponseWriter, r *http.Request, name string, value any) {
	render.JSON(w, r, map[string]any{"d": map[string]any{name: value}})
}

// writeRawValue renders a property value as plain text.
func writeRawValue(w http.ResponseWriter, r *http.Request, value any) {
	var text string
	switch v := value.(type) {
	case nil:
	case string:
		text = v
	case json.Number:
		text = v.String()
	case []string:
		text = strings.Join(v, ";")
	case int, int64, float64, bool:
		text = fmt.Sprint(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprint(v)
		} else {
			text = string(data)
		}
	}
	render.PlainText(w, r, text)
}

func writeCount(w http.ResponseWriter, r *http.Request, n int) {
	render.PlainText(w, r, strconv.Itoa(n))
}

func writeMetadata(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// streamBinary writes the blob of a binary field with its content type and
// file name. A matching If-None-Match answers 304.
func streamBinary(w http.ResponseWriter, r *http.Request, svc contentrepo.Service, id int, field string) error {
	rc, bd, err := svc.OpenBinary(r.Context(), id, field)
	if err != nil {
		return err
	}
	defer rc.Close()

	etag := etagOf(bd)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	contentType := bd.ContentType
	if contentType == "" {
		contentType = schema.ContentTypeOf(bd.FileName)
	}
	w.Header().Set("Content-Type", contentType)
	if bd.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": bd.FileName}))
	}
	if bd.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(bd.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(w, rc)
	return err
}
