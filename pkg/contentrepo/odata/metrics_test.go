package odata

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	svc, err := contentrepo.New(contentrepo.WithRepository(memory.New()))
	require.NoError(t, err)
	h, err := New(svc, WithMetrics(m))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Mount(DefaultServiceRoot, h.Routes())

	get(r, "/Root", nil)
	get(r, "/Root", url.Values{"$top": {"x"}})
	get(r, "/('Root')", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "collection", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "invalid", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "entity", "200")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.requests))

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe(http.MethodGet, "entity", 200, 0) })
}
