package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/odata"
	memoryrepo "github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
	memorystorage "github.com/tendant/content-odata/pkg/contentrepo/storage/memory"
)

// NewMemoryService creates a repository service backed by memory.
func NewMemoryService(t *testing.T) contentrepo.Service {
	t.Helper()
	svc, err := contentrepo.New(
		contentrepo.WithRepository(memoryrepo.New()),
		contentrepo.WithBlobStore("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	return svc
}

// SetupTestServer serves the OData API of svc. The server is closed when
// the test ends.
func SetupTestServer(t *testing.T, svc contentrepo.Service) *httptest.Server {
	t.Helper()
	h, err := odata.New(svc)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount(odata.DefaultServiceRoot, h.Routes())
	r.Mount(odata.DefaultBinaryRoot, h.BinaryRoutes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}
