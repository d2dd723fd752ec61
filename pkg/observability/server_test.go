package observability_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/contractscan/pkg/observability"
)

func TestServer_ServesEndpoints(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(rw, "contractscan_items_total 3\n")
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := observability.NewServer(metrics, noop.NewTracerProvider().Tracer("test"), logger)

	require.NoError(t, srv.Start("127.0.0.1:0"))

	t.Cleanup(func() { require.NoError(t, srv.Shutdown(context.Background())) })

	for path, want := range map[string]string{
		"/metrics": "contractscan_items_total 3",
		"/healthz": `"status":"ok"`,
		"/readyz":  `"status":"ok"`,
	} {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, resp.Body.Close())
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	t.Parallel()

	srv := observability.NewServer(nil, noop.NewTracerProvider().Tracer("test"), slog.Default())

	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Shutdown(context.Background()))
}
