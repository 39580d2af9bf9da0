package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/minpaku-sim/web/internal/platform/requestctx"
)

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := InjectLoggerMiddleware(zap.New(core))(RecoveryMiddleware(nil)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wizard", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_server_error", body["error"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("no"))
		}),
	))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizard/advance", nil)
	req.Header.Set("HX-Request", "true")
	h.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	entry := completed[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.EqualValues(t, http.StatusUnprocessableEntity, fields["status"])
	assert.EqualValues(t, 2, fields["bytes"])
	assert.Equal(t, true, fields["htmx"])
	assert.Equal(t, "/api/v1/wizard/advance", fields["path"])
}

func TestPrintfAdapterAddsTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewPrintfAdapter(zap.New(core))

	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	adapter.Printf(ctx, "pool: %d retries", 3)
	adapter.Printf(context.Background(), "plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pool: 3 retries", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "abc123", entries[0].ContextMap()["trace_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	assert.Equal(t, "/wizardnext", SanitizeRoute("/wizard\nnext"))
	assert.Equal(t, "/", SanitizeRoute(""))
	assert.Len(t, SanitizeSessionID("01HZX0000000000000000000000000000000"), 32)
}
