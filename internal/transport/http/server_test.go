package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestCORS(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	CORS("https://app.example")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/timeline", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.False(t, called)

	rec = httptest.NewRecorder()
	CORS("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.True(t, called)
}

func TestRequestLoggerAndRecover(t *testing.T) {
	logs := memory.New()
	logger := &log.Logger{Handler: logs, Level: log.DebugLevel}

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Chain(panicking, RequestLogger(logger), Recover(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pension", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"type":"server_error","detail":"internal error"}`, rec.Body.String())

	require.Len(t, logs.Entries, 2)
	require.Equal(t, "handler panic", logs.Entries[0].Message)
	require.Equal(t, "request", logs.Entries[1].Message)
	require.Equal(t, log.WarnLevel, logs.Entries[1].Level)
	require.Equal(t, http.StatusInternalServerError, logs.Entries[1].Fields.Get("status"))
}
