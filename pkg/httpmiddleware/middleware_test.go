package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapOrder(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("middle"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "middle", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))

	for _, tt := range []struct {
		in   string
		keep bool
	}{
		{in: "abc-123", keep: true},
		{in: strings.Repeat("x", 129), keep: false},
		{in: "bad\x01id", keep: false},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, tt.in)
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, tt.keep, seen == tt.in, tt.in)
	}
}

func TestLoggingWithRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lg := zap.New(core)

	r := chi.NewRouter()
	r.Get("/api/teamcarts/{cartID}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Inside handler")
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	h := Wrap(r,
		Route(),
		RequestID(),
		InjectLogger(lg),
		LogRequests(),
		Recovery(),
		Instrument("teamcart-api", tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/teamcarts/c1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	inside := logs.FilterMessage("Inside handler").All()
	require.Len(t, inside, 1)
	assert.Equal(t, w.Header().Get(HeaderRequestID), inside[0].ContextMap()["request_id"])

	reqs := logs.FilterMessage("Request").All()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/teamcarts/{cartID}", reqs[0].ContextMap()["route"])
	assert.EqualValues(t, http.StatusTeapot, reqs[0].ContextMap()["status"])

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"internal","message":"internal server error"}`, w.Body.String())
	assert.Len(t, logs.FilterMessage("Panic recovered").All(), 1)
	assert.Len(t, logs.FilterMessage("Request failed").All(), 1)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	last := logs.FilterMessage("Request").All()
	assert.Equal(t, "unmatched", last[len(last)-1].ContextMap()["route"])
}
