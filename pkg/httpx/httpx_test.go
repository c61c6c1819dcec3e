package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v1/health", "/v1/health"},
		{"/v1/snapshots/01HZX3J9Q5V7C8M2N4P6R8T0W1/summary", "/v1/snapshots/{handle}/summary"},
		{"/v1/rows/42", "/v1/rows/{id}"},
		{"/v1/rows/42/cells", "/v1/rows/{id}/cells"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Metrics)
	router.HandleFunc("/v1/snapshots/{handle}", func(w http.ResponseWriter, r *http.Request) {
		RespondErrorString(w, http.StatusNotFound, "no such snapshot")
	})

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/v1/snapshots/{handle}", "404"))
	for _, h := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshots/"+h, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/v1/snapshots/{handle}", "404"))
	assert.Equal(t, 3.0, after-before)
}

func TestHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, _, err := rw.Hijack()
	assert.Error(t, err)
	assert.NotNil(t, rw.Unwrap())
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, errors.New("bad handle"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Bad Request","message":"bad handle"}`, rec.Body.String())
}
