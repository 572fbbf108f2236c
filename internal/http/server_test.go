package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/reelpool/internal/config"
	"github.com/jmylchreest/reelpool/internal/http/handlers"
)

func TestServerConfigFrom(t *testing.T) {
	sc := ServerConfigFrom(config.ServerConfig{Host: "0.0.0.0", Port: 9000, ShutdownTimeout: time.Second})

	assert.Equal(t, "0.0.0.0", sc.Host)
	assert.Equal(t, 9000, sc.Port)
	assert.Equal(t, time.Second, sc.ShutdownTimeout)
	assert.Equal(t, DefaultServerConfig().ReadTimeout, sc.ReadTimeout)
}

func TestServer_Addr(t *testing.T) {
	s := NewServer(ServerConfig{Host: "::1", Port: 8085}, nil, "")
	assert.Equal(t, "[::1]:8085", s.Addr())
}

func TestServer_Routes(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, "test")
	handlers.NewHealthHandler("test").Register(s.API())
	s.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reelpool API")
}
