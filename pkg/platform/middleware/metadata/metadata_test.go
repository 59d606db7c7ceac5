package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"checkpoint/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	t.Run("forwarded for takes first hop", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", "10.0.0.7, 172.16.0.1")
		assert.Equal(t, "10.0.0.7", ClientIPFromRequest(r))
	})

	t.Run("real ip header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Real-IP", " 10.0.0.8 ")
		assert.Equal(t, "10.0.0.8", ClientIPFromRequest(r))
	})

	t.Run("remote addr ipv6", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "[::1]:5555"
		assert.Equal(t, "::1", ClientIPFromRequest(r))
	})
}

func TestWorkstation(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.130 Safari/537.36"
	assert.Equal(t, "Chrome 120.0 on Windows 10", Workstation(chrome))
	assert.Equal(t, "unknown", Workstation(""))
	assert.Contains(t, Workstation("desk-agent/2.1 (gate 4)"), "desk-agent")
}

func TestClientMetadata(t *testing.T) {
	var ip, ws string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ws = requestcontext.Workstation(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:1234"
	r.Header.Set("User-Agent", "desk-agent/2.1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.10", ip)
	assert.Contains(t, ws, "desk-agent")
}
