package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, "192.0.2.10:1234", nil, "192.0.2.10"},
		{"remote addr without port", false, "192.0.2.10", nil, "192.0.2.10"},
		{"forwarded for ignored", false, "192.0.2.10:1", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "192.0.2.10"},
		{"real ip ignored", false, "192.0.2.10:1", map[string]string{"X-Real-IP": "203.0.113.2"}, "192.0.2.10"},
		{"forwarded for first hop", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 203.0.113.1 , 10.0.0.1"}, "203.0.113.1"},
		{"real ip", true, "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.2"}, "203.0.113.2"},
		{"forwarded for wins over real ip", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.2"}, "203.0.113.1"},
		{"trusted without headers", true, "192.0.2.10:1", nil, "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trustProxy))
		})
	}
}
