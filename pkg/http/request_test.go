package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_DirectConnection(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"

	ip := ExtractClientIP(r, &IPConfig{})
	assert.Equal(t, "203.0.113.7", ip)
}

func TestExtractClientIP_SpoofedHeaderFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("X-Forwarded-For", "198.51.100.99")

	ip := ExtractClientIP(r, &IPConfig{})
	assert.Equal(t, "203.0.113.7", ip, "forwarded headers from untrusted peers must be ignored")
}

func TestExtractClientIP_TrustedProxyXFF(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.99, 10.1.2.3")

	assert.Equal(t, "198.51.100.99", ExtractClientIP(r, cfg))
}

func TestExtractClientIP_TrustedProxyXRealIP(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Real-IP", "198.51.100.99")

	assert.Equal(t, "198.51.100.99", ExtractClientIP(r, cfg))
}

func TestExtractClientIP_GarbageHeaderFallsBack(t *testing.T) {
	cfg := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	assert.Equal(t, "10.1.2.3", ExtractClientIP(r, cfg))
}

func TestExtractClientIP_NilConfig(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"

	assert.Equal(t, "203.0.113.7", ExtractClientIP(r, nil))
}
