package chanhub

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "no origin header", origin: "", allowed: []string{"https://a.com"}, want: true},
		{name: "no origin header and no policy", origin: "", allowed: nil, want: true},
		{name: "nil allow list", origin: "https://evil.com", allowed: nil, want: true},
		{name: "empty allow list", origin: "https://evil.com", allowed: []string{}, want: true},
		{name: "exact match", origin: "https://a.com", allowed: []string{"https://a.com"}, want: true},
		{name: "host mismatch", origin: "https://evil.com", allowed: []string{"https://a.com"}, want: false},
		{name: "scheme mismatch", origin: "http://a.com", allowed: []string{"https://a.com"}, want: false},
		{name: "entry without port matches any port", origin: "https://a.com:8443", allowed: []string{"https://a.com"}, want: true},
		{name: "entry port must match", origin: "https://a.com:8443", allowed: []string{"https://a.com:443"}, want: false},
		{name: "default port satisfies explicit entry port", origin: "https://a.com", allowed: []string{"https://a.com:443"}, want: true},
		{name: "scheme-less entry matches any scheme", origin: "http://a.com", allowed: []string{"//a.com"}, want: true},
		{name: "host comparison is case sensitive", origin: "https://A.com", allowed: []string{"https://a.com"}, want: false},
		{name: "scheme is compared lowercased", origin: "HTTPS://a.com", allowed: []string{"https://a.com"}, want: true},
		{name: "entry scheme is lowercased too", origin: "https://a.com", allowed: []string{"HTTPS://a.com"}, want: true},
		{name: "second entry matches", origin: "https://b.com", allowed: []string{"https://a.com", "https://b.com"}, want: true},
		{name: "subdomain is not the host", origin: "https://x.a.com", allowed: []string{"https://a.com"}, want: false},
		{name: "unparseable origin rejected", origin: "null", allowed: []string{"https://a.com"}, want: false},
		{name: "invalid entries never match", origin: "https://a.com", allowed: []string{"not a url"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckOrigin(tt.origin, tt.allowed))
		})
	}
}

func TestOriginPolicy_Check(t *testing.T) {
	p := NewOriginPolicy([]string{"https://a.com"})

	r := httptest.NewRequest("GET", "/socket/websocket", nil)
	assert.True(t, p.Check(r), "missing Origin header is allowed")

	r.Header.Set("Origin", "https://a.com")
	assert.True(t, p.Check(r))

	r.Header.Set("Origin", "https://evil.com")
	assert.False(t, p.Check(r))
}
