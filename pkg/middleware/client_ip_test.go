package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		xff    string
		realIP string
		remote string
		trust  bool
		want   string
	}{
		{name: "xff first entry", xff: "1.2.3.4, 10.0.0.1", realIP: "5.5.5.5", remote: "9.9.9.9:1234", trust: true, want: "1.2.3.4"},
		{name: "real ip fallback", realIP: "5.5.5.5", remote: "9.9.9.9:1234", trust: true, want: "5.5.5.5"},
		{name: "socket fallback", remote: "9.9.9.9:1234", trust: true, want: "9.9.9.9"},
		{name: "garbage xff ignored", xff: "not-an-ip", remote: "9.9.9.9:1234", trust: true, want: "9.9.9.9"},
		{name: "headers untrusted", xff: "1.2.3.4", realIP: "5.5.5.5", remote: "9.9.9.9:1234", trust: false, want: "9.9.9.9"},
		{name: "ipv6 socket", remote: "[::1]:8080", trust: true, want: "::1"},
		{name: "no port", remote: "7.7.7.7", trust: false, want: "7.7.7.7"},
		{name: "empty", remote: "", trust: false, want: "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			require.Equal(t, tc.want, ClientIP(req, tc.trust))
		})
	}
}
