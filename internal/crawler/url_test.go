package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://M.BJNews.com.CN/detail/abc.html", "https://m.bjnews.com.cn/detail/abc.html"},
		{"strips default https port", "https://example.com:443/page", "https://example.com/page"},
		{"strips default http port", "http://example.com:80/page", "http://example.com/page"},
		{"keeps custom port", "http://example.com:8080/page", "http://example.com:8080/page"},
		{"drops fragment", "https://example.com/page#section", "https://example.com/page"},
		{"sorts query params", "https://example.com/s?b=2&a=1", "https://example.com/s?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := NormalizeURL("://bad")
	require.Error(t, err)
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "m.bjnews.com.cn", Host("https://M.BJNews.com.cn/detail/abc.html"))
	require.Equal(t, "example.com", Host("http://example.com:8080/x"))
	require.Equal(t, "", Host("://bad"))
}
