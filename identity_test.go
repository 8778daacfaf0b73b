package gemini_test

import (
	"crypto/tls"
	"testing"

	"github.com/knowfox/gemini/v2"
	"github.com/stretchr/testify/require"
)

func TestIdentitySelect(t *testing.T) {
	var ids gemini.IdentityStore
	root := ids.Register(gemini.Scope{Host: "Example.org"}, tls.Certificate{})
	app := ids.Register(gemini.Scope{Host: "example.org", Path: "/app"}, tls.Certificate{})
	deep := ids.Register(gemini.Scope{Host: "example.org", Path: "/app/admin/"}, tls.Certificate{})
	ids.Register(gemini.Scope{Host: "other.org", Path: "/"}, tls.Certificate{})

	tests := []struct {
		host, path string
		want       *gemini.Identity
	}{
		{"example.org", "/", root},
		{"EXAMPLE.ORG", "/app", app},
		{"example.org", "/app/page", app},
		{"example.org", "/application", root},
		{"example.org", "/app/admin", deep},
		{"example.org", "/app/admin/users", deep},
		{"unknown.org", "/app", nil},
	}
	for _, test := range tests {
		got := ids.Select(test.host, test.path)
		require.Same(t, test.want, got, "%s%s", test.host, test.path)
	}
	require.Equal(t, 4, ids.Len())
}

func TestIdentitySelectPrefersLatestOnTie(t *testing.T) {
	var ids gemini.IdentityStore
	ids.Register(gemini.Scope{Host: "example.org", Path: "/a"}, tls.Certificate{})
	latest := ids.Register(gemini.Scope{Host: "example.org", Path: "/a"}, tls.Certificate{})
	require.Same(t, latest, ids.Select("example.org", "/a/b"))
}

func TestIdentitySelectNilStore(t *testing.T) {
	var ids *gemini.IdentityStore
	require.Nil(t, ids.Select("example.org", "/"))
}
