package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"trace", zerolog.TraceLevel, true},
		{" DEBUG ", zerolog.DebugLevel, true},
		{"info", zerolog.InfoLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, test := range tests {
		got, ok := ParseLevel(test.raw)
		require.Equal(t, test.want, got, test.raw)
		require.Equal(t, test.ok, ok, test.raw)
	}
}

func TestParseBool(t *testing.T) {
	v, ok := parseBool("true")
	require.True(t, ok)
	require.True(t, v)
	_, ok = parseBool("")
	require.False(t, ok)
	_, ok = parseBool("maybe")
	require.False(t, ok)
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.WarnLevel, true)
	l.Info().Msg("hidden")
	l.Warn().Str("host", "example.org").Msg("shown")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
	require.Contains(t, out, "host=example.org")
}

func TestConfigureEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "1")
	l := Configure("debug")
	require.Equal(t, zerolog.ErrorLevel, l.GetLevel())
	// Later calls keep the first configuration.
	require.Equal(t, zerolog.ErrorLevel, Configure("trace").GetLevel())
}
