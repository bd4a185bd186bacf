package utils

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("GX_STR", "value")
	t.Setenv("GX_INT", "12")
	t.Setenv("GX_INT_BAD", "-3")
	t.Setenv("GX_INT64_ZERO", "0")
	t.Setenv("GX_DUR", "250ms")
	t.Setenv("GX_BOOL", "true")
	t.Setenv("GX_LIST", " a, ,b ,c,a")

	require.Equal(t, "value", Env("GX_STR", "def"))
	require.Equal(t, "def", Env("GX_MISSING", "def"))
	require.Equal(t, 12, EnvInt("GX_INT", 1))
	require.Equal(t, 1, EnvInt("GX_INT_BAD", 1))
	require.Equal(t, int64(0), EnvInt64("GX_INT64_ZERO", 10))
	require.Equal(t, 250*time.Millisecond, EnvDuration("GX_DUR", time.Second))
	require.Equal(t, time.Second, EnvDuration("GX_MISSING", time.Second))
	require.True(t, EnvBool("GX_BOOL", false))
	require.Equal(t, []string{"a", "b", "c"}, EnvList("GX_LIST", nil))
	require.Equal(t, []string{"x"}, EnvList("GX_MISSING", []string{"x"}))
}

func TestDedupKeepsFirstSeenOrder(t *testing.T) {
	require.Equal(t, []string{"b", "a", "c"}, Dedup([]string{"b", "a", "b", "c", "a"}))
	require.Empty(t, Dedup(nil))
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error { c.closed = true; return nil }

func TestDrainAndClose(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader("body")}
	require.NoError(t, DrainAndClose(rc))
	require.True(t, rc.closed)
	require.NoError(t, DrainAndClose(nil))
}
