package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStringSlice(t *testing.T) {
	t.Setenv("RELAY_TEST_HOSTS", " a, b,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, GetStringSlice("RELAY_TEST_HOSTS", nil))

	t.Setenv("RELAY_TEST_HOSTS", " , ")
	assert.Equal(t, []string{"x"}, GetStringSlice("RELAY_TEST_HOSTS", []string{"x"}))
}

func TestGetDuration(t *testing.T) {
	t.Setenv("RELAY_TEST_PERIOD", "45s")
	assert.Equal(t, 45*time.Second, GetDuration("RELAY_TEST_PERIOD", time.Second))

	t.Setenv("RELAY_TEST_PERIOD", "soon")
	assert.Equal(t, time.Second, GetDuration("RELAY_TEST_PERIOD", time.Second))
}

func TestGetIntAndBool(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "12")
	t.Setenv("RELAY_TEST_BOOL", "true")
	assert.Equal(t, 12, GetInt("RELAY_TEST_INT", 1))
	assert.True(t, GetBool("RELAY_TEST_BOOL", false))
	assert.Equal(t, 7, GetInt("RELAY_TEST_MISSING", 7))
}

func TestGetStringFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("RELAY_TEST_SECRET", "from-env")
	assert.Equal(t, "from-env", GetStringFromFile("RELAY_TEST_SECRET", ""))

	t.Setenv("RELAY_TEST_SECRET_FILE", path)
	assert.Equal(t, "from-file", GetStringFromFile("RELAY_TEST_SECRET", ""))
}
