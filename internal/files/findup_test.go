package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "rconwrap.yaml"), nil, 0o644))
	// A directory with the same name does not count.
	require.NoError(t, os.Mkdir(filepath.Join(root, "a", "b", "rconwrap.yaml"), 0o755))

	cases := []struct {
		name string
		dir  string
		file string
		exp  string
	}{
		{name: "in parent", dir: nested, file: "rconwrap.yaml", exp: filepath.Join(root, "a", "rconwrap.yaml")},
		{name: "in dir", dir: filepath.Join(root, "a"), file: "rconwrap.yaml", exp: filepath.Join(root, "a", "rconwrap.yaml")},
		{name: "missing", dir: nested, file: "does-not-exist-anywhere.yaml", exp: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			found, err := FindUp(c.file, c.dir)
			require.NoError(t, err)
			assert.Equal(t, c.exp, found)
		})
	}
}

func TestFindUpBadDir(t *testing.T) {
	_, err := FindUp("x", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
