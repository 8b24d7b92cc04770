package manifest

import (
	"os"
	"runtime"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	m, err := Load()
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Equal(t, "mbirjax", m.Name)
	assert.Equal(t, "0.6.7", m.Version)
	for _, group := range RequiredGroups {
		assert.NotEmpty(t, m.Optional[group], group)
	}
}

const valid = `
name: demo
version: 1.0.0
requires_go: "1.22"
homepage: https://example.com
source: https://example.com/demo
dependencies:
  - gonum.org/v1/gonum@v0.15.1
optional:
  cuda12: [gorgonia.org/cu]
  test: [github.com/stretchr/testify@v1.9.0]
  docs: [golang.org/x/pkgsite/cmd/pkgsite]
`

func TestValidate(t *testing.T) {
	m, err := Parse([]byte(valid))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cases := map[string][2]string{
		"bad version":     {"version: 1.0.0", "version: one"},
		"bad go":          {`requires_go: "1.22"`, `requires_go: "latest"`},
		"bad url":         {"homepage: https://example.com", "homepage: example"},
		"bad dependency":  {"gonum.org/v1/gonum@v0.15.1", "gonum.org//gonum"},
		"bad pin":         {"gonum.org/v1/gonum@v0.15.1", "gonum.org/v1/gonum@latest"},
		"empty docs":      {"docs: [golang.org/x/pkgsite/cmd/pkgsite]", "docs: []"},
		"bad test member": {"github.com/stretchr/testify@v1.9.0", "-bad-"},
	}
	for name, c := range cases {
		m, err := Parse([]byte(strings.Replace(valid, c[0], c[1], 1)))
		require.NoError(t, err, name)
		assert.True(t, errors.Is(m.Validate(), ErrInvalidManifest), name)
	}
}

func TestCheckToolchain(t *testing.T) {
	m := &Manifest{RequiresGo: "1.22"}
	assert.NoError(t, m.CheckToolchain("go1.22"))
	assert.NoError(t, m.CheckToolchain("go1.22.5"))
	assert.NoError(t, m.CheckToolchain("go1.23rc1"))
	assert.NoError(t, m.CheckToolchain("devel go1.24-abcdef"))
	assert.Error(t, m.CheckToolchain("go1.21.9"))
	assert.Error(t, m.CheckToolchain("gccgo"))

	loaded, err := Load()
	require.NoError(t, err)
	assert.NoError(t, loaded.CheckToolchain(runtime.Version()))
}

func TestCheckModFile(t *testing.T) {
	m, err := Load()
	require.NoError(t, err)
	data, err := os.ReadFile("../go.mod")
	require.NoError(t, err)
	assert.NoError(t, m.CheckModFile(data))

	missing := strings.Replace(string(data), "github.com/zeebo/xxh3 v1.0.2\n", "", 1)
	assert.True(t, errors.Is(m.CheckModFile([]byte(missing)), ErrInvalidManifest))

	bumped := strings.Replace(string(data), "github.com/google/uuid v1.6.0", "github.com/google/uuid v1.5.0", 1)
	assert.True(t, errors.Is(m.CheckModFile([]byte(bumped)), ErrInvalidManifest))

	assert.Error(t, m.CheckModFile([]byte("not a go.mod {")))

	// the go command writes the patch level once it adds a toolchain line
	normalized := strings.Replace(string(data), "go 1.22\n", "go 1.22.0\n\ntoolchain go1.22.5\n", 1)
	require.NotEqual(t, string(data), normalized)
	assert.NoError(t, m.CheckModFile([]byte(normalized)))

	newer := strings.Replace(string(data), "go 1.22\n", "go 1.23.0\n", 1)
	assert.True(t, errors.Is(m.CheckModFile([]byte(newer)), ErrInvalidManifest))
}

func TestDiscoverPackages(t *testing.T) {
	fsys := fstest.MapFS{
		"go.mod":                  {Data: []byte("module x\n")},
		"root.go":                 {},
		"a/a.go":                  {},
		"a/a_test.go":             {},
		"b/only_test.go":          {},
		"c/d/d.go":                {},
		"_examples/teacher/x.go":  {},
		".git/hooks/x.go":         {},
		"c/testdata/fixture/f.go": {},
		"docs/readme.md":          {},
	}
	packages, err := DiscoverPackages(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "a", "c/d"}, packages)

	empty, err := DiscoverPackages(fstest.MapFS{"README": {}})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDiscoverModulePackages(t *testing.T) {
	packages, err := DiscoverPackages(os.DirFS(".."))
	require.NoError(t, err)
	assert.Contains(t, packages, "projector")
	assert.Contains(t, packages, "reconstruct")
	assert.Contains(t, packages, "manifest")
	for _, p := range packages {
		assert.False(t, strings.HasPrefix(p, "_"), p)
	}
}
