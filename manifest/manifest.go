// Package manifest describes the project as a package: its name, version,
// toolchain floor, dependencies and optional dependency groups.
package manifest

import (
	"bytes"
	_ "embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

//go:embed manifest.yaml
var embedded []byte

// ErrInvalidManifest is returned when the manifest fails validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// RequiredGroups are the optional dependency groups every manifest declares.
var RequiredGroups = []string{"cuda12", "test", "docs"}

// Manifest is the package metadata.
type Manifest struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Description string `mapstructure:"description"`
	RequiresGo  string `mapstructure:"requires_go" validate:"required"`
	Homepage    string `mapstructure:"homepage" validate:"required,url"`
	Source      string `mapstructure:"source" validate:"required,url"`
	// module[@version] entries
	Dependencies []string            `mapstructure:"dependencies" validate:"required,min=1,dive,required"`
	Optional     map[string][]string `mapstructure:"optional"`
}

var validate = validator.New()

// Load returns the manifest shipped with the module.
func Load() (*Manifest, error) {
	return Parse(embedded)
}

// Parse reads a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return &m, nil
}

// SplitRequirement splits "path@version" into its parts. The version is
// empty when none is pinned.
func SplitRequirement(req string) (string, string) {
	p, version, _ := strings.Cut(req, "@")
	return p, version
}

func checkRequirement(req string) error {
	p, version := SplitRequirement(req)
	if err := module.CheckImportPath(p); err != nil {
		return errors.Wrapf(ErrInvalidManifest, "%v", err)
	}
	if version != "" && !semver.IsValid(version) {
		return errors.Wrapf(ErrInvalidManifest, "%v: invalid version %q", p, version)
	}
	return nil
}

// Validate checks the field constraints, that every dependency is a well
// formed import path with an optional semantic version and that every
// required optional group is present and non-empty.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return errors.Wrap(ErrInvalidManifest, err.Error())
	}
	if !semver.IsValid("v" + m.Version) {
		return errors.Wrapf(ErrInvalidManifest, "version %q is not semantic", m.Version)
	}
	if !semver.IsValid("v" + m.RequiresGo) {
		return errors.Wrapf(ErrInvalidManifest, "requires_go %q is not a Go version", m.RequiresGo)
	}
	for _, req := range m.Dependencies {
		if err := checkRequirement(req); err != nil {
			return err
		}
	}
	for _, group := range RequiredGroups {
		if len(m.Optional[group]) == 0 {
			return errors.Wrapf(ErrInvalidManifest, "optional group %q is empty", group)
		}
	}
	for group, reqs := range m.Optional {
		for _, req := range reqs {
			if err := checkRequirement(req); err != nil {
				return errors.Wrapf(err, "optional group %q", group)
			}
		}
	}
	return nil
}

// CheckToolchain reports whether a toolchain, as returned by
// runtime.Version, satisfies RequiresGo. Development builds are accepted.
func (m *Manifest) CheckToolchain(runtimeVersion string) error {
	if strings.HasPrefix(runtimeVersion, "devel") {
		log.WithField("toolchain", runtimeVersion).Warn("development toolchain, skipping version check")
		return nil
	}
	have := goSemver(runtimeVersion)
	if !semver.IsValid(have) {
		return errors.Errorf("cannot parse toolchain version %q", runtimeVersion)
	}
	if semver.Compare(have, "v"+m.RequiresGo) < 0 {
		return errors.Errorf("toolchain %v is older than the required go %v", runtimeVersion, m.RequiresGo)
	}
	return nil
}

// goSemver turns a Go version such as "1.22", "go1.22.5" or "go1.23rc1"
// into a semantic version. Pre-release suffixes are dropped.
func goSemver(version string) string {
	res := "v" + strings.TrimPrefix(version, "go")
	if i := strings.IndexFunc(res[1:], func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		res = res[:i+1]
	}
	return res
}

// CheckModFile checks that a go.mod declares this module, the same go
// directive and requires every mandatory dependency at its pinned version.
func (m *Manifest) CheckModFile(data []byte) error {
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return errors.Wrap(err, "parsing go.mod")
	}
	if f.Module == nil || path.Base(f.Module.Mod.Path) != m.Name {
		return errors.Wrapf(ErrInvalidManifest, "go.mod does not declare module %v", m.Name)
	}
	if f.Go == nil {
		return errors.Wrap(ErrInvalidManifest, "go.mod has no go directive")
	}
	// 1.22 and 1.22.0 name the same language version
	if have := goSemver(f.Go.Version); !semver.IsValid(have) || semver.Compare(have, goSemver(m.RequiresGo)) != 0 {
		return errors.Wrapf(ErrInvalidManifest, "go.mod go directive %v does not match requires_go %v", f.Go.Version, m.RequiresGo)
	}
	required := make(map[string]string, len(f.Require))
	for _, r := range f.Require {
		required[r.Mod.Path] = r.Mod.Version
	}
	for _, req := range m.Dependencies {
		p, version := SplitRequirement(req)
		have, ok := required[p]
		if !ok {
			return errors.Wrapf(ErrInvalidManifest, "go.mod does not require %v", p)
		}
		if version != "" && have != version {
			return errors.Wrapf(ErrInvalidManifest, "go.mod requires %v %v, manifest pins %v", p, have, version)
		}
	}
	return nil
}

// DiscoverPackages returns the directories of fsys holding at least one non
// test Go file, in lexical order. Directories starting with "_" or "." and
// testdata directories are skipped along with their contents.
func DiscoverPackages(fsys fs.FS) ([]string, error) {
	found := map[string]bool{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
			found[path.Dir(p)] = true
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discovering packages")
	}
	res := make([]string, 0, len(found))
	for dir := range found {
		res = append(res, dir)
	}
	sort.Strings(res)
	return res, nil
}
