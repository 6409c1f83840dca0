package artifact

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Wheel is a parsed wheel filename:
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl
type Wheel struct {
	Filename    string `json:"filename"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	BuildTag    string `json:"build_tag,omitempty"`
	PythonTag   string `json:"python_tag"`
	ABITag      string `json:"abi_tag"`
	PlatformTag string `json:"platform_tag"`
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName canonicalizes a distribution name so that "My.Lib", "my-lib"
// and "my_lib" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(strings.TrimSpace(name), "_"))
}

// ParseWheelFilename splits a wheel filename into its tags.
func ParseWheelFilename(filename string) (Wheel, error) {
	if !strings.HasSuffix(filename, ".whl") {
		return Wheel{}, fmt.Errorf("not a wheel filename: %q", filename)
	}
	parts := strings.Split(strings.TrimSuffix(filename, ".whl"), "-")
	w := Wheel{Filename: filename}
	switch len(parts) {
	case 5:
		w.Name, w.Version, w.PythonTag, w.ABITag, w.PlatformTag = parts[0], parts[1], parts[2], parts[3], parts[4]
	case 6:
		w.Name, w.Version, w.BuildTag, w.PythonTag, w.ABITag, w.PlatformTag = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	default:
		return Wheel{}, fmt.Errorf("malformed wheel filename: %q", filename)
	}
	if w.Name == "" || w.Version == "" {
		return Wheel{}, fmt.Errorf("malformed wheel filename: %q", filename)
	}
	return w, nil
}

// Matches reports whether the wheel belongs to the given package.
func (w Wheel) Matches(pkg string) bool {
	return NormalizeName(w.Name) == NormalizeName(pkg)
}

// MatchesPackage reports whether filename is a wheel of pkg. The comparison is
// on the whole distribution-name component, so "mylib_extra-1.0-...whl" is not
// a wheel of "mylib". Names that are not parseable wheels fall back to a
// prefix check that requires a "-" right after the package name.
func MatchesPackage(filename, pkg string) bool {
	if w, err := ParseWheelFilename(filename); err == nil {
		return w.Matches(pkg)
	}
	name, _, ok := strings.Cut(filename, "-")
	return ok && NormalizeName(name) == NormalizeName(pkg)
}

// Artifact is a wheel downloaded to the local filesystem.
type Artifact struct {
	Path     string
	Filename string
}

// Open opens the local file for reading.
func (a *Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Remove deletes the local file. A file that is already gone is not an error.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
