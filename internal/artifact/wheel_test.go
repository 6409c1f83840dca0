package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWheelFilename(t *testing.T) {
	w, err := ParseWheelFilename("mylib-1.0-py3-none-any.whl")
	require.NoError(t, err)
	assert.Equal(t, "mylib", w.Name)
	assert.Equal(t, "1.0", w.Version)
	assert.Equal(t, "py3", w.PythonTag)
	assert.Equal(t, "none", w.ABITag)
	assert.Equal(t, "any", w.PlatformTag)

	w, err = ParseWheelFilename("numpy-1.26.4-1-cp311-cp311-manylinux2014_s390x.whl")
	require.NoError(t, err)
	assert.Equal(t, "1", w.BuildTag)
	assert.Equal(t, "manylinux2014_s390x", w.PlatformTag)

	_, err = ParseWheelFilename("mylib-1.0.tar.gz")
	assert.Error(t, err)
	_, err = ParseWheelFilename("mylib-py3.whl")
	assert.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "my_lib", NormalizeName("My.Lib"))
	assert.Equal(t, "my_lib", NormalizeName("my-lib"))
	assert.Equal(t, "my_lib", NormalizeName("my__lib"))
}

func TestMatchesPackageBoundary(t *testing.T) {
	assert.True(t, MatchesPackage("mylib-1.0-py3-none-any.whl", "mylib"))
	assert.True(t, MatchesPackage("my_lib-1.0-py3-none-any.whl", "my-lib"))
	assert.False(t, MatchesPackage("mylib_extra-1.0-py3-none-any.whl", "mylib"))
	assert.False(t, MatchesPackage("mylib_extra-1.0-py3-none-any.whl", "mylib-extra-x"))
	assert.True(t, MatchesPackage("mylib_extra-1.0-py3-none-any.whl", "mylib-extra"))
	assert.False(t, MatchesPackage("mylibrary-1.0-py3-none-any.whl", "mylib"))
	assert.False(t, MatchesPackage("mylib", "mylib"))
}

func TestArtifactRemove(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.whl")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	a := &Artifact{Path: p, Filename: "a.whl"}
	require.NoError(t, a.Remove())
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, a.Remove(), "removing twice is fine")
	var nilArtifact *Artifact
	assert.NoError(t, nilArtifact.Remove())
}
