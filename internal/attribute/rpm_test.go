package attribute

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRPMAttributorMissingManifest(t *testing.T) {
	dir := t.TempDir()
	attr, err := NewRPMAttributor(dir)
	require.NoError(t, err)

	claimants, err := attr.Resolve("/usr/bin/bash")
	require.NoError(t, err)
	assert.Empty(t, claimants)
}

func TestNewRPMAttributorResolvesPackages(t *testing.T) {
	dir := t.TempDir()
	manifestDir := filepath.Join(dir, "var", "lib", "rpm")
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, ".rpm-manifest.json"), []byte(`{
		"packages": {
			"bash": ["/usr/bin/bash", "/usr/bin/sh"],
			"glibc": ["/usr/bin/sh"]
		}
	}`), 0o644))

	attr, err := NewRPMAttributor(dir)
	require.NoError(t, err)

	claimants, err := attr.Resolve("/usr/bin/bash")
	require.NoError(t, err)
	assert.Equal(t, []string{"rpm/bash"}, claimants)

	shared, err := attr.Resolve("/usr/bin/sh")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rpm/bash", "rpm/glibc"}, shared)
}

func TestNewRPMAttributorMalformedManifest(t *testing.T) {
	dir := t.TempDir()
	manifestDir := filepath.Join(dir, "var", "lib", "rpm")
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, ".rpm-manifest.json"), []byte("{not json"), 0o644))

	_, err := NewRPMAttributor(dir)
	assert.Error(t, err)
}
