package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToBaselineWhenManifestMissing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	names, err := c.Names("basic")
	require.NoError(t, err)
	assert.Len(t, names, 15)
}

func TestLoadParsesManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	body := `{
		"total_features": 2,
		"feature_levels": {"full": {"features": ["a", "b"], "count": 2, "model_file": "full.json"}},
		"feature_categories": {"momentum": {"features": ["a"]}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	names, err := c.Names("full")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.True(t, c.HasLevel("full"))
	assert.False(t, c.HasLevel("stacking"))
}

func TestNamesErrorsOnUnknownLevel(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, err = c.Names("stacking")
	assert.Error(t, err)
}
