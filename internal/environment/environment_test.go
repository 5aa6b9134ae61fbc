package environment

import (
	"os"
	"path/filepath"
	"testing"

	"api-runner/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AtMostOneActive(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(VariableSet{Name: "dev", Active: true, Variables: []Variable{{Key: "host", Value: "dev.test"}}}))
	require.NoError(t, s.Add(VariableSet{Name: "prod", Variables: []Variable{{Key: "host", Value: "prod.test"}}}))

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "dev", active.Name)
	assert.Equal(t, map[string]string{"host": "dev.test"}, s.ActiveVariables())

	require.NoError(t, s.Activate("prod"))
	active, _ = s.Active()
	assert.Equal(t, "prod", active.Name)

	count := 0
	for _, set := range s.List() {
		if set.Active {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// Adding another active set moves the flag.
	require.NoError(t, s.Add(VariableSet{Name: "stage", Active: true}))
	dev, _ := s.Get("dev")
	prod, _ := s.Get("prod")
	stage, _ := s.Get("stage")
	assert.False(t, dev.Active)
	assert.False(t, prod.Active)
	assert.True(t, stage.Active)
}

func TestStore_Errors(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(VariableSet{Name: "dev"}))
	assert.ErrorIs(t, s.Add(VariableSet{Name: "dev"}), ErrDuplicate)
	assert.ErrorIs(t, s.Activate("missing"), ErrNotFound)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestStore_NothingActive(t *testing.T) {
	s := NewStore()
	_, ok := s.Active()
	assert.False(t, ok)
	assert.Equal(t, map[string]string{}, s.ActiveVariables())

	require.NoError(t, s.Add(VariableSet{Name: "dev", Active: true}))
	s.Deactivate()
	_, ok = s.Active()
	assert.False(t, ok)
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	vars := []Variable{{Key: "a", Value: "1"}}
	s := NewStore()
	require.NoError(t, s.Add(VariableSet{Name: "dev", Active: true, Variables: vars}))
	vars[0].Value = "mutated"

	got, _ := s.Get("dev")
	got.Variables[0].Value = "also mutated"
	assert.Equal(t, map[string]string{"a": "1"}, s.ActiveVariables())
}

func TestVariableSet_MapLaterWins(t *testing.T) {
	vs := VariableSet{Variables: []Variable{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}}}
	assert.Equal(t, map[string]string{"a": "2"}, vs.Map())
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nTOKEN=abc\nBASE=\"http://x\"\n"), 0644))

	vars, err := LoadDotenv(path)
	require.NoError(t, err)
	assert.Equal(t, []Variable{{Key: "BASE", Value: "http://x"}, {Key: "TOKEN", Value: "abc"}}, vars)

	_, err = LoadDotenv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prod.env"), []byte("HOST=file.test\nEXTRA=1\n"), 0644))

	envs := []config.EnvironmentConfig{
		{Name: "dev", Variables: config.OrderedVars{{Key: "HOST", Value: "dev.test"}}},
		{
			Name:      "prod",
			Active:    true,
			EnvFile:   "prod.env",
			Variables: config.OrderedVars{{Key: "HOST", Value: "inline.test"}},
		},
	}
	store, err := FromConfig(envs, func(p string) string { return filepath.Join(dir, p) })
	require.NoError(t, err)

	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, "prod", active.Name)
	assert.Equal(t, []Variable{{Key: "HOST", Value: "inline.test"}, {Key: "EXTRA", Value: "1"}}, active.Variables)

	_, err = FromConfig([]config.EnvironmentConfig{{Name: "x", EnvFile: "nope.env"}}, func(p string) string { return filepath.Join(dir, p) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment 'x'")
}
