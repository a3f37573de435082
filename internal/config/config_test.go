// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoadLiteralOverridesDefaults(t *testing.T) {
	cfg, err := Load(LiteralSource(map[string]any{
		"queue": map[string]any{"concurrency": 32},
	}))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Queue.Concurrency)
	// untouched sibling keys retain their defaults
	assert.Equal(t, "default", cfg.Queue.Name)
}

func TestLoadFileThenLiteralRightBiased(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  concurrency: 4\n  name: from-file\n"), 0o644))

	cfg, err := Load(
		FileSource(path),
		LiteralSource(map[string]any{"queue": map[string]any{"concurrency": 99}}),
	)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Queue.Concurrency)
	assert.Equal(t, "from-file", cfg.Queue.Name)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(FileSource("/nonexistent/config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Queue.Backend)
}

func TestLoadEnvSource(t *testing.T) {
	t.Setenv("DJED_QUEUE_CONCURRENCY", "17")
	cfg, err := Load(EnvSource("DJED"))
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.Queue.Concurrency)
}

func TestLoadValidationAccumulatesErrors(t *testing.T) {
	_, err := Load(LiteralSource(map[string]any{
		"queue": map[string]any{"concurrency": 0, "backend": "bogus"},
	}))
	require.Error(t, err)
	cfgErr, ok := err.(*ConfigError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(cfgErr.Errors), 2)
}

func TestLoadValidationErrorsAttributeSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: bogus\n"), 0o644))

	_, err := Load(
		FileSource(path),
		LiteralSource(map[string]any{"queue": map[string]any{"concurrency": 0}}),
	)
	require.Error(t, err)
	cfgErr, ok := err.(*ConfigError)
	require.True(t, ok)

	var cacheErr, queueErr *SourcedFieldError
	for i := range cfgErr.Errors {
		fe := &cfgErr.Errors[i]
		switch fe.Path {
		case "cache.backend":
			cacheErr = fe
		case "queue.concurrency":
			queueErr = fe
		}
	}
	require.NotNil(t, cacheErr)
	require.NotNil(t, queueErr)
	assert.Equal(t, "file://"+path, cacheErr.Source)
	assert.Equal(t, "literal", queueErr.Source)
}

func TestDurationDecodingFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  dial_timeout: 2s\n"), 0o644))
	cfg, err := Load(FileSource(path))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Redis.DialTimeout)
}
