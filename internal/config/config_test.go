package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MASTER_KEY", strings.Repeat("42", 32))
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LISTEN_ADDR", "localhost:7777")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:7777", cfg.ListenAddr)
	assert.Equal(t, "test-secret", cfg.JWTSecret)

	key, err := cfg.MasterKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoadClientNeedsNoMasterKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LISTEN_ADDR", "localhost:7777")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "localhost:7777", cfg.ServerAddr)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
}

func TestLoadRejectsBadMasterKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	t.Setenv("MASTER_KEY", "not hex")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MASTER_KEY", "abcd") // too short
	_, err = Load()
	assert.Error(t, err)
}
