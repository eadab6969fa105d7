package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("ORG_ID", "12345")
	t.Setenv("OAUTH_TOKEN", "y0_token")
}

func TestParseDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 15*time.Minute, cfg.UsersCacheTTL)
	assert.Equal(t, 1000, cfg.UsersPerPage)
	assert.Equal(t, 12, cfg.GeneratedPasswordLength)
	assert.Equal(t, "fail", cfg.LanguageFallback)
	assert.Equal(t, "https://api360.yandex.net/directory/v1/org/12345", cfg.DirectoryURL())
	assert.Len(t, cfg.RequiredScopes, 4)
}

func TestParseMissingToken(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("ORG_ID", "12345")
	t.Setenv("OAUTH_TOKEN", "")

	_, err := Parse()
	require.Error(t, err)
}

func TestParseDotenvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_FILE=from-dotenv.log\n"), 0600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("LOG_FILE") })

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.log", cfg.LogFile)
}

func TestValidateRejectsBadFallback(t *testing.T) {
	setRequired(t)
	t.Setenv("LANGUAGE_FALLBACK", "maybe")

	_, err := Parse()
	require.ErrorContains(t, err, "LANGUAGE_FALLBACK")
}

func TestValidateWelcomeNeedsSMTP(t *testing.T) {
	setRequired(t)
	t.Setenv("WELCOME_ENABLED", "true")

	_, err := Parse()
	require.ErrorContains(t, err, "SMTP_HOST")
}
