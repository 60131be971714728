package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-quiz/internal/config"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"MODE", "HTTP_ADDR", "QUIZ_DURATION_SEC", "SUBMIT_GRACE", "REAP_INTERVAL", "LOCAL_AUTH_PASS_HASH", "ADMIN_PASS_HASH"} {
		t.Setenv(k, "")
	}
	cfg := config.FromEnv()
	assert.Equal(t, config.ModeOffline, cfg.Mode)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 600*time.Second, cfg.QuizDuration)
	assert.Equal(t, 30*time.Second, cfg.SubmitGrace)
	assert.Equal(t, time.Minute, cfg.ReapInterval)
	assert.Empty(t, cfg.StudentPassHash)
	assert.Empty(t, cfg.AdminPassHash, "no admin credential unless configured")
	assert.Equal(t, cfg.CORSOriginsOffline, cfg.CORSOrigins())
}

func TestOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("QUIZ_DURATION_SEC", "900")
	t.Setenv("SUBMIT_GRACE", "45")
	t.Setenv("REAP_INTERVAL", "15s")
	t.Setenv("ENABLE_LOCAL_AUTH", "no")
	t.Setenv("CORS_ORIGINS_ONLINE", "https://a.example, https://b.example ,")

	cfg := config.FromEnv()
	assert.Equal(t, 900*time.Second, cfg.QuizDuration)
	assert.Equal(t, 45*time.Second, cfg.SubmitGrace)
	assert.Equal(t, 15*time.Second, cfg.ReapInterval)
	assert.False(t, cfg.EnableLocalAuth)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("QUIZ_DURATION_SEC=120\nHTTP_ADDR=:9999\n"), 0o644))
	t.Setenv("QUIZ_DURATION_SEC", "")
	os.Unsetenv("QUIZ_DURATION_SEC")
	t.Setenv("HTTP_ADDR", ":7000")

	require.NoError(t, config.LoadDotEnv(path))
	cfg := config.FromEnv()
	assert.Equal(t, 120*time.Second, cfg.QuizDuration)
	assert.Equal(t, ":7000", cfg.HTTPAddr, "existing variables win")

	assert.NoError(t, config.LoadDotEnv(filepath.Join(dir, "missing.env")))
}
