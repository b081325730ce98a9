package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultServer(), cfg.Server)
	assert.Equal(t, DefaultRules(), cfg.Rules)
	assert.Equal(t, DefaultStorage(), cfg.Storage)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://*.b.example")
	t.Setenv("RULES_BOARD_WIDTH", "11")
	t.Setenv("RULES_FORWARD_SCAN_REQUIRES_CAPTURE", "false")
	t.Setenv("RULES_BONUS_CELLS", "1:1")
	t.Setenv("DB_PATH", "off")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://*.b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 11, cfg.Rules.BoardWidth)
	assert.Equal(t, 9, cfg.Rules.BoardHeight)
	assert.False(t, cfg.Rules.ForwardScanRequiresCapture)
	assert.Equal(t, []string{"1:1"}, cfg.Rules.BonusCells)
	assert.Empty(t, cfg.Storage.DBPath)
}

func TestRulesRejectTinyBoard(t *testing.T) {
	t.Setenv("RULES_BOARD_HEIGHT", "2")

	_, err := RulesFromEnv()
	assert.Error(t, err)
}

func TestInvalidNumber(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := ServerFromEnv()
	assert.ErrorContains(t, err, "parse env")
}

func TestMirrorFromEnv(t *testing.T) {
	t.Setenv("MIRROR_URL", "ws://board:3000/ws")
	t.Setenv("MIRROR_SEAT_TOKEN", "tok")

	cfg, err := MirrorFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ws://board:3000/ws", cfg.URL)
	assert.Equal(t, "http://localhost", cfg.Origin)
	assert.Equal(t, "tok", cfg.Token)
}
