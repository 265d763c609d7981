package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_INCEPTION", "")
	t.Setenv("ADMIN_TOKEN_HASH", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.ReportCacheTTL)
	require.False(t, cfg.AllowNegativeStock)
	require.Equal(t, "0 3 * * *", cfg.DriftCheckCron)
	require.Error(t, cfg.ValidateServer())

	inception, err := cfg.InceptionDate()
	require.NoError(t, err)
	require.True(t, inception.IsZero())
}

func TestLoadConfigInception(t *testing.T) {
	t.Setenv("LEDGER_INCEPTION", "2024-01-01")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.AllowNegativeStock)
	inception, err := cfg.InceptionDate()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), inception)

	t.Setenv("LEDGER_INCEPTION", "01/01/2024")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "LEDGER_INCEPTION")
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
