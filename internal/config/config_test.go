package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SPENDGUARD_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0 * * * *", cfg.MonitorSchedule)
	assert.Equal(t, 24, cfg.MonitorWindow)
	assert.Equal(t, "0 3 * * *", cfg.MaintenanceSchedule)
	assert.Nil(t, cfg.HighRiskDefault)
	assert.InDelta(t, 0.10, cfg.Tunables.WarningBand, 1e-9)
	assert.Equal(t, 5, cfg.Tunables.MaxIterations)
	assert.InDelta(t, 10.0, cfg.Tunables.MaxTransferPerPass, 1e-9)
	assert.InDelta(t, 1.0, cfg.Tunables.MinShareEpsilon, 1e-9)
	assert.InDelta(t, 5.0, cfg.Tunables.SeedShare, 1e-9)
	assert.InDelta(t, 0.5, cfg.Tunables.SumEpsilon, 1e-9)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SPENDGUARD_DATA_DIR", t.TempDir())
	t.Setenv("SPENDGUARD_PORT", "9090")
	t.Setenv("SPENDGUARD_WARNING_BAND", "0.25")
	t.Setenv("SPENDGUARD_MAX_ITERATIONS", "8")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("SPENDGUARD_HIGH_RISK_ENTITIES", "Malaysia, Thailand,Vietnam")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.InDelta(t, 0.25, cfg.Tunables.WarningBand, 1e-9)
	assert.Equal(t, 8, cfg.Tunables.MaxIterations)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, []string{"Malaysia", "Thailand", "Vietnam"}, cfg.HighRiskDefault)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("SPENDGUARD_DATA_DIR", t.TempDir())
	t.Setenv("SPENDGUARD_PORT", "not-a-number")
	t.Setenv("SPENDGUARD_WARNING_BAND", "huge")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.InDelta(t, 0.10, cfg.Tunables.WarningBand, 1e-9)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Port: 8080, Tunables: Tunables{WarningBand: 0.1, MaxIterations: 5, SumEpsilon: 0.5}}
	assert.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tunables.WarningBand = 1.5
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tunables.MaxIterations = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tunables.SumEpsilon = 0
	assert.Error(t, bad.Validate())
}
