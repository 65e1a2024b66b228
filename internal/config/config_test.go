package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("RPC_ENDPOINT", "https://rpc.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "18.234.24.82:50051", cfg.StreamEndpoint)
	require.Equal(t, 5000, cfg.StreamReconnectMs)
	require.Equal(t, 0, cfg.StreamMaxAttempts)
	require.Equal(t, 2.0, cfg.TradeAmountUsdc)
	require.Equal(t, []string{"WIF"}, cfg.TradeAllowedTokens)
	require.Equal(t, 50.0, cfg.RiskMaxPositionUsdc)
	require.False(t, cfg.ExitEnabled)
	require.Equal(t, []TakeProfitTarget{{50, 25}, {100, 50}, {300, 100}}, cfg.ExitTakeProfitTargets)
	require.Nil(t, cfg.ExitTrailingStopPct)
}

func TestLoadRequiresRPCEndpoint(t *testing.T) {
	os.Clearenv()
	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesOptionalTrailingStop(t *testing.T) {
	os.Clearenv()
	os.Setenv("RPC_ENDPOINT", "https://rpc.example.com")
	os.Setenv("EXIT_TRAILING_STOP_PCT", "20")
	os.Setenv("EXIT_TRAILING_ACTIVATION_PCT", "50")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.ExitTrailingStopPct)
	require.Equal(t, 20.0, *cfg.ExitTrailingStopPct)
	require.Equal(t, 50.0, *cfg.ExitTrailingActivationPct)
}
