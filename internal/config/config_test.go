package config

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {

	// Set test environment variables
	os.Setenv("LOG_ZAP_MODE", "test_mode")
	os.Setenv("SUBGRAPH_URL", "http://localhost:8000/subgraphs/market")
	os.Setenv("PRINT_CONFIGURATION_TO_LOGS", "true")

	// Get config
	cfg := Get()

	// Assert values
	assert.Equal(t, "test_mode", cfg.LogZapMode)
	assert.Equal(t, "http://localhost:8000/subgraphs/market", cfg.SubgraphUrl)
	assert.Equal(t, "true", cfg.PrintConfigurationToLogs)

	// Test singleton behavior
	cfg2 := Get()
	assert.Equal(t, cfg, cfg2)
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	// Reset viper
	viper.Reset()

	// Set test environment variables
	os.Setenv("LOG_ZAP_MODE", "debug")
	os.Setenv("SUBGRAPH_URL", "http://example.com/subgraph")
	os.Setenv("PRINT_CONFIGURATION_TO_LOGS", "false")
	os.Setenv("CHAIN_ID", "8453")
	os.Setenv("SYNC_DELAY_MS", "30000")

	cfg := loadConfig()

	assert.Equal(t, "debug", cfg.LogZapMode)
	assert.Equal(t, "http://example.com/subgraph", cfg.SubgraphUrl)
	assert.Equal(t, "false", cfg.PrintConfigurationToLogs)
	assert.Equal(t, uint64(8453), cfg.ChainID)
	assert.Equal(t, uint64(30000), cfg.SyncDelayMs)

	os.Unsetenv("CHAIN_ID")
	os.Unsetenv("SYNC_DELAY_MS")
}

func TestLoadConfigWithConfigFile(t *testing.T) {
	// Reset viper
	viper.Reset()

	// Create temporary config file
	content := []byte(`
LOG_ZAP_MODE=prod
SUBGRAPH_URL=http://file.example/subgraph
PRINT_CONFIGURATION_TO_LOGS=true
`)
	err := os.WriteFile("config.env", content, 0644)
	assert.NoError(t, err)
	defer os.Remove("config.env")

	// Clear environment variables to ensure we're reading from file
	os.Unsetenv("LOG_ZAP_MODE")
	os.Unsetenv("SUBGRAPH_URL")
	os.Unsetenv("PRINT_CONFIGURATION_TO_LOGS")

	cfg := loadConfig()

	assert.Equal(t, "prod", cfg.LogZapMode)
	assert.Equal(t, "http://file.example/subgraph", cfg.SubgraphUrl)
	assert.Equal(t, "true", cfg.PrintConfigurationToLogs)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	viper.Reset()
	content := []byte(`
	LOG_ZAP_MODE=prod
	SUBGRAPH_URL=http://file.example/subgraph
	PRINT_CONFIGURATION_TO_LOGS=true
	`)
	err := os.WriteFile("config.env", content, 0644)
	assert.NoError(t, err)
	defer os.Remove("config.env")

	// Set environment variables that should override file values
	os.Setenv("LOG_ZAP_MODE", "env_override")

	cfg := loadConfig()

	// Environment variable should override file value
	assert.Equal(t, "env_override", cfg.LogZapMode)
	// Other values should come from file
	assert.Equal(t, "http://file.example/subgraph", cfg.SubgraphUrl)
	assert.Equal(t, "true", cfg.PrintConfigurationToLogs)
}

func TestMissingConfigFile(t *testing.T) {
	// Reset viper
	viper.Reset()

	// Ensure config file doesn't exist
	os.Remove("config.env")

	// Set environment variables
	os.Setenv("LOG_ZAP_MODE", "fallback")
	os.Setenv("SUBGRAPH_URL", "http://env.example/subgraph")
	os.Setenv("PRINT_CONFIGURATION_TO_LOGS", "false")

	// Should not panic when config file is missing
	cfg := loadConfig()

	assert.Equal(t, "fallback", cfg.LogZapMode)
	assert.Equal(t, "http://env.example/subgraph", cfg.SubgraphUrl)
	assert.Equal(t, "false", cfg.PrintConfigurationToLogs)
}

func TestDebugConfigRedactsWalletPrivateKey(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	debugConfig(Config{
		PrintConfigurationToLogs: "true",
		WalletPrivateKey:         "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		SubgraphUrl:              "http://env.example/subgraph",
	})

	out := buf.String()
	assert.NotContains(t, out, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	assert.Contains(t, out, "[REDACTED]")
	// The rest of the configuration still prints.
	assert.Contains(t, out, "http://env.example/subgraph")
}

func TestLegacyGasChainIDSet(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[uint64]bool
	}{
		{"empty", "", map[uint64]bool{}},
		{"single", "137", map[uint64]bool{137: true}},
		{"multiple with spaces", "137, 56 ,250", map[uint64]bool{137: true, 56: true, 250: true}},
		{"junk entries skipped", "137,abc,,999", map[uint64]bool{137: true, 999: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{LegacyGasChainIds: tt.raw}
			assert.Equal(t, tt.want, cfg.LegacyGasChainIDSet())
		})
	}
}

// Reset the test environment after each test
func TestMain(m *testing.M) {
	// Run tests
	code := m.Run()

	// Cleanup
	os.Remove("config.env")
	os.Unsetenv("LOG_ZAP_MODE")
	os.Unsetenv("SUBGRAPH_URL")
	os.Unsetenv("PRINT_CONFIGURATION_TO_LOGS")

	os.Exit(code)
}
