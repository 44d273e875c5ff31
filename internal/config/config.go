package config

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	LogZapMode               string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`
	EthereumNodeUrl          string `mapstructure:"ETHEREUM_NODE_URL"`
	ChainID                  uint64 `mapstructure:"CHAIN_ID"`
	MarketplaceAddress       string `mapstructure:"MARKETPLACE_ADDRESS"`
	TokenContractAddress     string `mapstructure:"TOKEN_CONTRACT_ADDRESS"`
	LegacyGasChainIds        string `mapstructure:"LEGACY_GAS_CHAIN_IDS"`
	SyncDelayMs              uint64 `mapstructure:"SYNC_DELAY_MS"`
	ConfirmationCount        uint64 `mapstructure:"CONFIRMATION_COUNT"`
	ConfirmationTimeoutMs    uint64 `mapstructure:"CONFIRMATION_TIMEOUT_MS"`
	BadgerPath               string `mapstructure:"BADGER_PATH"`
	SqlitePath               string `mapstructure:"SQLITE_PATH"`
	MetricsPort              uint64 `mapstructure:"METRICS_PORT"`
	SubgraphUrl              string `mapstructure:"SUBGRAPH_URL"`
	WalletPrivateKey         string `mapstructure:"WALLET_PRIVATE_KEY"`
}

// LegacyGasChainIDSet parses the comma-separated LEGACY_GAS_CHAIN_IDS value.
// Chains in this set get a single gasPrice instead of EIP-1559 fields, to
// work around wallet/network combinations known to mishandle type-2
// transactions.
func (c Config) LegacyGasChainIDSet() map[uint64]bool {
	out := map[uint64]bool{}
	for _, part := range strings.Split(c.LegacyGasChainIds, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			continue
		}
		out[id] = true
	}
	return out
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	viperAddConfigFile()
	viperAddEnv()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		err := viper.BindEnv(mapStructureVal)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		if cfg.WalletPrivateKey != "" {
			cfg.WalletPrivateKey = "[REDACTED]"
		}
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}
