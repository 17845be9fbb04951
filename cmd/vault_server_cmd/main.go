package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/sharebridge/vault-go/cmd"
	"github.com/sharebridge/vault-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "VAULT_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Vault server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Vault server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Make the configuration
	vsc := PrepareVaultServerConfig()
	if vsc == nil {
		fmt.Printf("Error loading vault server configuration\n")
		return
	}

	fmt.Println("Starting vault server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartVaultServerAndWait(vsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareVaultServerConfig reads configuration variables and returns a VaultServerConfig.
func PrepareVaultServerConfig() *cmd.VaultServerConfig {
	return &cmd.VaultServerConfig{
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// identities
		VaultAddress:  viper.GetString("VAULT_ADDRESS"),
		AssetAddress:  viper.GetString("ASSET_ADDRESS"),
		EscrowAddress: viper.GetString("ESCROW_ADDRESS"),
		// role holders
		OwnerAddress:    viper.GetString("OWNER_ADDRESS"),
		OperatorAddress: viper.GetString("OPERATOR_ADDRESS"),
		UpdaterAddress:  viper.GetString("UPDATER_ADDRESS"),
		// escrow side
		PendingTTLSeconds: viper.GetInt64("PENDING_TTL_SECONDS"),
		// oracle side
		InitialPrice:    viper.GetString("INITIAL_PRICE"),
		MaxDeviationBps: viper.GetUint64("MAX_DEVIATION_BPS"),
		PeriodSeconds:   viper.GetUint64("PERIOD_SECONDS"),
		// withdrawal side
		ChainId: viper.GetInt64("CHAIN_ID"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
