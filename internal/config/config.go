/**
 * @description
 * This file handles configuration management for the settlement-service.
 * It loads settings from environment variables, providing defaults for the
 * split rates, scheduling, and chain interaction knobs.
 *
 * The master encryption key and gateway credentials have no defaults on
 * purpose; their values are validated where they are consumed.
 */
package config

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the settlement service.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	AsaasAPIBaseURL string `mapstructure:"ASAAS_API_BASE_URL"`
	AsaasAPIKey     string `mapstructure:"ASAAS_API_KEY"`

	ChainRPCURL           string `mapstructure:"CHAIN_RPC_URL"`
	ChainID               int64  `mapstructure:"CHAIN_ID"`
	NFTContractAddress    string `mapstructure:"NFT_CONTRACT_ADDRESS"`
	GasBufferPercent      int64  `mapstructure:"GAS_BUFFER_PERCENT"`
	TxConfirmTimeoutSecs  int64  `mapstructure:"TX_CONFIRM_TIMEOUT_SECONDS"`
	MasterEncryptionKey   string `mapstructure:"MASTER_ENCRYPTION_KEY"`
	AdminWalletOwnerID    string `mapstructure:"ADMIN_WALLET_OWNER_ID"`

	AgencyRate           float64 `mapstructure:"AGENCY_RATE"`
	VinculoRate          float64 `mapstructure:"VINCULO_RATE"`
	GuarantorRate        float64 `mapstructure:"GUARANTOR_RATE"`
	KYCPrimeThreshold    int     `mapstructure:"KYC_PRIME_THRESHOLD"`
	PrimeGuaranteeFactor float64 `mapstructure:"PRIME_GUARANTEE_FACTOR"`
	BaseFineMonths       int     `mapstructure:"BASE_FINE_MONTHS"`

	BillingCron    string `mapstructure:"BILLING_CRON"`
	ChargeSyncCron string `mapstructure:"CHARGE_SYNC_CRON"`
	OverdueCron    string `mapstructure:"OVERDUE_CRON"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("PORT", "8086")
	viper.SetDefault("ASAAS_API_BASE_URL", "https://sandbox.asaas.com/api")
	viper.SetDefault("CHAIN_ID", 80002) // Polygon Amoy testnet
	viper.SetDefault("GAS_BUFFER_PERCENT", 20)
	viper.SetDefault("TX_CONFIRM_TIMEOUT_SECONDS", 120)
	viper.SetDefault("AGENCY_RATE", 0.05)
	viper.SetDefault("VINCULO_RATE", 0.03)
	viper.SetDefault("GUARANTOR_RATE", 0.07)
	viper.SetDefault("KYC_PRIME_THRESHOLD", 800)
	viper.SetDefault("PRIME_GUARANTEE_FACTOR", 0.5)
	viper.SetDefault("BASE_FINE_MONTHS", 3)
	viper.SetDefault("BILLING_CRON", "0 6 1 * *")     // At 06:00 on day-of-month 1.
	viper.SetDefault("CHARGE_SYNC_CRON", "*/30 * * * *")
	viper.SetDefault("OVERDUE_CRON", "0 7 * * *") // At 07:00 every day.
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ASAAS_API_BASE_URL")
	_ = viper.BindEnv("ASAAS_API_KEY")
	_ = viper.BindEnv("CHAIN_RPC_URL")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("NFT_CONTRACT_ADDRESS")
	_ = viper.BindEnv("GAS_BUFFER_PERCENT")
	_ = viper.BindEnv("TX_CONFIRM_TIMEOUT_SECONDS")
	_ = viper.BindEnv("MASTER_ENCRYPTION_KEY")
	_ = viper.BindEnv("ADMIN_WALLET_OWNER_ID")
	_ = viper.BindEnv("AGENCY_RATE")
	_ = viper.BindEnv("VINCULO_RATE")
	_ = viper.BindEnv("GUARANTOR_RATE")
	_ = viper.BindEnv("KYC_PRIME_THRESHOLD")
	_ = viper.BindEnv("PRIME_GUARANTEE_FACTOR")
	_ = viper.BindEnv("BASE_FINE_MONTHS")
	_ = viper.BindEnv("BILLING_CRON")
	_ = viper.BindEnv("CHARGE_SYNC_CRON")
	_ = viper.BindEnv("OVERDUE_CRON")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.BaseFineMonths < 0 {
		config.BaseFineMonths = 0
	}
	if config.GasBufferPercent < 0 {
		config.GasBufferPercent = 0
	}

	return &config, nil
}
