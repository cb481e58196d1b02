package config

import (
	"time"

	"github.com/spf13/viper"
)

// LedgerConfig groups the tunables of the ledger engine.
type LedgerConfig struct {
	TreasuryAlias   string        // entity account that sources administrative credits
	MaxRetries      int           // bounded retries on transient lock conflicts
	RetryBackoff    time.Duration // pause between retries
	ProvisionTries  int           // attempts at generating a unique alias/routing pair
	LoanConcept     string        // fixed concept on loan disbursement movements
	DefaultConcept  string        // concept used when a transfer carries none
	RoutingPrefix   string        // bank prefix for generated routing numbers
	ReceiptCacheTTL time.Duration // redis TTL for receipt QR payloads
}

// LoadLedgerConfig reads ledger settings from viper with defaults.
func LoadLedgerConfig() *LedgerConfig {
	viper.SetDefault("ledger.treasury_alias", "banco.sur.tesoro")
	viper.SetDefault("ledger.max_retries", 3)
	viper.SetDefault("ledger.retry_backoff", 25*time.Millisecond)
	viper.SetDefault("ledger.provision_tries", 5)
	viper.SetDefault("ledger.loan_concept", "Loan disbursement")
	viper.SetDefault("ledger.default_concept", "Transfer")
	viper.SetDefault("ledger.routing_prefix", "285")
	viper.SetDefault("ledger.receipt_cache_ttl", 10*time.Minute)

	return &LedgerConfig{
		TreasuryAlias:   viper.GetString("ledger.treasury_alias"),
		MaxRetries:      viper.GetInt("ledger.max_retries"),
		RetryBackoff:    viper.GetDuration("ledger.retry_backoff"),
		ProvisionTries:  viper.GetInt("ledger.provision_tries"),
		LoanConcept:     viper.GetString("ledger.loan_concept"),
		DefaultConcept:  viper.GetString("ledger.default_concept"),
		RoutingPrefix:   viper.GetString("ledger.routing_prefix"),
		ReceiptCacheTTL: viper.GetDuration("ledger.receipt_cache_ttl"),
	}
}
