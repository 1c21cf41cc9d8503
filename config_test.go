package dunning

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultCurrency != "kes" {
		t.Errorf("DefaultCurrency = %q, want kes", cfg.DefaultCurrency)
	}
	if cfg.PaybillCode != "" {
		t.Errorf("PaybillCode = %q, want empty", cfg.PaybillCode)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DUNNING_PAYBILL_CODE", "522533")
	t.Setenv("DUNNING_DEFAULT_CURRENCY", "tzs")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PaybillCode != "522533" {
		t.Errorf("PaybillCode = %q, want 522533", cfg.PaybillCode)
	}
	if cfg.DefaultCurrency != "tzs" {
		t.Errorf("DefaultCurrency = %q, want tzs", cfg.DefaultCurrency)
	}
}
