package dunning

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds engine settings that vary per deployment.
type Config struct {
	// PaybillCode is the mobile money paybill customers pay into. It is
	// included verbatim in suspension notifications.
	PaybillCode string `mapstructure:"DUNNING_PAYBILL_CODE"`

	// DefaultCurrency is the ISO currency code used when a subscription
	// does not carry one.
	DefaultCurrency string `mapstructure:"DUNNING_DEFAULT_CURRENCY"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	viper.SetDefault("DUNNING_DEFAULT_CURRENCY", "kes")
	viper.AutomaticEnv()

	_ = viper.BindEnv("DUNNING_PAYBILL_CODE")
	_ = viper.BindEnv("DUNNING_DEFAULT_CURRENCY")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
