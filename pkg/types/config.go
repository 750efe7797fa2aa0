// Package types provides configuration types for the backtesting service.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestRequest represents the parameters for a single backtest run
type BacktestRequest struct {
	Symbol            string           `json:"symbol"`
	StartDate         time.Time        `json:"startDate"`
	EndDate           time.Time        `json:"endDate"`
	HoldingPeriodDays int              `json:"holdingPeriodDays"`
	StopLossPercent   *decimal.Decimal `json:"stopLossPercent,omitempty"`
	TakeProfitPercent *decimal.Decimal `json:"takeProfitPercent,omitempty"`
	Strategy          string           `json:"strategy"`
}

// Validate checks request invariants and clamps HoldingPeriodDays to its
// minimum of one day. It is called before any I/O happens.
func (r *BacktestRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return NewValidationError("symbol", "must not be empty")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return NewValidationError("startDate/endDate", "must both be set")
	}
	if !r.StartDate.Before(r.EndDate) {
		return NewValidationError("startDate", "must be before endDate")
	}
	if r.HoldingPeriodDays < 1 {
		r.HoldingPeriodDays = 1
	}
	if r.StopLossPercent != nil && !r.StopLossPercent.IsPositive() {
		return NewValidationError("stopLossPercent", "must be greater than zero")
	}
	if r.TakeProfitPercent != nil && !r.TakeProfitPercent.IsPositive() {
		return NewValidationError("takeProfitPercent", "must be greater than zero")
	}
	return nil
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout"`
	EnableMetrics bool          `mapstructure:"enableMetrics"`
}

// DataConfig represents storage configuration
type DataConfig struct {
	PriceDir     string `mapstructure:"priceDir"`
	DatabasePath string `mapstructure:"databasePath"`
}

// Config is the full service configuration, loaded via viper from file,
// environment and flag defaults.
type Config struct {
	Server     ServerConfig `mapstructure:"server"`
	Data       DataConfig   `mapstructure:"data"`
	LogLevel   string       `mapstructure:"logLevel"`
	EvalWorker int          `mapstructure:"evalWorkers"`
}
