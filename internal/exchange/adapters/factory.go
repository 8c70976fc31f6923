package adapters

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
)

// SupportedExchanges lists the exchange names NewBroker accepts
func SupportedExchanges() []string {
	return []string{"bybit"}
}

// NewBroker creates the broker named in the exchange config
func NewBroker(cfg *config.BotConfig, logger logrus.FieldLogger) (exchange.Broker, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Exchange.Name))

	switch name {
	case "bybit":
		adapter, err := NewBybitAdapter(cfg.Exchange, cfg.Risk, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create bybit adapter: %w", err)
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("exchange %q is not supported (supported: %v)", cfg.Exchange.Name, SupportedExchanges())
	}
}
