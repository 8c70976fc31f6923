// Package trading sizes entry orders against the allocation cap and submits them.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/exchange"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitoring"
	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

// capTolerance leaves a symbol alone once it holds 99% of its cap
const capTolerance = 0.99

// Request asks for a buy of Symbol at roughly Price
type Request struct {
	Symbol           string
	Price            float64
	MaxAllocationPct float64 // percent of equity, e.g. 50
	// AIPositionSizePct is the advisor's sizing hint. It is logged, not applied.
	AIPositionSizePct float64
}

// Placement is a submitted entry order
type Placement struct {
	OrderID  string
	Symbol   string
	Price    float64
	Quantity float64
	Notional float64
}

// Links ties a trade row to the signal and decision that caused it
type Links struct {
	SignalID     int64
	AIDecisionID int64
	UserConfigID int64
}

// Placer sizes and submits market buys
type Placer struct {
	broker        exchange.Broker
	quoteCurrency string
	stopMult      float64
	validator     *safety.Validator
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewPlacer(broker exchange.Broker, quoteCurrency string, buyStopMultiplier float64, logger logrus.FieldLogger) *Placer {
	return &Placer{
		broker:        broker,
		quoteCurrency: quoteCurrency,
		stopMult:      buyStopMultiplier,
		validator:     safety.NewValidator(),
		logger:        logger,
		now:           time.Now,
	}
}

// Place sizes the order to fill the remaining allocation headroom and submits it.
// It returns nil with no error when no order is warranted or the exchange refuses one.
func (p *Placer) Place(ctx context.Context, req Request) (*Placement, error) {
	if res := p.validator.ValidateSymbol(req.Symbol); !res.Valid {
		return nil, boterrors.WrapError(res.Err(), boterrors.ErrorCategoryValidation, "placer", "place")
	}
	if res := p.validator.ValidatePrice(req.Price, req.Symbol); !res.Valid {
		return nil, boterrors.WrapError(res.Err(), boterrors.ErrorCategoryValidation, "placer", "place")
	}
	if res := p.validator.ValidateAllocation(req.MaxAllocationPct, req.Symbol); !res.Valid {
		return nil, boterrors.WrapError(res.Err(), boterrors.ErrorCategoryValidation, "placer", "place")
	}

	log := p.logger.WithFields(logrus.Fields{
		"symbol":         req.Symbol,
		"price":          req.Price,
		"max_allocation": req.MaxAllocationPct,
	})
	if req.AIPositionSizePct > 0 {
		log.WithField("ai_position_size_pct", req.AIPositionSizePct).Info("AI sizing hint received")
	}

	base, err := p.broker.GetBaseBalance(ctx, req.Symbol)
	if err != nil {
		log.WithError(err).Warn("Could not read base balance, skipping order")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "error")
		return nil, nil
	}
	funds, err := p.broker.GetEquityAndCash(ctx, p.quoteCurrency)
	if err != nil {
		log.WithError(err).Warn("Could not read account funds, skipping order")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "error")
		return nil, nil
	}

	if funds.Equity <= 0 {
		return nil, boterrors.NewBotError(boterrors.ErrorCategoryValidation, "placer", "place",
			fmt.Sprintf("account equity %.8f %s is not usable", funds.Equity, funds.Currency))
	}
	current, err := p.validator.SafeDivision(base*req.Price, funds.Equity)
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryValidation, "placer", "place")
	}

	capFrac := req.MaxAllocationPct / 100
	log = log.WithFields(logrus.Fields{
		"current_allocation": current,
		"equity":             funds.Equity,
		"cash":               funds.Cash,
	})
	if current >= capTolerance*capFrac {
		log.Info("Allocation cap reached, no order")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "cap_reached")
		return nil, nil
	}

	notional := (capFrac - current) * funds.Cash
	qty := notional / req.Price

	minSize, err := p.broker.GetMinOrderSize(ctx, req.Symbol)
	if err != nil {
		log.WithError(err).Warn("Could not read minimum order size, skipping order")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "error")
		return nil, nil
	}
	if qty <= minSize {
		log.WithFields(logrus.Fields{"quantity": qty, "min_size": minSize}).Info("Order below minimum size, no order")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "too_small")
		return nil, nil
	}

	orderID, err := p.broker.PlaceMarketBuy(ctx, req.Symbol, notional)
	if err != nil {
		botErr := boterrors.CategorizeError(err, boterrors.ErrorCategoryOrderPlacement, "placer", "place_market_buy")
		log.WithError(botErr).WithField("notional", notional).Error("Market buy failed")
		monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "failed")
		monitoring.RecordError(string(botErr.Category))
		return nil, nil
	}

	monitoring.RecordOrder(req.Symbol, string(exchange.SideBuy), "placed")
	log.WithFields(logrus.Fields{
		"order_id": orderID,
		"notional": notional,
		"quantity": qty,
	}).Info("Entry order placed")

	return &Placement{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Price:    req.Price,
		Quantity: qty,
		Notional: notional,
	}, nil
}

// Record stores the submitted entry as a submitted_buy trade
func (p *Placer) Record(ctx context.Context, st storage.Store, pl *Placement, links Links) error {
	trade := &storage.Trade{
		EntryOrderID:    pl.OrderID,
		SignalID:        links.SignalID,
		AIDecisionID:    links.AIDecisionID,
		UserConfigID:    links.UserConfigID,
		Symbol:          pl.Symbol,
		Side:            string(exchange.SideBuy),
		Quantity:        pl.Quantity,
		EntryPrice:      pl.Price,
		InitialStopLoss: pl.Price * p.stopMult,
		OrderStatus:     storage.StatusSubmittedBuy,
		OpenedAt:        p.now().UTC(),
	}
	if err := st.LogTrade(ctx, trade); err != nil {
		return fmt.Errorf("record trade %s: %w", pl.OrderID, err)
	}
	return nil
}
