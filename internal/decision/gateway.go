package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	boterrors "github.com/ducminhle1904/ema-crossover-bot/internal/errors"
	"github.com/ducminhle1904/ema-crossover-bot/internal/monitoring"
	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

// DefaultTimeout bounds one advisor call
const DefaultTimeout = 45 * time.Second

const storeWriteTimeout = 10 * time.Second

// AdviceMeta describes how an advice was produced
type AdviceMeta struct {
	ModelName    string
	Persona      string
	UserConfigID int64
	ToolsUsed    []string
}

// Advisor produces a decision for a signal context
type Advisor interface {
	Advise(ctx context.Context, dc Context) (Decision, AdviceMeta, error)
}

// Gateway wraps an Advisor so that every failure becomes Hold and every
// evaluated signal is marked processed.
type Gateway struct {
	advisor Advisor
	opener  storage.Opener
	timeout time.Duration
	logger  logrus.FieldLogger
	stats   *boterrors.ErrorStats
}

func NewGateway(advisor Advisor, opener storage.Opener, logger logrus.FieldLogger, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		advisor: advisor,
		opener:  opener,
		timeout: timeout,
		logger:  logger,
		stats:   boterrors.NewErrorStats(50),
	}
}

// Stats exposes gateway failure counts
func (g *Gateway) Stats() *boterrors.ErrorStats {
	return g.stats
}

// Evaluate never fails: the result is Hold unless the advisor returned a valid decision.
func (g *Gateway) Evaluate(ctx context.Context, signalID int64, dc Context) Decision {
	log := g.logger.WithFields(logrus.Fields{
		"symbol":    dc.Symbol,
		"signal_id": signalID,
	})

	d, meta, err := g.advise(ctx, dc)
	if err != nil {
		botErr := boterrors.CategorizeError(err, boterrors.ErrorCategoryGateway, "decision", "advise")
		g.stats.RecordError(botErr)
		monitoring.RecordError(string(botErr.Category))
		log.WithError(err).Warn("Decision gateway failed, treating as HOLD")
		d = Hold()
	} else {
		log.WithFields(logrus.Fields{
			"action":            d.Action,
			"confidence":        d.Confidence,
			"position_size_pct": d.PositionSizePct,
			"model":             meta.ModelName,
		}).Info("Decision received")
		g.persist(ctx, signalID, dc, d, meta, log)
	}

	g.markProcessed(ctx, signalID, log)
	monitoring.RecordDecision(string(d.Action))
	return d
}

type adviceResult struct {
	decision Decision
	meta     AdviceMeta
	err      error
}

func (g *Gateway) advise(ctx context.Context, dc Context) (Decision, AdviceMeta, error) {
	if g.advisor == nil {
		return Hold(), AdviceMeta{}, fmt.Errorf("no advisor configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan adviceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- adviceResult{decision: Hold(), err: fmt.Errorf("advisor panic: %v", r)}
			}
		}()
		d, meta, err := g.advisor.Advise(ctx, dc)
		done <- adviceResult{decision: d, meta: meta, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Hold(), r.meta, r.err
		}
		return r.decision, r.meta, nil
	case <-ctx.Done():
		return Hold(), AdviceMeta{}, fmt.Errorf("advisor: %w", ctx.Err())
	}
}

// storeContext survives cancellation of the cycle so bookkeeping still lands
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

func (g *Gateway) persist(ctx context.Context, signalID int64, dc Context, d Decision, meta AdviceMeta, log logrus.FieldLogger) {
	if g.opener == nil {
		return
	}
	ctx, cancel := storeContext(ctx)
	defer cancel()

	userConfigID := meta.UserConfigID
	if userConfigID == 0 {
		userConfigID = dc.UserConfigID
	}
	rec := &storage.AIDecision{
		SignalID:        signalID,
		UserConfigID:    userConfigID,
		Symbol:          dc.Symbol,
		FastTimeframe:   dc.FastTimeframe,
		SlowTimeframe:   dc.ConfirmTimeframe,
		Strategy:        dc.Strategy,
		Signal:          dc.Direction,
		Action:          string(d.Action),
		Confidence:      string(d.Confidence),
		RiskScore:       d.RiskScore,
		PositionSizePct: d.PositionSizePct,
		StopLossPct:     d.StopLossPct,
		TakeProfitPct:   d.TakeProfitPct,
		Rationale:       d.Rationale,
		KeyFactors:      d.KeyFactorsJSON(),
		Source:          string(d.Source),
		ModelName:       meta.ModelName,
		ToolsUsed:       strings.Join(meta.ToolsUsed, ", "),
		CreatedAt:       time.Now().UTC(),
	}
	err := storage.With(ctx, g.opener, func(st storage.Store) error {
		_, err := st.LogAIDecision(ctx, rec)
		return err
	})
	if err != nil {
		monitoring.RecordError(string(boterrors.ErrorCategoryStore))
		log.WithError(err).Error("Failed to log AI decision")
	}
}

func (g *Gateway) markProcessed(ctx context.Context, signalID int64, log logrus.FieldLogger) {
	if g.opener == nil {
		return
	}
	ctx, cancel := storeContext(ctx)
	defer cancel()

	err := storage.With(ctx, g.opener, func(st storage.Store) error {
		changed, err := st.MarkSignalProcessed(ctx, signalID)
		if err != nil {
			return err
		}
		if !changed {
			log.Warn("Signal was already marked processed")
		}
		return nil
	})
	if err != nil {
		monitoring.RecordError(string(boterrors.ErrorCategoryStore))
		log.WithError(err).Error("Failed to mark signal processed")
	}
}
