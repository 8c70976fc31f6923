package storage

import "time"

// OrderStatus is the lifecycle state of a trade row
type OrderStatus string

const (
	StatusSubmittedBuy   OrderStatus = "submitted_buy"
	StatusFilledBuy      OrderStatus = "filled_buy"
	StatusCanceledBuy    OrderStatus = "canceled_buy"
	StatusPlacedStopLoss OrderStatus = "placed_stop_loss"
	StatusClosed         OrderStatus = "closed"
)

// IsTerminal reports whether no further automated transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCanceledBuy
}

// Signal is a detected crossover. Only Processed changes after insert.
type Signal struct {
	ID                  int64
	Symbol              string
	SignalType          string
	Price               float64
	EMAMetrics          string
	ConfirmationMetrics string
	Strategy            string
	DetectedAt          time.Time
	Processed           bool
}

// AIDecision is the persisted output of the decision gateway for one signal
type AIDecision struct {
	ID              int64
	SignalID        int64
	UserConfigID    int64
	Symbol          string
	FastTimeframe   string
	SlowTimeframe   string
	Strategy        string
	Signal          string
	Action          string
	Confidence      string
	RiskScore       float64
	PositionSizePct float64
	StopLossPct     float64
	TakeProfitPct   float64
	Rationale       string
	KeyFactors      string
	Source          string
	ModelName       string
	ToolsUsed       string
	CreatedAt       time.Time
}

// Trade tracks one entry order and its protective exit
type Trade struct {
	EntryOrderID      string
	SignalID          int64
	AIDecisionID      int64
	UserConfigID      int64
	Symbol            string
	Side              string
	Quantity          float64
	EntryPrice        float64
	InitialStopLoss   float64
	OrderStatus       OrderStatus
	EntryFillPrice    float64
	EntryFillQuantity float64
	ExitAlgoID        string
	AmendedStopLoss   float64
	ExitFillPrice     float64
	ExitFillQuantity  float64
	ExitOrderID       string
	OpenedAt          time.Time
	ClosedAt          *time.Time
}

// UserConfig is a versioned set of strategy parameters and the AI persona
type UserConfig struct {
	ID                 int64
	AIPersona          string
	FastWindow         int
	SlowWindow         int
	ConfirmationWindow int
	ATRWindow          int
	ATRMultiplier      float64
	Usage              bool
	AddedAt            time.Time
	DiscontinuedAt     *time.Time
}

// SymbolConfig caps the share of equity a symbol may hold, in percent
type SymbolConfig struct {
	ID             int64
	Symbol         string
	MaxAllocation  float64
	Usage          bool
	AddedAt        time.Time
	DiscontinuedAt *time.Time
}
