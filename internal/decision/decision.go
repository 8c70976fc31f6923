// Package decision turns a detected signal into a validated trade decision.
// Anything that is not a well-formed BUY or SELL collapses to Hold.
package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind tags the decision variant
type Kind int

const (
	KindHold Kind = iota
	KindTrade
)

func (k Kind) String() string {
	if k == KindTrade {
		return "trade"
	}
	return "hold"
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type Source string

const (
	SourceAI           Source = "ai"
	SourceRuleOverride Source = "rule_override"
)

// ErrMalformed marks advisor output that fails schema validation
var ErrMalformed = errors.New("malformed decision")

// Decision is either Hold or a Trade carrying sizing and rationale
type Decision struct {
	Kind            Kind
	Action          Action
	Confidence      Confidence
	RiskScore       float64
	PositionSizePct float64
	StopLossPct     float64
	TakeProfitPct   float64
	Rationale       string
	KeyFactors      map[string]any
	Source          Source
}

// Hold is the no-trade outcome
func Hold() Decision {
	return Decision{Kind: KindHold, Action: ActionHold, Source: SourceAI}
}

// IsTrade reports whether the decision asks for an order
func (d Decision) IsTrade() bool {
	return d.Kind == KindTrade
}

// KeyFactorsJSON renders key factors for storage
func (d Decision) KeyFactorsJSON() string {
	if len(d.KeyFactors) == 0 {
		return ""
	}
	b, err := json.Marshal(d.KeyFactors)
	if err != nil {
		return ""
	}
	return string(b)
}

type payload struct {
	Action          string          `json:"action"`
	Confidence      string          `json:"confidence"`
	RiskScore       *float64        `json:"risk_score"`
	PositionSizePct *float64        `json:"position_size_pct"`
	StopLossPct     *float64        `json:"stop_loss_pct"`
	TakeProfitPct   *float64        `json:"take_profit_pct"`
	Rationale       string          `json:"rationale"`
	KeyFactors      json.RawMessage `json:"key_factors"`
	Source          string          `json:"source"`
}

// Parse validates raw advisor output. Code fences and prose around the JSON
// object are tolerated; everything inside it must match the schema.
func Parse(raw []byte) (Decision, error) {
	body := extractObject(raw)
	if body == nil {
		return Hold(), fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Hold(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	source := Source(strings.ToLower(strings.TrimSpace(p.Source)))
	switch source {
	case "":
		source = SourceAI
	case SourceAI, SourceRuleOverride:
	default:
		return Hold(), fmt.Errorf("%w: unknown source %q", ErrMalformed, p.Source)
	}

	action := Action(strings.ToUpper(strings.TrimSpace(p.Action)))
	switch action {
	case ActionHold:
		d := Hold()
		d.Source = source
		d.Rationale = strings.TrimSpace(p.Rationale)
		d.Confidence = Confidence(strings.ToLower(strings.TrimSpace(p.Confidence)))
		d.KeyFactors = parseKeyFactors(p.KeyFactors)
		return d, nil
	case ActionBuy, ActionSell:
	case "":
		return Hold(), fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return Hold(), fmt.Errorf("%w: unknown action %q", ErrMalformed, p.Action)
	}

	confidence := Confidence(strings.ToLower(strings.TrimSpace(p.Confidence)))
	switch confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return Hold(), fmt.Errorf("%w: confidence %q not in low|medium|high", ErrMalformed, p.Confidence)
	}

	d := Decision{
		Kind:       KindTrade,
		Action:     action,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(p.Rationale),
		KeyFactors: parseKeyFactors(p.KeyFactors),
		Source:     source,
	}
	if d.Rationale == "" {
		return Hold(), fmt.Errorf("%w: rationale is required", ErrMalformed)
	}

	bounds := []struct {
		name string
		v    *float64
		max  float64
		dst  *float64
	}{
		{"risk_score", p.RiskScore, 1, &d.RiskScore},
		{"position_size_pct", p.PositionSizePct, 1, &d.PositionSizePct},
		{"stop_loss_pct", p.StopLossPct, 1, &d.StopLossPct},
		{"take_profit_pct", p.TakeProfitPct, 5, &d.TakeProfitPct},
	}
	for _, b := range bounds {
		if b.v == nil {
			continue
		}
		if math.IsNaN(*b.v) || *b.v < 0 || *b.v > b.max {
			return Hold(), fmt.Errorf("%w: %s=%v outside [0,%v]", ErrMalformed, b.name, *b.v, b.max)
		}
		*b.dst = *b.v
	}
	return d, nil
}

func extractObject(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if bytes.HasPrefix(s, []byte("```")) {
		if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	}
	start := bytes.IndexByte(s, '{')
	end := bytes.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil
	}
	return s[start : end+1]
}

// parseKeyFactors accepts an object, a list of strings or a plain string
func parseKeyFactors(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make(map[string]any, len(list))
		for i, f := range list {
			out[fmt.Sprintf("factor_%d", i+1)] = f
		}
		return out
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return map[string]any{"summary": text}
	}
	return nil
}
