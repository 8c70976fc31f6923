package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrade(t *testing.T) {
	raw := "```json\n" + `{
		"action": "buy",
		"confidence": "High",
		"risk_score": 0.3,
		"position_size_pct": 0.05,
		"stop_loss_pct": 0.03,
		"take_profit_pct": 0.08,
		"rationale": "Fresh bullish cross with rising ADX.",
		"key_factors": {"ADX": "rising", "Volume": "above average"}
	}` + "\n```"

	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, d.IsTrade())
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, ConfidenceHigh, d.Confidence)
	assert.Equal(t, 0.05, d.PositionSizePct)
	assert.Equal(t, SourceAI, d.Source)
	assert.Equal(t, "rising", d.KeyFactors["ADX"])
	assert.JSONEq(t, `{"ADX":"rising","Volume":"above average"}`, d.KeyFactorsJSON())
}

func TestParseHold(t *testing.T) {
	d, err := Parse([]byte(`Here you go: {"action":"HOLD"}`))
	require.NoError(t, err)
	assert.Equal(t, KindHold, d.Kind)
	assert.Equal(t, ActionHold, d.Action)
	assert.False(t, d.IsTrade())
}

func TestParseKeyFactorVariants(t *testing.T) {
	d, err := Parse([]byte(`{"action":"SELL","confidence":"low","rationale":"weak","key_factors":["rsi overbought","volume fading"]}`))
	require.NoError(t, err)
	assert.Equal(t, "rsi overbought", d.KeyFactors["factor_1"])

	d, err = Parse([]byte(`{"action":"SELL","confidence":"low","rationale":"weak","key_factors":"divergence"}`))
	require.NoError(t, err)
	assert.Equal(t, "divergence", d.KeyFactors["summary"])
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":           `I think you should buy`,
		"missing action":     `{"confidence":"high"}`,
		"unknown action":     `{"action":"SHORT","confidence":"high","rationale":"x"}`,
		"bad confidence":     `{"action":"BUY","confidence":"very","rationale":"x"}`,
		"missing rationale":  `{"action":"BUY","confidence":"high"}`,
		"size above one":     `{"action":"BUY","confidence":"high","rationale":"x","position_size_pct":1.5}`,
		"negative risk":      `{"action":"BUY","confidence":"high","rationale":"x","risk_score":-0.1}`,
		"take profit over 5": `{"action":"BUY","confidence":"high","rationale":"x","take_profit_pct":6}`,
		"unknown source":     `{"action":"BUY","confidence":"high","rationale":"x","source":"human"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := Parse([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, Hold(), d)
		})
	}
}

func TestParseAcceptsUpperBounds(t *testing.T) {
	d, err := Parse([]byte(`{"action":"BUY","confidence":"medium","rationale":"x","risk_score":1,"position_size_pct":1,"stop_loss_pct":1,"take_profit_pct":5,"source":"rule_override"}`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, d.TakeProfitPct)
	assert.Equal(t, SourceRuleOverride, d.Source)
}
