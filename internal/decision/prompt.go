package decision

import (
	"fmt"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
)

const decisionSchema = `Reply with a single JSON object and nothing else:
{
  "action": "BUY" | "SELL" | "HOLD",
  "confidence": "low" | "medium" | "high",
  "risk_score": number in [0,1], 0 = safe, 1 = very risky,
  "position_size_pct": number in [0,1], fraction of available balance,
  "stop_loss_pct": number in [0,1], stop distance from entry,
  "take_profit_pct": number in [0,5], target distance from entry,
  "rationale": "1-3 sentences",
  "key_factors": {"factor": "observation"},
  "source": "ai"
}
Use HOLD when conviction is insufficient or the inputs conflict.`

// SystemPrompt frames the advisor as the persona reviewing a crossover signal
func SystemPrompt(p config.Persona) string {
	style := p.LLMParameters.ResponseStyle
	if style == "" {
		style = "Concise"
	}
	return fmt.Sprintf(`You are %s acting as a disciplined crypto trade advisor. %s
Response style: %s.

You receive a deterministic EMA crossover signal on a spot market together with
its trend metrics (EMA slopes, separation, acceleration) and confirmation
metrics (ADX, DI, RSI, volume and ATR statistics). The bot only holds long spot
positions and always protects entries with a stop below the fill.

Judge whether the setup deserves capital.

%s`, p.Name, p.Description, style, decisionSchema)
}
