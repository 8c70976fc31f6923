package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramBaseURL = "https://api.telegram.org"

type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return newTelegramNotifier(telegramBaseURL, token, chatID)
}

func newTelegramNotifier(baseURL, token, chatID string) *TelegramNotifier {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(2)

	return &TelegramNotifier{
		client: client,
		token:  token,
		chatID: chatID,
	}
}

func (t *TelegramNotifier) SendAlert(ctx context.Context, level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *Crossover Bot Alert*\n\n%s", emoji, message)

	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetFormData(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}
