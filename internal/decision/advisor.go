package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/ema-crossover-bot/internal/config"
	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
)

// ChatModel is the subset of the eino chat model the advisor needs
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ModelFactory builds a chat model for one settings tuple
type ModelFactory func(ctx context.Context, s config.LLMSettings) (ChatModel, error)

// OpenAIModelFactory builds OpenAI-compatible chat models
func OpenAIModelFactory(apiKey, baseURL string, timeout time.Duration) ModelFactory {
	return func(ctx context.Context, s config.LLMSettings) (ChatModel, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		temperature := float32(s.Temperature)
		topP := float32(s.TopP)
		maxTokens := s.MaxTokens

		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      apiKey,
			BaseURL:     baseURL,
			Model:       s.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
			Timeout:     timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model %s: %w", s.Model, err)
		}
		return cm, nil
	}
}

// LLMAdvisor asks a chat model, speaking as the configured persona, for a decision
type LLMAdvisor struct {
	factory  ModelFactory
	personas *config.PersonaCatalog
	ai       config.AIConfig
	limiter  *safety.RateLimiter
	logger   logrus.FieldLogger

	mu     sync.Mutex
	models map[config.LLMSettings]ChatModel
}

func NewLLMAdvisor(factory ModelFactory, personas *config.PersonaCatalog, ai config.AIConfig, logger logrus.FieldLogger) *LLMAdvisor {
	return &LLMAdvisor{
		factory:  factory,
		personas: personas,
		ai:       ai,
		limiter:  safety.NewRateLimiter("llm", ai.RequestsPerSecond, ai.Burst),
		logger:   logger,
		models:   make(map[config.LLMSettings]ChatModel),
	}
}

// chatModel returns the cached model for s, building it on first use
func (a *LLMAdvisor) chatModel(ctx context.Context, s config.LLMSettings) (ChatModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cm, ok := a.models[s]; ok {
		return cm, nil
	}
	cm, err := a.factory(ctx, s)
	if err != nil {
		return nil, err
	}
	a.models[s] = cm
	return cm, nil
}

// RateLimiter exposes the limiter in front of the chat model
func (a *LLMAdvisor) RateLimiter() *safety.RateLimiter {
	return a.limiter
}

func (a *LLMAdvisor) Advise(ctx context.Context, dc Context) (Decision, AdviceMeta, error) {
	name := dc.Persona
	if name == "" {
		name = a.ai.Persona
	}
	persona, found := a.personas.Lookup(name)
	if !found {
		a.logger.WithField("persona", name).Warnf("Persona not found, using %s", persona.Name)
	}

	settings := a.ai.SettingsFor(persona)
	meta := AdviceMeta{
		ModelName:    settings.Model,
		Persona:      persona.Name,
		UserConfigID: dc.UserConfigID,
	}

	cm, err := a.chatModel(ctx, settings)
	if err != nil {
		return Hold(), meta, err
	}

	payload, err := dc.JSON()
	if err != nil {
		return Hold(), meta, fmt.Errorf("encode signal context: %w", err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return Hold(), meta, err
	}

	msg, err := cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage(SystemPrompt(persona)),
		schema.UserMessage(payload),
	})
	if err != nil {
		return Hold(), meta, fmt.Errorf("generate: %w", err)
	}
	if msg == nil || msg.Content == "" {
		return Hold(), meta, fmt.Errorf("%w: empty model response", ErrMalformed)
	}
	for _, tc := range msg.ToolCalls {
		meta.ToolsUsed = append(meta.ToolsUsed, tc.Function.Name)
	}

	d, err := Parse([]byte(msg.Content))
	if err != nil {
		return Hold(), meta, err
	}
	return d, meta, nil
}
