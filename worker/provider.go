package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/model/anthropic"
	"github.com/taskmesh/taskmesh/model/openai"
	"github.com/taskmesh/taskmesh/store"
)

// Supported backend providers. xAI and Groq speak the OpenAI wire protocol
// and reuse the openai adapter with a custom base URL.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderXAI       = "xai"
	ProviderGroq      = "groq"
)

const (
	xaiBaseURL  = "https://api.x.ai/v1"
	groqBaseURL = "https://api.groq.com/openai/v1"
)

// CredentialError marks a missing or unusable provider credential. It is a
// configuration problem, not a transient fault, so jobs hitting it fail
// immediately instead of entering the retry path.
type CredentialError struct {
	Provider string
	Key      string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("no API key available for provider %q (checked config and env %s)", e.Provider, e.Key)
}

// resolveAPIKey looks up the credential for a provider: the system_config
// table first so keys can be rotated without restarting workers, then the
// process environment.
func (w *Worker) resolveAPIKey(ctx context.Context, provider string) (string, error) {
	key := strings.ToUpper(provider) + "_API_KEY"

	value, err := w.store.ConfigValue(ctx, key)
	if err == nil && value != "" {
		w.logger.Debug("provider credential loaded from config", "provider", provider)
		return value, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("config credential lookup failed, falling back to env",
			"provider", provider, "error", err)
	}

	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", &CredentialError{Provider: provider, Key: key}
}

// buildModel constructs the backend for an agent record. An empty model name
// leaves the adapter's default in place.
func (w *Worker) buildModel(ctx context.Context, provider, modelName string) (model.Model, error) {
	if provider == "" {
		provider = ProviderAnthropic
	}

	apiKey, err := w.resolveAPIKey(ctx, provider)
	if err != nil {
		return nil, err
	}

	switch provider {
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = apiKey
			if modelName != "" {
				o.Model = anthropicsdk.Model(modelName)
			}
		}), nil

	case ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = apiKey
			if modelName != "" {
				o.Model = modelName
			}
		}), nil

	case ProviderXAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = apiKey
			o.Provider = ProviderXAI
			o.BaseURL = xaiBaseURL
			o.Model = modelName
			if o.Model == "" {
				o.Model = "grok-4-1-fast-reasoning"
			}
		}), nil

	case ProviderGroq:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = apiKey
			o.Provider = ProviderGroq
			o.BaseURL = groqBaseURL
			o.Model = modelName
			if o.Model == "" {
				o.Model = "llama-3.3-70b-versatile"
			}
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
