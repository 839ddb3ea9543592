package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/resilience"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// ProviderConfig selects and configures a provider
type ProviderConfig struct {
	Type ProviderType
	FCM  FCMConfig
	APNs APNsConfig
}

// NewProvider builds the configured provider; unknown types fall back to mock
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(cfg.Type)))

	switch cfg.Type {
	case ProviderTypeFCM:
		if cfg.FCM.ProjectID == "" {
			return nil, fmt.Errorf("FCM project ID is required for FCM provider")
		}
		return NewFCMProvider(ctx, &cfg.FCM)
	case ProviderTypeAPNs:
		return NewAPNsProvider(&cfg.APNs)
	case ProviderTypeMock, "":
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(cfg.Type)))
		return &MockProvider{}, nil
	}
}

type guardedProvider struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
}

// Guard routes every send through breaker so a dead provider stops being
// called until it recovers
func Guard(provider Provider, breaker *resilience.CircuitBreaker) Provider {
	return &guardedProvider{provider: provider, breaker: breaker}
}

func (g *guardedProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	var result *SendResult
	err := g.breaker.Execute(ctx, "send", func(ctx context.Context) error {
		var err error
		result, err = g.provider.Send(ctx, notification, tokens)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
