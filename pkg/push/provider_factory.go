package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

type ProviderType string

const (
	ProviderTypeMock     ProviderType = "mock"
	ProviderTypeFirebase ProviderType = "firebase"
	ProviderTypeAPNs     ProviderType = "apns"
)

// ProviderConfig carries the settings of every provider; only the selected one is read.
type ProviderConfig struct {
	Type                ProviderType
	FirebaseProjectID   string
	FirebaseCredentials string
	APNs                APNsConfig
}

// NewProvider builds the configured provider. Unknown types fall back to the mock.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	logger.Info("Initializing push notification provider", zap.String("provider_type", string(cfg.Type)))

	switch cfg.Type {
	case ProviderTypeFirebase:
		if cfg.FirebaseCredentials == "" {
			return nil, fmt.Errorf("PUSH_FIREBASE_CREDENTIALS is required for the firebase provider")
		}
		return NewFirebaseProvider(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
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
