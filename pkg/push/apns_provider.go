package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

// APNsProvider sends directly to Apple devices with token-based auth
type APNsProvider struct {
	client *apns2.Client
	topic  string
}

type APNsConfig struct {
	KeyPath    string // .p8 key
	KeyID      string
	TeamID     string
	Topic      string // bundle id
	Production bool
}

func NewAPNsProvider(cfg *APNsConfig) (*APNsProvider, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("APNs topic (bundle id) is required")
	}
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, fmt.Errorf("APNs key path, key id and team id are required")
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNs provider initialized",
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production))
	return &APNsProvider{client: client, topic: cfg.Topic}, nil
}

func (a *APNsProvider) Name() string { return "apns" }

func (a *APNsProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	result := &SendResult{}

	for _, deviceToken := range tokens {
		p := payload.NewPayload().AlertTitle(n.Title).AlertBody(n.Body)
		if n.Sound != "" {
			p.Sound(n.Sound)
		}
		if n.Category != "" {
			p.Category(n.Category)
		}
		for key, value := range n.Data {
			p.Custom(key, value)
		}

		msg := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       a.topic,
			Payload:     p,
			Priority:    apns2.PriorityLow,
		}
		if n.Priority == "high" {
			msg.Priority = apns2.PriorityHigh
		}

		resp, err := a.client.PushWithContext(ctx, msg)
		if err != nil {
			result.FailureCount++
			logger.Warn("Failed to send APNs notification", zap.Error(err))
			continue
		}
		if resp.Sent() {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		if resp.StatusCode == http.StatusGone ||
			resp.Reason == apns2.ReasonUnregistered ||
			resp.Reason == apns2.ReasonBadDeviceToken ||
			resp.Reason == apns2.ReasonDeviceTokenNotForTopic {
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
		logger.Warn("APNs notification rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", resp.Reason))
	}
	return result, nil
}
