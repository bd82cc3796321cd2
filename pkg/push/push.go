package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
	"wayfarer-backend/pkg/resilience"
)

// Provider delivers a notification to device tokens
type Provider interface {
	Name() string
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

type Notification struct {
	Type     string            `json:"type"` // message, missed_call
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// Token is a registered device
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // android, ios, web
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores device tokens per user
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, token string) error
}

// Service notifies users who are not connected to any relay node
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  *metrics.Metrics
	retry    resilience.Policy
}

// NewService wires a provider and token store. m may be nil.
func NewService(provider Provider, repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{provider: provider, repo: repo, metrics: m, retry: resilience.DefaultPolicy()}
}

func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	return s.repo.Store(ctx, token)
}

// ErrTokenNotFound is returned when the token is not registered to the user
var ErrTokenNotFound = errors.New("push token not found")

// UnregisterToken removes one of the user's own tokens
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get push tokens: %w", err)
	}
	for _, t := range tokens {
		if t.Token == token {
			return s.repo.Delete(ctx, token)
		}
	}
	return ErrTokenNotFound
}

// NotifyMessage tells an offline recipient about a new chat message
func (s *Service) NotifyMessage(ctx context.Context, recipientID, senderID uuid.UUID, senderName, preview string) error {
	return s.notify(ctx, recipientID, &Notification{
		Type:     "message",
		Title:    senderName,
		Body:     truncate(preview, 120),
		Priority: "high",
		Sound:    "default",
		Category: "CHAT_MESSAGE",
		Data: map[string]string{
			"type":      "message",
			"sender_id": senderID.String(),
		},
	})
}

// NotifyMissedCall tells a callee that was offline when the invite arrived
func (s *Service) NotifyMissedCall(ctx context.Context, calleeID, callerID uuid.UUID, callerName, mediaType string) error {
	return s.notify(ctx, calleeID, &Notification{
		Type:     "missed_call",
		Title:    "Missed call",
		Body:     fmt.Sprintf("You missed a %s call from %s", mediaType, callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":       "missed_call",
			"caller_id":  callerID.String(),
			"media_type": mediaType,
		},
	})
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, n *Notification) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get push tokens: %w", err)
	}
	if len(tokens) == 0 {
		logger.Debug("No push tokens for user", zap.String("user_id", userID.String()))
		return nil
	}

	values := make([]string, 0, len(tokens))
	for _, t := range tokens {
		values = append(values, t.Token)
	}

	var result *SendResult
	err = resilience.Do(ctx, "push_"+s.provider.Name(), s.retry, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = s.provider.Send(ctx, n, values)
		return sendErr
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordPushNotificationFailure(n.Type, s.provider.Name())
		}
		return fmt.Errorf("failed to send %s notification: %w", n.Type, err)
	}
	if s.metrics != nil {
		s.metrics.RecordPushNotification(n.Type, s.provider.Name())
	}

	logger.Debug("Push notification sent",
		zap.String("user_id", userID.String()),
		zap.String("type", n.Type),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	for _, invalid := range result.InvalidTokens {
		if err := s.repo.Delete(ctx, invalid); err != nil {
			logger.Warn("Failed to drop invalid push token", zap.Error(err))
		}
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// MockProvider records notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	Sent []*Notification
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: notification recorded",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Count returns how many notifications were recorded
func (m *MockProvider) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
