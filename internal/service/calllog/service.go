// Package calllog writes the call history as invite, accept and terminate
// events pass through the relay.
package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/repository/cockroach"
	"wayfarer-backend/pkg/constants"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/metrics"
)

type CallRepository interface {
	Create(ctx context.Context, call *domain.CallRecord) error
	FindOpenBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallRecord, error)
	MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error
	EndCall(ctx context.Context, callID uuid.UUID, status, reason string, at time.Time) error
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error)
}

type MissedCallNotifier interface {
	NotifyMissedCall(ctx context.Context, calleeID, callerID uuid.UUID, callerName, mediaType string) error
}

type UserDirectory interface {
	GetSummary(ctx context.Context, userID uuid.UUID) (*domain.UserSummary, error)
}

type Service struct {
	calls    CallRepository
	notifier MissedCallNotifier
	users    UserDirectory
	now      func() time.Time
}

// NewService builds the call log. notifier and users may be nil.
func NewService(calls CallRepository, notifier MissedCallNotifier, users UserDirectory) *Service {
	return &Service{calls: calls, notifier: notifier, users: users, now: time.Now}
}

// RecordInvite opens a ringing call. A call still open between the same
// pair was abandoned and is closed first.
func (s *Service) RecordInvite(ctx context.Context, callerID, calleeID uuid.UUID, media domain.MediaType) error {
	now := s.now().UTC()
	if stale, err := s.calls.FindOpenBetween(ctx, callerID, calleeID); err == nil {
		if err := s.calls.EndCall(ctx, stale.CallID, constants.CallStatusEnded, "superseded", now); err != nil {
			logger.Warn("Failed to close superseded call", zap.String("call_id", stale.CallID.String()), zap.Error(err))
		}
	}

	if !media.Valid() {
		media = domain.MediaAudio
	}
	call := &domain.CallRecord{
		CallID:    uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		MediaType: media,
		Status:    constants.CallStatusRinging,
		StartedAt: now,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		metrics.CallLogEventsTotal.WithLabelValues("invite", "error").Inc()
		return apperrors.DatabaseError(err)
	}
	metrics.CallLogEventsTotal.WithLabelValues("invite", "success").Inc()
	return nil
}

// RecordAccept marks the open call between callee and caller as answered
func (s *Service) RecordAccept(ctx context.Context, calleeID, callerID uuid.UUID) error {
	call, err := s.calls.FindOpenBetween(ctx, calleeID, callerID)
	if err != nil {
		return s.missing("accept", err)
	}
	if err := s.calls.MarkAnswered(ctx, call.CallID, s.now().UTC()); err != nil {
		metrics.CallLogEventsTotal.WithLabelValues("accept", "error").Inc()
		return apperrors.DatabaseError(err)
	}
	metrics.CallLogEventsTotal.WithLabelValues("accept", "success").Inc()
	return nil
}

// RecordTerminate closes the open call between from and to.
// A call that never got answered ends as declined, busy or missed depending on
// who ended it and why.
func (s *Service) RecordTerminate(ctx context.Context, fromID, toID uuid.UUID, reason domain.TerminateReason) error {
	call, err := s.calls.FindOpenBetween(ctx, fromID, toID)
	if err != nil {
		return s.missing("terminate", err)
	}

	status := endStatus(call, fromID, reason)
	if err := s.calls.EndCall(ctx, call.CallID, status, string(reason), s.now().UTC()); err != nil {
		metrics.CallLogEventsTotal.WithLabelValues("terminate", "error").Inc()
		return apperrors.DatabaseError(err)
	}
	metrics.CallLogEventsTotal.WithLabelValues("terminate", status).Inc()

	if status == constants.CallStatusMissed {
		s.notifyMissed(ctx, call.CalleeID, call.CallerID, call.MediaType)
	}
	return nil
}

func endStatus(call *domain.CallRecord, fromID uuid.UUID, reason domain.TerminateReason) string {
	if call.Status == constants.CallStatusActive {
		return constants.CallStatusEnded
	}
	switch {
	case reason == domain.ReasonBusy:
		return constants.CallStatusBusy
	case reason == domain.ReasonDeclined, fromID == call.CalleeID:
		return constants.CallStatusDeclined
	default:
		return constants.CallStatusMissed
	}
}

// RecordUnreachable logs an invite to a user connected nowhere as a missed
// call and pushes a notification to them.
func (s *Service) RecordUnreachable(ctx context.Context, callerID, calleeID uuid.UUID, media domain.MediaType) error {
	if !media.Valid() {
		media = domain.MediaAudio
	}
	now := s.now().UTC()
	call := &domain.CallRecord{
		CallID:    uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		MediaType: media,
		Status:    constants.CallStatusMissed,
		EndReason: string(domain.ReasonPeerOffline),
		StartedAt: now,
		EndedAt:   &now,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		metrics.CallLogEventsTotal.WithLabelValues("unreachable", "error").Inc()
		return apperrors.DatabaseError(err)
	}
	metrics.CallLogEventsTotal.WithLabelValues("unreachable", constants.CallStatusMissed).Inc()

	s.notifyMissed(ctx, calleeID, callerID, media)
	return nil
}

func (s *Service) notifyMissed(ctx context.Context, calleeID, callerID uuid.UUID, media domain.MediaType) {
	if s.notifier == nil {
		return
	}
	callerName := "Someone"
	if s.users != nil {
		if summary, err := s.users.GetSummary(ctx, callerID); err == nil && summary.DisplayName != "" {
			callerName = summary.DisplayName
		}
	}
	if err := s.notifier.NotifyMissedCall(ctx, calleeID, callerID, callerName, string(media)); err != nil {
		logger.Warn("Failed to push missed call", zap.String("callee_id", calleeID.String()), zap.Error(err))
	}
}

// History returns the user's calls, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	calls, err := s.calls.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

// missing treats signaling for a call the log never saw as a no-op
func (s *Service) missing(event string, err error) error {
	if errors.Is(err, cockroach.ErrCallNotFound) {
		metrics.CallLogEventsTotal.WithLabelValues(event, "unknown_call").Inc()
		return nil
	}
	metrics.CallLogEventsTotal.WithLabelValues(event, "error").Inc()
	return apperrors.DatabaseError(err)
}
