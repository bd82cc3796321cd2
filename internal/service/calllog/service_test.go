package calllog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/internal/repository/cockroach"
	"wayfarer-backend/pkg/constants"
	apperrors "wayfarer-backend/pkg/errors"
)

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.CallRecord) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) FindOpenBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallRecord, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *MockCallRepository) MarkAnswered(ctx context.Context, callID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, callID, at)
	return args.Error(0)
}

func (m *MockCallRepository) EndCall(ctx context.Context, callID uuid.UUID, status, reason string, at time.Time) error {
	args := m.Called(ctx, callID, status, reason, at)
	return args.Error(0)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallRecord), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyMissedCall(ctx context.Context, calleeID, callerID uuid.UUID, callerName, mediaType string) error {
	args := m.Called(ctx, calleeID, callerID, callerName, mediaType)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService() (*Service, *MockCallRepository, *MockNotifier) {
	repo := new(MockCallRepository)
	notifier := new(MockNotifier)
	s := NewService(repo, notifier, nil)
	s.now = func() time.Time { return fixedNow }
	return s, repo, notifier
}

func TestRecordInvite_CreatesRingingCall(t *testing.T) {
	s, repo, _ := newService()
	ctx := context.Background()
	caller, callee := uuid.New(), uuid.New()

	repo.On("FindOpenBetween", ctx, caller, callee).Return(nil, cockroach.ErrCallNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(c *domain.CallRecord) bool {
		return c.CallerID == caller && c.CalleeID == callee &&
			c.Status == constants.CallStatusRinging && c.MediaType == domain.MediaVideo
	})).Return(nil)

	require.NoError(t, s.RecordInvite(ctx, caller, callee, domain.MediaVideo))
	repo.AssertExpectations(t)
}

func TestRecordInvite_ClosesStaleCall(t *testing.T) {
	s, repo, _ := newService()
	ctx := context.Background()
	caller, callee := uuid.New(), uuid.New()
	stale := &domain.CallRecord{CallID: uuid.New(), Status: constants.CallStatusRinging}

	repo.On("FindOpenBetween", ctx, caller, callee).Return(stale, nil)
	repo.On("EndCall", ctx, stale.CallID, constants.CallStatusEnded, "superseded", fixedNow).Return(nil)
	repo.On("Create", ctx, mock.Anything).Return(nil)

	require.NoError(t, s.RecordInvite(ctx, caller, callee, domain.MediaAudio))
	repo.AssertExpectations(t)
}

func TestRecordAccept(t *testing.T) {
	s, repo, _ := newService()
	ctx := context.Background()
	caller, callee := uuid.New(), uuid.New()
	open := &domain.CallRecord{CallID: uuid.New(), CallerID: caller, CalleeID: callee, Status: constants.CallStatusRinging}

	repo.On("FindOpenBetween", ctx, callee, caller).Return(open, nil)
	repo.On("MarkAnswered", ctx, open.CallID, fixedNow).Return(nil)

	require.NoError(t, s.RecordAccept(ctx, callee, caller))
	repo.AssertExpectations(t)
}

func TestRecordAccept_UnknownCallIgnored(t *testing.T) {
	s, repo, _ := newService()
	ctx := context.Background()

	repo.On("FindOpenBetween", ctx, mock.Anything, mock.Anything).Return(nil, cockroach.ErrCallNotFound)
	assert.NoError(t, s.RecordAccept(ctx, uuid.New(), uuid.New()))

	repo.ExpectedCalls = nil
	repo.On("FindOpenBetween", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	err := s.RecordAccept(ctx, uuid.New(), uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
}

func TestRecordTerminate_Statuses(t *testing.T) {
	caller, callee := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		status     string
		from       uuid.UUID
		reason     domain.TerminateReason
		wantStatus string
		wantPush   bool
	}{
		{"active call hung up", constants.CallStatusActive, caller, domain.ReasonHangup, constants.CallStatusEnded, false},
		{"callee declines", constants.CallStatusRinging, callee, domain.ReasonDeclined, constants.CallStatusDeclined, false},
		{"callee busy", constants.CallStatusRinging, callee, domain.ReasonBusy, constants.CallStatusBusy, false},
		{"callee hangs up while ringing", constants.CallStatusRinging, callee, domain.ReasonHangup, constants.CallStatusDeclined, false},
		{"caller gives up", constants.CallStatusRinging, caller, domain.ReasonHangup, constants.CallStatusMissed, true},
		{"no answer", constants.CallStatusRinging, caller, domain.ReasonNoAnswer, constants.CallStatusMissed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo, notifier := newService()
			ctx := context.Background()
			to := callee
			if tt.from == callee {
				to = caller
			}
			open := &domain.CallRecord{CallID: uuid.New(), CallerID: caller, CalleeID: callee, MediaType: domain.MediaAudio, Status: tt.status}

			repo.On("FindOpenBetween", ctx, tt.from, to).Return(open, nil)
			repo.On("EndCall", ctx, open.CallID, tt.wantStatus, string(tt.reason), fixedNow).Return(nil)
			if tt.wantPush {
				notifier.On("NotifyMissedCall", ctx, callee, caller, "Someone", "audio").Return(nil)
			}

			require.NoError(t, s.RecordTerminate(ctx, tt.from, to, tt.reason))
			repo.AssertExpectations(t)
			notifier.AssertExpectations(t)
			if !tt.wantPush {
				notifier.AssertNotCalled(t, "NotifyMissedCall", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestRecordUnreachable(t *testing.T) {
	s, repo, notifier := newService()
	ctx := context.Background()
	caller, callee := uuid.New(), uuid.New()

	repo.On("Create", ctx, mock.MatchedBy(func(c *domain.CallRecord) bool {
		return c.Status == constants.CallStatusMissed && c.EndedAt != nil && c.EndReason == "peer_offline"
	})).Return(nil)
	notifier.On("NotifyMissedCall", ctx, callee, caller, "Someone", "video").Return(nil)

	require.NoError(t, s.RecordUnreachable(ctx, caller, callee, domain.MediaVideo))
	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestHistory(t *testing.T) {
	s, repo, _ := newService()
	ctx := context.Background()
	user := uuid.New()
	calls := []*domain.CallRecord{{CallID: uuid.New()}}

	repo.On("GetUserCalls", ctx, user, 20, 40).Return(calls, nil)

	got, err := s.History(ctx, user, 20, 40)
	require.NoError(t, err)
	assert.Equal(t, calls, got)
}
