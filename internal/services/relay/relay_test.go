package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	cachemocks "github.com/BearBump/FreightDesk/internal/cache/mocks"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	notifierfake "github.com/BearBump/FreightDesk/internal/integrations/notifier/fake"
	"github.com/BearBump/FreightDesk/internal/models"
	relaymocks "github.com/BearBump/FreightDesk/internal/services/relay/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RelaySuite struct {
	suite.Suite

	repo     *relaymocks.MockRepository
	producer *relaymocks.MockProducer
	sink     *notifierfake.Sink
	rl       *cachemocks.MockRateLimiter
	r        *Relay
}

func (s *RelaySuite) SetupTest() {
	s.repo = &relaymocks.MockRepository{}
	s.producer = &relaymocks.MockProducer{}
	s.sink = notifierfake.New()
	s.rl = &cachemocks.MockRateLimiter{}
	s.r = New(s.repo, s.producer, s.sink, s.rl, "")
	s.r.publishRetryBase = time.Millisecond
}

func pending(id string, typ models.AuditEventType, attempts int32) models.PendingAuditEvent {
	return models.PendingAuditEvent{
		Event: models.AuditEvent{
			ID:         id,
			AccountID:  "acc-1",
			Type:       typ,
			Refs:       map[string]string{"trip_id": "trip-1"},
			OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			Payload:    map[string]any{"error": "persisting_invoice: missing taxRegime"},
		},
		Attempts: attempts,
	}
}

func (s *RelaySuite) TestPublishesAndMarks() {
	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return([]models.PendingAuditEvent{pending("ev-1", models.AuditTripCreated, 0)}, nil).Once()
	s.producer.On("Publish", mock.Anything, messages.TopicTripAudit, []byte("acc-1"), mock.MatchedBy(func(b []byte) bool {
		var m messages.AuditRecorded
		return json.Unmarshal(b, &m) == nil && m.EventID == "ev-1" && m.Attempt == 1 && m.Refs["trip_id"] == "trip-1"
	})).Return(nil).Once()
	s.repo.On("MarkAuditPublished", mock.Anything, "ev-1", mock.Anything).Return(nil).Once()

	s.r.RunOnce(context.Background())

	st := s.r.Stats()
	s.Equal(int64(1), st.TotalClaimed)
	s.Equal(int64(1), st.TotalPublished)
	s.Zero(st.TotalErrors)
	s.Empty(s.sink.Sent())
	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func (s *RelaySuite) TestPublishFailureSchedulesRetry() {
	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return([]models.PendingAuditEvent{pending("ev-2", models.AuditDraftCreated, 2)}, nil).Once()
	s.producer.On("Publish", mock.Anything, messages.TopicTripAudit, mock.Anything, mock.Anything).
		Return(errors.New("broker down")).Times(3)

	before := time.Now().UTC()
	s.repo.On("MarkAuditFailed", mock.Anything, "ev-2", "broker down", mock.MatchedBy(func(next time.Time) bool {
		// third attempt -> Backoff3
		return !next.Before(before.Add(2 * time.Minute))
	})).Return(nil).Once()

	s.r.RunOnce(context.Background())

	st := s.r.Stats()
	s.Equal(int64(1), st.TotalErrors)
	s.Equal("broker down", st.LastError)
	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func (s *RelaySuite) TestAccountEventsKeepOrderBehindFailure() {
	first := pending("ev-1", models.AuditTripCreated, 0)
	second := pending("ev-2", models.AuditDraftCreated, 0)
	other := pending("ev-3", models.AuditTripCreated, 0)
	other.Event.AccountID = "acc-2"

	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return([]models.PendingAuditEvent{first, other, second}, nil).Once()
	s.producer.On("Publish", mock.Anything, messages.TopicTripAudit, []byte("acc-1"), mock.Anything).
		Return(errors.New("broker down")).Times(3)
	s.producer.On("Publish", mock.Anything, messages.TopicTripAudit, []byte("acc-2"), mock.Anything).
		Return(nil).Once()

	var failedNext, heldNext time.Time
	s.repo.On("MarkAuditFailed", mock.Anything, "ev-1", "broker down", mock.Anything).
		Run(func(args mock.Arguments) { failedNext = args.Get(3).(time.Time) }).Return(nil).Once()
	s.repo.On("MarkAuditFailed", mock.Anything, "ev-2", "held behind ev-1", mock.Anything).
		Run(func(args mock.Arguments) { heldNext = args.Get(3).(time.Time) }).Return(nil).Once()
	s.repo.On("MarkAuditPublished", mock.Anything, "ev-3", mock.Anything).Return(nil).Once()

	s.r.RunOnce(context.Background())

	s.False(failedNext.IsZero())
	s.Equal(failedNext, heldNext)
	st := s.r.Stats()
	s.Equal(int64(1), st.TotalPublished)
	s.Equal(int64(1), st.TotalErrors)
	s.repo.AssertExpectations(s.T())
	s.producer.AssertExpectations(s.T())
}

func TestByAccount_KeepsClaimOrder(t *testing.T) {
	a1 := pending("a1", models.AuditTripCreated, 0)
	b1 := pending("b1", models.AuditTripCreated, 0)
	b1.Event.AccountID = "acc-2"
	a2 := pending("a2", models.AuditDraftCreated, 0)

	groups := byAccount([]models.PendingAuditEvent{a1, b1, a2})
	require.Len(t, groups, 2)
	require.Equal(t, "a1", groups[0][0].Event.ID)
	require.Equal(t, "a2", groups[0][1].Event.ID)
	require.Equal(t, "b1", groups[1][0].Event.ID)
}

func (s *RelaySuite) TestFailedOrchestrationNotifiesSink() {
	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return([]models.PendingAuditEvent{pending("ev-3", models.AuditOrchestrationFailed, 0)}, nil).Once()
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	s.repo.On("MarkAuditPublished", mock.Anything, "ev-3", mock.Anything).Return(nil).Once()
	s.rl.On("Allow", mock.Anything, mock.AnythingOfType("string"), int64(30), 70*time.Second).Return(true, int64(1), nil).Once()

	s.r.RunOnce(context.Background())

	sent := s.sink.Sent()
	s.Require().Len(sent, 1)
	s.Equal(notifier.KindOrchestrationFailed, sent[0].Kind)
	s.Equal("trip-1", sent[0].TripID)
	s.Contains(sent[0].Message, "taxRegime")
	s.rl.AssertExpectations(s.T())
}

func (s *RelaySuite) TestThrottledNotificationIsDropped() {
	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return([]models.PendingAuditEvent{pending("ev-4", models.AuditOrchestrationFailed, 0)}, nil).Once()
	s.producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	s.repo.On("MarkAuditPublished", mock.Anything, "ev-4", mock.Anything).Return(nil).Once()
	s.rl.On("Allow", mock.Anything, mock.Anything, int64(30), 70*time.Second).Return(false, int64(31), nil).Once()

	s.r.RunOnce(context.Background())
	s.Empty(s.sink.Sent())
}

func (s *RelaySuite) TestClaimErrorRecorded() {
	s.repo.On("ClaimDueAuditEvents", mock.Anything, mock.Anything, 100, 60*time.Second).
		Return(nil, errors.New("pool closed")).Once()

	s.r.RunOnce(context.Background())
	s.Equal("pool closed", s.r.Stats().LastError)
	s.producer.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

type countingRepo struct {
	calls int
}

func (r *countingRepo) ClaimDueAuditEvents(context.Context, time.Time, int, time.Duration) ([]models.PendingAuditEvent, error) {
	r.calls++
	return nil, nil
}

func (r *countingRepo) MarkAuditPublished(context.Context, string, time.Time) error { return nil }

func (r *countingRepo) MarkAuditFailed(context.Context, string, string, time.Time) error { return nil }

type noopProducer struct{}

func (noopProducer) Publish(context.Context, string, []byte, []byte) error { return nil }

func TestRelay_Run_StopsOnContextCancel(t *testing.T) {
	repo := &countingRepo{}
	r := New(repo, noopProducer{}, nil, nil, "t").WithSettings(5*time.Millisecond, 1, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, repo.calls, 1)
}

func TestRelay_TriggerNeverBlocks(t *testing.T) {
	r := New(&countingRepo{}, noopProducer{}, nil, nil, "")
	r.Trigger()
	r.Trigger()
	require.NotNil(t, r.Stats().LastTriggerAt)
}
