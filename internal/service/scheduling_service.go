package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/models"
	"github.com/chronoshq/chronos-api/pkg/jobs"
)

// SchedulingService fans calendar changes out to attendees. Delivery happens
// strictly after the enclosing storage transaction committed, on a
// background queue; failures are logged, never surfaced to the caller.
type SchedulingService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewSchedulingService wires the broker behind a background queue.
func NewSchedulingService(broker Broker, cfg jobs.QueueConfig, logger *zap.Logger) *SchedulingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		messages, ok := job.Payload.([]SchedulingMessage)
		if !ok || len(messages) == 0 {
			return nil
		}
		return broker.Deliver(ctx, messages)
	}
	cfg.Logger = logger
	return &SchedulingService{
		queue:  jobs.NewQueue("scheduling", handler, cfg),
		logger: logger,
	}
}

// Start launches the delivery workers.
func (s *SchedulingService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *SchedulingService) Stop() {
	s.queue.Stop()
}

// DispatchAfterCommit hands messages to the background queue. Callers invoke
// this only once their transaction committed; there is no ordering
// guarantee relative to the response and no caller-visible retry.
func (s *SchedulingService) DispatchAfterCommit(messages []SchedulingMessage) {
	if len(messages) == 0 {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "scheduling.deliver",
		Payload: messages,
	})
	if err != nil {
		s.logger.Warn("dropping scheduling messages, queue unavailable",
			zap.Int("count", len(messages)), zap.Error(err))
	}
}

// MessagesFor derives the outbound messages describing one change to a
// calendar object resource: the organizer notifies every other internal or
// external attendee, an attendee reply goes to the organizer only.
func MessagesFor(method SchedulingMessageMethod, originator models.CalendarUser, resource models.CalendarObjectResource) []SchedulingMessage {
	master := resource.Master
	if master == nil {
		return nil
	}
	now := time.Now().UTC()
	if method == MethodReply {
		if master.Organizer == nil || master.Organizer.URI == "" {
			return nil
		}
		return []SchedulingMessage{{
			Method:     method,
			Originator: originator,
			Recipient: models.Attendee{
				EntityID: master.Organizer.EntityID,
				URI:      master.Organizer.URI,
				CN:       master.Organizer.CN,
			},
			Resource:  resource,
			Timestamp: now,
		}}
	}
	messages := make([]SchedulingMessage, 0, len(master.Attendees))
	for _, att := range master.Attendees {
		if att.Matches(originator.EntityID, originator.URI) {
			continue
		}
		messages = append(messages, SchedulingMessage{
			Method:     method,
			Originator: originator,
			Recipient:  att,
			Resource:   resource,
			Timestamp:  now,
		})
	}
	return messages
}
