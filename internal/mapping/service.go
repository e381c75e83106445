package mapping

import (
	"context"
	"errors"

	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/apperr"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
)

// Store abstracts mapping persistence so the service can be tested against
// an in-memory fake.
type Store interface {
	Upsert(ctx context.Context, m Mapping) error
	GetByVisitorUUID(ctx context.Context, visitorUUID string) (Mapping, error)
	GetBySessionID(ctx context.Context, sessionID string) (Mapping, error)
}

// Service implements visitor-mapping business logic.
type Service struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
}

// NewService creates a new mapping service.
func NewService(store Store, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, bus: bus, log: log}
}

// Submit records a visitor-attribution mapping. Resubmissions for the same
// visitor uuid replace the stored campaign fields.
func (s *Service) Submit(ctx context.Context, m Mapping) error {
	const op = "mapping.Service.Submit"

	if err := s.store.Upsert(ctx, m); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to store visitor mapping", err).WithOp(op)
	}

	s.log.Info("visitor mapping recorded",
		"visitor_uuid", m.GubagooVisitorUUID,
		"has_session_id", m.SDSessionID != nil)

	s.bus.Publish(ctx, events.MappingRecorded{
		BaseEvent:          events.NewBaseEvent(),
		GubagooVisitorUUID: m.GubagooVisitorUUID,
		AJSAnonymousID:     m.AJSAnonymousID,
		HasSessionID:       m.SDSessionID != nil,
	})

	return nil
}

// GetByVisitorUUID looks up a stored mapping by visitor uuid.
func (s *Service) GetByVisitorUUID(ctx context.Context, visitorUUID string) (Mapping, error) {
	const op = "mapping.Service.GetByVisitorUUID"

	m, err := s.store.GetByVisitorUUID(ctx, visitorUUID)
	if err != nil {
		if errors.Is(err, ErrMappingNotFound) {
			return Mapping{}, apperr.NotFound("visitor mapping not found").WithOp(op)
		}
		return Mapping{}, apperr.Wrap(apperr.KindInternal, "failed to load visitor mapping", err).WithOp(op)
	}
	return m, nil
}

// FindBySessionID returns the freshest mapping carrying the given analytics
// session id, or ErrMappingNotFound. The leads module calls this during
// attribution resolution; the raw sentinel is kept so the caller can treat
// absence as a pipeline state rather than an error.
func (s *Service) FindBySessionID(ctx context.Context, sessionID string) (Mapping, error) {
	return s.store.GetBySessionID(ctx, sessionID)
}
