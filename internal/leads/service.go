package leads

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/adf"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/mapping"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/segment"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/apperr"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
)

// Lead metadata defaults applied when the document carries no form type.
const (
	defaultLeadType = "Gubagoo - Virtual Retailing"
	leadSource      = "Gubagoo Virtual Retailing"
)

// Pending failure reasons. These are stable contract values, not log text.
const (
	ReasonNoLeadID              = "no_lead_id"
	ReasonNoSessionKey          = "no_session_key"
	ReasonNoMatchingAttribution = "no_matching_attribution"
)

// Disposition statuses returned to the inbound relay.
const (
	StatusFinalized = "finalized"
	StatusPending   = "pending"
)

const trackEventName = "Lead Submitted"

// Pending rows keep enough of the email to diagnose, not the whole thing.
const pendingBodyLimit = 10000

// Store abstracts lead persistence so the resolver can be tested against an
// in-memory fake.
type Store interface {
	InsertFinalized(ctx context.Context, l FinalizedLead) (bool, error)
	GetFinalizedByLeadID(ctx context.Context, leadID string) (FinalizedLead, error)
	MarkForwarded(ctx context.Context, leadID string, at time.Time) error
	RecentFinalized(ctx context.Context, limit int) ([]FinalizedLead, error)
	InsertPending(ctx context.Context, p PendingLead) error
	UnresolvedPending(ctx context.Context, limit int) ([]PendingLead, error)
	MarkPendingResolved(ctx context.Context, id uuid.UUID) error
	IncrementPendingRetry(ctx context.Context, id uuid.UUID) error
	LogEmail(ctx context.Context, e EmailLog) error
	GetStats(ctx context.Context) (Stats, error)
}

// MappingFinder resolves visitor mappings by analytics session id. Implemented
// by the mapping service.
type MappingFinder interface {
	FindBySessionID(ctx context.Context, sessionID string) (mapping.Mapping, error)
}

// ForwardScheduler enqueues out-of-band forwarding retries. Implemented by the
// scheduler client; a no-op implementation is used when Redis is not configured.
type ForwardScheduler interface {
	ScheduleForwardRetry(ctx context.Context, leadID string) error
}

// NoopScheduler satisfies ForwardScheduler when no queue is configured.
type NoopScheduler struct{}

func (NoopScheduler) ScheduleForwardRetry(ctx context.Context, leadID string) error { return nil }

// InboundEmail is the payload delivered by the email relay.
type InboundEmail struct {
	Subject string
	From    string
	Body    string
}

// Disposition is the terminal outcome of processing one inbound email.
type Disposition struct {
	Status    string `json:"status"`
	LeadID    string `json:"leadId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Service implements attribution resolution for inbound leads.
type Service struct {
	store     Store
	mappings  MappingFinder
	forwarder segment.Forwarder
	scheduler ForwardScheduler
	bus       events.Bus
	log       *logger.Logger
}

// NewService creates a new leads service.
func NewService(store Store, mappings MappingFinder, forwarder segment.Forwarder, scheduler ForwardScheduler, bus events.Bus, log *logger.Logger) *Service {
	if scheduler == nil {
		scheduler = NoopScheduler{}
	}
	return &Service{
		store:     store,
		mappings:  mappings,
		forwarder: forwarder,
		scheduler: scheduler,
		bus:       bus,
		log:       log,
	}
}

// ProcessInboundEmail runs one email through parse, join, persist and forward.
// Every email reaches exactly one terminal disposition; a malformed document
// is reported to the caller as a typed error and leaves only an audit row.
func (s *Service) ProcessInboundEmail(ctx context.Context, email InboundEmail) (Disposition, error) {
	const op = "leads.Service.ProcessInboundEmail"

	lead, err := adf.Parse(email.Body)
	if err != nil {
		s.logEmail(ctx, email, EmailLog{
			ProcessingStatus: "error",
			ErrorMessage:     strPtr(err.Error()),
		})
		if errors.Is(err, adf.ErrNoADFDocument) {
			return Disposition{}, apperr.Wrap(apperr.KindBadRequest, "no adf document found in email body", err).WithOp(op)
		}
		return Disposition{}, apperr.Wrap(apperr.KindBadRequest, "malformed adf document", err).WithOp(op)
	}

	// An empty lead id would collide with every other id-less lead on the
	// dedupe key, so it must never reach the finalized table.
	if lead.LeadID == "" {
		return s.holdPending(ctx, email, lead, ReasonNoLeadID)
	}

	if lead.SDSessionID == nil || *lead.SDSessionID == "" {
		return s.holdPending(ctx, email, lead, ReasonNoSessionKey)
	}

	m, err := s.mappings.FindBySessionID(ctx, *lead.SDSessionID)
	if err != nil {
		if errors.Is(err, mapping.ErrMappingNotFound) {
			return s.holdPending(ctx, email, lead, ReasonNoMatchingAttribution)
		}
		return Disposition{}, apperr.Wrap(apperr.KindInternal, "failed to look up visitor mapping", err).WithOp(op)
	}

	return s.finalize(ctx, email, lead, m)
}

// finalize merges the parsed lead with its mapping, writes the row and
// forwards the track event. Campaign fields come only from the mapping;
// customer, vehicle and financial fields come only from the document.
func (s *Service) finalize(ctx context.Context, email InboundEmail, lead *adf.Lead, m mapping.Mapping) (Disposition, error) {
	const op = "leads.Service.finalize"

	row := mergeLead(lead, m)

	inserted, err := s.store.InsertFinalized(ctx, row)
	if err != nil {
		return Disposition{}, apperr.Wrap(apperr.KindInternal, "failed to store finalized lead", err).WithOp(op)
	}

	if !inserted {
		// Redelivered email. The first delivery already forwarded (or queued
		// a retry); doing it again would double-count in the sink.
		s.log.Info("duplicate lead delivery ignored", "lead_id", row.LeadID)
		s.logEmail(ctx, email, EmailLog{
			GubagooVisitorUUID: &row.GubagooVisitorUUID,
			LeadID:             &row.LeadID,
			ProcessingStatus:   "duplicate",
		})
		s.bus.Publish(ctx, events.LeadFinalized{
			BaseEvent:          events.NewBaseEvent(),
			LeadID:             row.LeadID,
			GubagooVisitorUUID: row.GubagooVisitorUUID,
			AJSAnonymousID:     row.AJSAnonymousID,
			Duplicate:          true,
		})
		return Disposition{Status: StatusFinalized, LeadID: row.LeadID, Duplicate: true}, nil
	}

	if err := s.forward(ctx, row); err != nil {
		// The lead is durable; forwarding is retried out of band and must
		// never roll back or fail the write path.
		s.log.Error("segment forward failed, scheduling retry", "lead_id", row.LeadID, "error", err)
		s.bus.Publish(ctx, events.LeadForwardFailed{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    row.LeadID,
			Error:     err.Error(),
		})
		if schedErr := s.scheduler.ScheduleForwardRetry(ctx, row.LeadID); schedErr != nil {
			s.log.Error("failed to schedule forward retry", "lead_id", row.LeadID, "error", schedErr)
		}
	}

	s.logEmail(ctx, email, EmailLog{
		GubagooVisitorUUID: &row.GubagooVisitorUUID,
		LeadID:             &row.LeadID,
		ProcessingStatus:   "processed",
	})

	s.bus.Publish(ctx, events.LeadFinalized{
		BaseEvent:          events.NewBaseEvent(),
		LeadID:             row.LeadID,
		GubagooVisitorUUID: row.GubagooVisitorUUID,
		AJSAnonymousID:     row.AJSAnonymousID,
	})

	s.log.EmailProcessed(email.Subject, row.LeadID, StatusFinalized)
	return Disposition{Status: StatusFinalized, LeadID: row.LeadID}, nil
}

// holdPending writes the lead to the pending table for manual or scheduled
// reprocessing and reports the pending disposition.
func (s *Service) holdPending(ctx context.Context, email InboundEmail, lead *adf.Lead, reason string) (Disposition, error) {
	const op = "leads.Service.holdPending"

	leadData, err := json.Marshal(lead)
	if err != nil {
		return Disposition{}, apperr.Wrap(apperr.KindInternal, "failed to serialize pending lead", err).WithOp(op)
	}

	p := PendingLead{
		SDSessionID:   lead.SDSessionID,
		EmailSubject:  strPtr(truncate(email.Subject, 500)),
		EmailBody:     strPtr(truncate(email.Body, pendingBodyLimit)),
		LeadData:      leadData,
		FailureReason: reason,
	}
	if lead.LeadID != "" {
		p.LeadID = &lead.LeadID
	}

	if err := s.store.InsertPending(ctx, p); err != nil {
		return Disposition{}, apperr.Wrap(apperr.KindInternal, "failed to store pending lead", err).WithOp(op)
	}

	s.logEmail(ctx, email, EmailLog{
		LeadID:           p.LeadID,
		ProcessingStatus: "pending",
		ErrorMessage:     &reason,
	})

	s.bus.Publish(ctx, events.LeadPending{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.LeadID,
		Reason:    reason,
	})

	s.log.EmailProcessed(email.Subject, lead.LeadID, StatusPending)
	return Disposition{Status: StatusPending, LeadID: lead.LeadID, Reason: reason}, nil
}

// RetryForward re-attempts the Segment forward for an already-finalized lead.
// Called by the retry worker; returning an error makes the task retry.
func (s *Service) RetryForward(ctx context.Context, leadID string) error {
	const op = "leads.Service.RetryForward"

	row, err := s.store.GetFinalizedByLeadID(ctx, leadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			return apperr.NotFound("finalized lead not found").WithOp(op)
		}
		return apperr.Wrap(apperr.KindInternal, "failed to load finalized lead", err).WithOp(op)
	}
	if row.SegmentSent {
		return nil
	}
	return s.forward(ctx, row)
}

// ReprocessResult summarizes one reprocessing sweep over pending leads.
type ReprocessResult struct {
	Scanned   int
	Finalized int
	StillHeld int
}

// ReprocessPending re-runs attribution over unresolved pending leads. Leads
// whose session key has since gained a mapping are finalized and forwarded;
// the rest get their retry counter bumped.
func (s *Service) ReprocessPending(ctx context.Context, limit int) (ReprocessResult, error) {
	const op = "leads.Service.ReprocessPending"

	held, err := s.store.UnresolvedPending(ctx, limit)
	if err != nil {
		return ReprocessResult{}, apperr.Wrap(apperr.KindInternal, "failed to load pending leads", err).WithOp(op)
	}

	res := ReprocessResult{Scanned: len(held)}
	for _, p := range held {
		var lead adf.Lead
		if err := json.Unmarshal(p.LeadData, &lead); err != nil {
			s.log.Error("pending lead has unreadable data", "pending_id", p.ID, "error", err)
			res.StillHeld++
			continue
		}

		if lead.LeadID == "" || lead.SDSessionID == nil || *lead.SDSessionID == "" {
			if err := s.store.IncrementPendingRetry(ctx, p.ID); err != nil {
				return res, apperr.Wrap(apperr.KindInternal, "failed to update pending lead", err).WithOp(op)
			}
			res.StillHeld++
			continue
		}

		m, err := s.mappings.FindBySessionID(ctx, *lead.SDSessionID)
		if err != nil {
			if errors.Is(err, mapping.ErrMappingNotFound) {
				if err := s.store.IncrementPendingRetry(ctx, p.ID); err != nil {
					return res, apperr.Wrap(apperr.KindInternal, "failed to update pending lead", err).WithOp(op)
				}
				res.StillHeld++
				continue
			}
			return res, apperr.Wrap(apperr.KindInternal, "failed to look up visitor mapping", err).WithOp(op)
		}

		email := InboundEmail{
			Subject: deref(p.EmailSubject),
			Body:    deref(p.EmailBody),
		}
		if _, err := s.finalize(ctx, email, &lead, m); err != nil {
			return res, err
		}
		if err := s.store.MarkPendingResolved(ctx, p.ID); err != nil {
			return res, apperr.Wrap(apperr.KindInternal, "failed to resolve pending lead", err).WithOp(op)
		}
		res.Finalized++
	}
	return res, nil
}

// mappingSweepLimit bounds the pending sweep triggered by one new mapping.
const mappingSweepLimit = 25

// HandleMappingRecorded re-runs attribution over held leads when a visitor
// mapping with a session key arrives. Subscribed on the event bus by the
// module; a lead that came in before its mapping resolves without waiting for
// the operator sweep.
func (s *Service) HandleMappingRecorded(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MappingRecorded)
	if !ok || !e.HasSessionID {
		return nil
	}

	res, err := s.ReprocessPending(ctx, mappingSweepLimit)
	if err != nil {
		return err
	}
	if res.Finalized > 0 {
		s.log.Info("mapping arrival resolved pending leads",
			"gubagoo_visitor_uuid", e.GubagooVisitorUUID, "finalized", res.Finalized)
	}
	return nil
}

// RecentLeads returns recently finalized leads for the monitoring endpoint.
func (s *Service) RecentLeads(ctx context.Context, limit int) ([]FinalizedLead, error) {
	const op = "leads.Service.RecentLeads"

	out, err := s.store.RecentFinalized(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load recent leads", err).WithOp(op)
	}
	return out, nil
}

// PipelineStats returns pipeline totals for the monitoring endpoint.
func (s *Service) PipelineStats(ctx context.Context) (Stats, error) {
	const op = "leads.Service.PipelineStats"

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindInternal, "failed to compute stats", err).WithOp(op)
	}
	return stats, nil
}

// forward sends the track event and marks the row forwarded on success.
func (s *Service) forward(ctx context.Context, row FinalizedLead) error {
	event := segment.TrackEvent{
		AnonymousID: row.AJSAnonymousID,
		Event:       trackEventName,
		Properties:  trackProperties(row),
		Timestamp:   row.RequestDate,
	}
	if err := s.forwarder.Track(ctx, event); err != nil {
		return err
	}
	if err := s.store.MarkForwarded(ctx, row.LeadID, time.Now().UTC()); err != nil {
		// The event went out; failing the marker would trigger a duplicate
		// send on retry, which is worse than a stale flag.
		s.log.Error("failed to mark lead forwarded", "lead_id", row.LeadID, "error", err)
	}
	return nil
}

// mergeLead applies the merge policy: attribution only from the mapping,
// lead content only from the document.
func mergeLead(lead *adf.Lead, m mapping.Mapping) FinalizedLead {
	leadType := defaultLeadType
	if lead.FormType != nil && *lead.FormType != "" {
		leadType = *lead.FormType
	}

	return FinalizedLead{
		LeadID:             lead.LeadID,
		AJSAnonymousID:     m.AJSAnonymousID,
		GubagooVisitorUUID: m.GubagooVisitorUUID,
		SDSessionID:        lead.SDSessionID,

		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Email:     lead.Email,
		Phone:     lead.Phone,

		Street:  lead.Street,
		City:    lead.City,
		State:   lead.State,
		ZipCode: lead.ZipCode,

		VehicleYear:   lead.Vehicle.Year,
		VehicleMake:   lead.Vehicle.Make,
		VehicleModel:  lead.Vehicle.Model,
		VehicleVIN:    lead.Vehicle.VIN,
		VehicleStock:  lead.Vehicle.Stock,
		VehicleStatus: lead.Vehicle.Status,

		MonthlyPayment: lead.MonthlyPayment,
		DownPayment:    lead.DownPayment,
		TotalAmount:    lead.TotalAmount,

		TradeInYear:    lead.TradeIn.Year,
		TradeInMake:    lead.TradeIn.Make,
		TradeInModel:   lead.TradeIn.Model,
		TradeInVIN:     lead.TradeIn.VIN,
		TradeInValue:   lead.TradeIn.Value,
		TradeInMileage: lead.TradeIn.Mileage,

		UTMSource:   m.UTMSource,
		UTMMedium:   m.UTMMedium,
		UTMCampaign: m.UTMCampaign,
		UTMTerm:     m.UTMTerm,
		UTMContent:  m.UTMContent,
		GCLID:       m.GCLID,
		FBCLID:      m.FBCLID,

		LeadType:    leadType,
		LeadSource:  leadSource,
		RequestDate: lead.RequestDate,
		RawADF:      lead.Raw,
	}
}

// trackProperties builds the flat Segment properties payload. Nil fields are
// omitted rather than sent as nulls.
func trackProperties(row FinalizedLead) map[string]any {
	props := map[string]any{
		"lead_id":              row.LeadID,
		"gubagoo_visitor_uuid": row.GubagooVisitorUUID,
		"lead_type":            row.LeadType,
		"lead_source":          row.LeadSource,
	}
	putStr := func(key string, v *string) {
		if v != nil {
			props[key] = *v
		}
	}
	putStr("first_name", row.FirstName)
	putStr("last_name", row.LastName)
	putStr("email", row.Email)
	putStr("phone", row.Phone)
	putStr("city", row.City)
	putStr("state", row.State)
	putStr("zip_code", row.ZipCode)
	putStr("vehicle_make", row.VehicleMake)
	putStr("vehicle_model", row.VehicleModel)
	putStr("vehicle_vin", row.VehicleVIN)
	putStr("vehicle_stock", row.VehicleStock)
	putStr("vehicle_status", row.VehicleStatus)
	putStr("utm_source", row.UTMSource)
	putStr("utm_medium", row.UTMMedium)
	putStr("utm_campaign", row.UTMCampaign)
	putStr("utm_term", row.UTMTerm)
	putStr("utm_content", row.UTMContent)
	putStr("gclid", row.GCLID)
	putStr("fbclid", row.FBCLID)
	if row.VehicleYear != nil {
		props["vehicle_year"] = *row.VehicleYear
	}
	if row.MonthlyPayment != nil {
		props["monthly_payment"] = *row.MonthlyPayment
	}
	if row.DownPayment != nil {
		props["down_payment"] = *row.DownPayment
	}
	if row.TotalAmount != nil {
		props["total_amount"] = *row.TotalAmount
	}
	if row.TradeInValue != nil {
		props["trade_in_value"] = *row.TradeInValue
	}
	return props
}

func (s *Service) logEmail(ctx context.Context, email InboundEmail, entry EmailLog) {
	if email.Subject != "" {
		entry.EmailSubject = strPtr(truncate(email.Subject, 500))
	}
	if email.From != "" {
		entry.EmailFrom = &email.From
	}
	if err := s.store.LogEmail(ctx, entry); err != nil {
		s.log.Error("failed to write email log", "error", err)
	}
}

// truncate cuts s to at most max bytes without splitting a rune; a partial
// rune at the cut would be rejected by the database as invalid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
