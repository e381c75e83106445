// Package leads implements the lead-attribution pipeline: inbound ADF emails
// are parsed, joined to visitor mappings, durably written and forwarded to
// the analytics sink.
package leads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrLeadNotFound = errors.New("finalized lead not found")

// DB is the subset of pgxpool.Pool the repository needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FinalizedLead is a lead that was joined to a visitor mapping and written to
// gubagoo_leads. Attribution fields come from the mapping at resolution time;
// everything else comes from the parsed document.
type FinalizedLead struct {
	ID                 uuid.UUID
	LeadID             string
	AJSAnonymousID     string
	GubagooVisitorUUID string
	SDSessionID        *string

	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string

	Street  *string
	City    *string
	State   *string
	ZipCode *string

	VehicleYear   *int
	VehicleMake   *string
	VehicleModel  *string
	VehicleVIN    *string
	VehicleStock  *string
	VehicleStatus *string

	MonthlyPayment *float64
	DownPayment    *float64
	TotalAmount    *float64

	TradeInYear    *int
	TradeInMake    *string
	TradeInModel   *string
	TradeInVIN     *string
	TradeInValue   *float64
	TradeInMileage *int

	UTMSource   *string
	UTMMedium   *string
	UTMCampaign *string
	UTMTerm     *string
	UTMContent  *string
	GCLID       *string
	FBCLID      *string

	LeadType    string
	LeadSource  string
	RequestDate time.Time

	RawADF string

	SegmentSent   bool
	SegmentSentAt *time.Time
	ProcessedAt   time.Time
}

// PendingLead is a lead that could not be attributed. Rows are append-only;
// reprocessing marks them resolved rather than deleting them.
type PendingLead struct {
	ID            uuid.UUID
	LeadID        *string
	SDSessionID   *string
	EmailSubject  *string
	EmailBody     *string
	LeadData      []byte // serialized parsed document, reprocessing input
	FailureReason string
	RetryCount    int
	Resolved      bool
	CreatedAt     time.Time
}

// EmailLog is one row of the per-email processing audit trail.
type EmailLog struct {
	EmailSubject       *string
	EmailFrom          *string
	GubagooVisitorUUID *string
	LeadID             *string
	ProcessingStatus   string
	ErrorMessage       *string
}

// Stats summarizes pipeline throughput for the monitoring endpoint.
type Stats struct {
	TotalMappings   int64
	TotalLeads      int64
	AttributedLeads int64
	PendingLeads    int64
	AttributionRate int64 // whole percent
}

// Repository provides data access for finalized and pending leads.
type Repository struct {
	db DB
}

// NewRepository creates a new leads repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// InsertFinalized writes a finalized lead. The insert is deduplicated on
// lead_id: emails are delivered at least once, and a redelivery must not
// create a second row. Returns false when the lead already existed.
func (r *Repository) InsertFinalized(ctx context.Context, l FinalizedLead) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO gubagoo_leads (
			lead_id, ajs_anonymous_id, gubagoo_visitor_uuid, sd_session_id,
			first_name, last_name, email, phone,
			street, city, state, zip_code,
			vehicle_year, vehicle_make, vehicle_model, vehicle_vin, vehicle_stock, vehicle_status,
			monthly_payment, down_payment, total_amount,
			trade_in_year, trade_in_make, trade_in_model, trade_in_vin, trade_in_value, trade_in_mileage,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content, gclid, fbclid,
			lead_type, lead_source, request_date, raw_adf,
			segment_sent, segment_sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40
		)
		ON CONFLICT (lead_id) DO NOTHING
	`, l.LeadID, l.AJSAnonymousID, l.GubagooVisitorUUID, l.SDSessionID,
		l.FirstName, l.LastName, l.Email, l.Phone,
		l.Street, l.City, l.State, l.ZipCode,
		l.VehicleYear, l.VehicleMake, l.VehicleModel, l.VehicleVIN, l.VehicleStock, l.VehicleStatus,
		l.MonthlyPayment, l.DownPayment, l.TotalAmount,
		l.TradeInYear, l.TradeInMake, l.TradeInModel, l.TradeInVIN, l.TradeInValue, l.TradeInMileage,
		l.UTMSource, l.UTMMedium, l.UTMCampaign, l.UTMTerm, l.UTMContent, l.GCLID, l.FBCLID,
		l.LeadType, l.LeadSource, l.RequestDate, l.RawADF,
		l.SegmentSent, l.SegmentSentAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const finalizedColumns = `
	id, lead_id, ajs_anonymous_id, gubagoo_visitor_uuid, sd_session_id,
	first_name, last_name, email, phone,
	street, city, state, zip_code,
	vehicle_year, vehicle_make, vehicle_model, vehicle_vin, vehicle_stock, vehicle_status,
	monthly_payment, down_payment, total_amount,
	trade_in_year, trade_in_make, trade_in_model, trade_in_vin, trade_in_value, trade_in_mileage,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content, gclid, fbclid,
	lead_type, lead_source, request_date, raw_adf,
	segment_sent, segment_sent_at, processed_at`

// GetFinalizedByLeadID retrieves a finalized lead by its provider lead id.
func (r *Repository) GetFinalizedByLeadID(ctx context.Context, leadID string) (FinalizedLead, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+finalizedColumns+`
		FROM gubagoo_leads
		WHERE lead_id = $1
	`, leadID)
	return scanFinalized(row)
}

// MarkForwarded records a successful Segment forward on the lead row.
func (r *Repository) MarkForwarded(ctx context.Context, leadID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE gubagoo_leads
		SET segment_sent = true, segment_sent_at = $2
		WHERE lead_id = $1
	`, leadID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// RecentFinalized returns the most recently processed finalized leads.
func (r *Repository) RecentFinalized(ctx context.Context, limit int) ([]FinalizedLead, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+finalizedColumns+`
		FROM gubagoo_leads
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FinalizedLead
	for rows.Next() {
		l, err := scanFinalized(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertPending writes an unattributed lead for later reprocessing.
func (r *Repository) InsertPending(ctx context.Context, p PendingLead) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO gubagoo_pending_leads (
			lead_id, sd_session_id, email_subject, email_body,
			lead_data, failure_reason, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.LeadID, p.SDSessionID, p.EmailSubject, p.EmailBody,
		p.LeadData, p.FailureReason, p.RetryCount)
	return err
}

// UnresolvedPending returns pending leads that still carry a parsed document
// and have not been finalized since.
func (r *Repository) UnresolvedPending(ctx context.Context, limit int) ([]PendingLead, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, lead_id, sd_session_id, email_subject, email_body,
			lead_data, failure_reason, retry_count, resolved, created_at
		FROM gubagoo_pending_leads
		WHERE NOT resolved AND lead_data IS NOT NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingLead
	for rows.Next() {
		var p PendingLead
		if err := rows.Scan(&p.ID, &p.LeadID, &p.SDSessionID, &p.EmailSubject, &p.EmailBody,
			&p.LeadData, &p.FailureReason, &p.RetryCount, &p.Resolved, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPendingResolved flags a pending lead as finalized by reprocessing.
func (r *Repository) MarkPendingResolved(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE gubagoo_pending_leads
		SET resolved = true, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// IncrementPendingRetry bumps the retry counter after a reprocessing attempt
// that still found no attribution.
func (r *Repository) IncrementPendingRetry(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE gubagoo_pending_leads
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// LogEmail appends a row to the processing audit trail. Failures here are the
// caller's to swallow; the audit log never blocks the pipeline.
func (r *Repository) LogEmail(ctx context.Context, e EmailLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO gubagoo_email_log (
			email_subject, email_from, gubagoo_visitor_uuid,
			lead_id, processing_status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, e.EmailSubject, e.EmailFrom, e.GubagooVisitorUUID,
		e.LeadID, e.ProcessingStatus, e.ErrorMessage)
	return err
}

// GetStats computes pipeline totals for the monitoring endpoint.
func (r *Repository) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM gubagoo_segment_mapping),
			(SELECT count(*) FROM gubagoo_leads),
			(SELECT count(*) FROM gubagoo_leads WHERE utm_source IS NOT NULL),
			(SELECT count(*) FROM gubagoo_pending_leads WHERE NOT resolved)
	`).Scan(&s.TotalMappings, &s.TotalLeads, &s.AttributedLeads, &s.PendingLeads)
	if err != nil {
		return Stats{}, err
	}
	if s.TotalLeads > 0 {
		s.AttributionRate = (s.AttributedLeads*100 + s.TotalLeads/2) / s.TotalLeads
	}
	return s, nil
}

func scanFinalized(row pgx.Row) (FinalizedLead, error) {
	var l FinalizedLead
	err := row.Scan(
		&l.ID, &l.LeadID, &l.AJSAnonymousID, &l.GubagooVisitorUUID, &l.SDSessionID,
		&l.FirstName, &l.LastName, &l.Email, &l.Phone,
		&l.Street, &l.City, &l.State, &l.ZipCode,
		&l.VehicleYear, &l.VehicleMake, &l.VehicleModel, &l.VehicleVIN, &l.VehicleStock, &l.VehicleStatus,
		&l.MonthlyPayment, &l.DownPayment, &l.TotalAmount,
		&l.TradeInYear, &l.TradeInMake, &l.TradeInModel, &l.TradeInVIN, &l.TradeInValue, &l.TradeInMileage,
		&l.UTMSource, &l.UTMMedium, &l.UTMCampaign, &l.UTMTerm, &l.UTMContent, &l.GCLID, &l.FBCLID,
		&l.LeadType, &l.LeadSource, &l.RequestDate, &l.RawADF,
		&l.SegmentSent, &l.SegmentSentAt, &l.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinalizedLead{}, ErrLeadNotFound
	}
	return l, err
}
