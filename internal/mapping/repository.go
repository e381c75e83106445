// Package mapping provides the visitor-attribution bounded context: the
// browser-side collector submits Segment-anonymous-id to Gubagoo-visitor-uuid
// mappings here, and the lead pipeline joins against them by session id.
package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrMappingNotFound = errors.New("visitor mapping not found")

// DB is the subset of pgxpool.Pool the repository needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Mapping is one visitor-attribution record. At most one live row exists per
// GubagooVisitorUUID; the repository upserts on that key.
type Mapping struct {
	ID                 uuid.UUID
	AJSAnonymousID     string
	GubagooVisitorUUID string
	SDSessionID        *string
	GubagooUserID      *string
	GubagooSessionID   *string
	UTMSource          *string
	UTMMedium          *string
	UTMCampaign        *string
	UTMTerm            *string
	UTMContent         *string
	Referrer           *string
	LandingPage        *string
	PageURL            *string
	GCLID              *string
	FBCLID             *string
	UserAgent          *string
	IPAddress          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Repository provides data access for visitor mappings.
type Repository struct {
	db DB
}

// NewRepository creates a new mapping repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const mappingColumns = `
	id, ajs_anonymous_id, gubagoo_visitor_uuid, sd_session_id,
	gubagoo_user_id, gubagoo_session_id,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content,
	referrer, landing_page, page_url, gclid, fbclid,
	user_agent, ip_address, created_at, updated_at`

// Upsert inserts or replaces the mapping keyed on gubagoo_visitor_uuid.
// Campaign fields take the latest submission; sd_session_id is sticky once
// captured, since it is the join key for leads that arrive later.
func (r *Repository) Upsert(ctx context.Context, m Mapping) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO gubagoo_segment_mapping (
			ajs_anonymous_id, gubagoo_visitor_uuid, sd_session_id,
			gubagoo_user_id, gubagoo_session_id,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			referrer, landing_page, page_url, gclid, fbclid,
			user_agent, ip_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (gubagoo_visitor_uuid) DO UPDATE SET
			ajs_anonymous_id   = EXCLUDED.ajs_anonymous_id,
			sd_session_id      = COALESCE(EXCLUDED.sd_session_id, gubagoo_segment_mapping.sd_session_id),
			gubagoo_user_id    = COALESCE(EXCLUDED.gubagoo_user_id, gubagoo_segment_mapping.gubagoo_user_id),
			gubagoo_session_id = COALESCE(EXCLUDED.gubagoo_session_id, gubagoo_segment_mapping.gubagoo_session_id),
			utm_source         = EXCLUDED.utm_source,
			utm_medium         = EXCLUDED.utm_medium,
			utm_campaign       = EXCLUDED.utm_campaign,
			utm_term           = EXCLUDED.utm_term,
			utm_content        = EXCLUDED.utm_content,
			referrer           = EXCLUDED.referrer,
			landing_page       = EXCLUDED.landing_page,
			page_url           = EXCLUDED.page_url,
			gclid              = EXCLUDED.gclid,
			fbclid             = EXCLUDED.fbclid,
			user_agent         = EXCLUDED.user_agent,
			ip_address         = EXCLUDED.ip_address,
			updated_at         = now()
	`, m.AJSAnonymousID, m.GubagooVisitorUUID, m.SDSessionID,
		m.GubagooUserID, m.GubagooSessionID,
		m.UTMSource, m.UTMMedium, m.UTMCampaign, m.UTMTerm, m.UTMContent,
		m.Referrer, m.LandingPage, m.PageURL, m.GCLID, m.FBCLID,
		m.UserAgent, m.IPAddress)
	return err
}

// GetByVisitorUUID retrieves a mapping by its Gubagoo visitor uuid.
func (r *Repository) GetByVisitorUUID(ctx context.Context, visitorUUID string) (Mapping, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+mappingColumns+`
		FROM gubagoo_segment_mapping
		WHERE gubagoo_visitor_uuid = $1
	`, visitorUUID)
	return scanMapping(row)
}

// GetBySessionID retrieves a mapping by the analytics session id embedded in
// emailed lead documents. This is the lookup the attribution join runs on.
func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (Mapping, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+mappingColumns+`
		FROM gubagoo_segment_mapping
		WHERE sd_session_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, sessionID)
	return scanMapping(row)
}

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	err := row.Scan(
		&m.ID, &m.AJSAnonymousID, &m.GubagooVisitorUUID, &m.SDSessionID,
		&m.GubagooUserID, &m.GubagooSessionID,
		&m.UTMSource, &m.UTMMedium, &m.UTMCampaign, &m.UTMTerm, &m.UTMContent,
		&m.Referrer, &m.LandingPage, &m.PageURL, &m.GCLID, &m.FBCLID,
		&m.UserAgent, &m.IPAddress, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrMappingNotFound
	}
	return m, err
}
