package leads

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/httpkit"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"

	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// Handler handles lead HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new leads handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// InboundEmailRequest is the payload posted by the email relay.
type InboundEmailRequest struct {
	Subject string `json:"subject" validate:"omitempty,max=1000"`
	From    string `json:"from" validate:"omitempty,max=500"`
	Body    string `json:"body" validate:"required"`
}

// HandleInboundEmail processes one relayed lead email to a terminal
// disposition.
// POST /api/v1/leads/email
func (h *Handler) HandleInboundEmail(c *gin.Context) {
	var req InboundEmailRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	disp, err := h.service.ProcessInboundEmail(c.Request.Context(), InboundEmail{
		Subject: req.Subject,
		From:    req.From,
		Body:    req.Body,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, disp)
}

// RecentLeadResponse is the monitoring read model for one finalized lead.
type RecentLeadResponse struct {
	LeadID             string   `json:"lead_id"`
	FirstName          *string  `json:"first_name"`
	LastName           *string  `json:"last_name"`
	Email              *string  `json:"email"`
	GubagooVisitorUUID string   `json:"gubagoo_visitor_uuid"`
	VehicleYear        *int     `json:"vehicle_year"`
	VehicleMake        *string  `json:"vehicle_make"`
	VehicleModel       *string  `json:"vehicle_model"`
	MonthlyPayment     *float64 `json:"monthly_payment"`
	UTMSource          *string  `json:"utm_source"`
	UTMMedium          *string  `json:"utm_medium"`
	UTMCampaign        *string  `json:"utm_campaign"`
	SegmentSent        bool     `json:"segment_sent"`
	ProcessedAt        string   `json:"processed_at"`
}

// HandleRecentLeads lists recently finalized leads.
// GET /api/v1/leads/recent?limit=
func (h *Handler) HandleRecentLeads(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecentLimit {
			httpkit.Error(c, http.StatusBadRequest, "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}

	rows, err := h.service.RecentLeads(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]RecentLeadResponse, 0, len(rows))
	for _, l := range rows {
		out = append(out, RecentLeadResponse{
			LeadID:             l.LeadID,
			FirstName:          l.FirstName,
			LastName:           l.LastName,
			Email:              l.Email,
			GubagooVisitorUUID: l.GubagooVisitorUUID,
			VehicleYear:        l.VehicleYear,
			VehicleMake:        l.VehicleMake,
			VehicleModel:       l.VehicleModel,
			MonthlyPayment:     l.MonthlyPayment,
			UTMSource:          l.UTMSource,
			UTMMedium:          l.UTMMedium,
			UTMCampaign:        l.UTMCampaign,
			SegmentSent:        l.SegmentSent,
			ProcessedAt:        l.ProcessedAt.UTC().Format(time.RFC3339),
		})
	}

	httpkit.OK(c, gin.H{"leads": out})
}

// StatsResponse is the monitoring totals payload.
type StatsResponse struct {
	TotalMappings   int64 `json:"total_mappings"`
	TotalLeads      int64 `json:"total_leads"`
	AttributedLeads int64 `json:"attributed_leads"`
	PendingLeads    int64 `json:"pending_leads"`
	AttributionRate int64 `json:"attribution_rate"`
}

// HandleStats reports pipeline totals.
// GET /api/v1/stats
func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.service.PipelineStats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, StatsResponse{
		TotalMappings:   stats.TotalMappings,
		TotalLeads:      stats.TotalLeads,
		AttributedLeads: stats.AttributedLeads,
		PendingLeads:    stats.PendingLeads,
		AttributionRate: stats.AttributionRate,
	})
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}
