package mapping

import (
	"net/http"
	"time"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/httpkit"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler handles visitor-mapping HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new mapping handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// SubmitMappingRequest is the payload posted by the browser-side collector.
// Field names mirror the wire contract of the tracking snippet.
type SubmitMappingRequest struct {
	AJSAnonymousID     string  `json:"ajs_anonymous_id" validate:"required,min=1,max=200"`
	GubagooVisitorUUID string  `json:"gubagoo_visitor_uuid" validate:"required,min=1,max=200"`
	SDSessionID        *string `json:"sd_session_id" validate:"omitempty,max=200"`
	GubagooUserID      *string `json:"gubagoo_user_id" validate:"omitempty,max=200"`
	GubagooSessionID   *string `json:"gubagoo_session_id" validate:"omitempty,max=200"`
	UTMSource          *string `json:"utm_source" validate:"omitempty,max=500"`
	UTMMedium          *string `json:"utm_medium" validate:"omitempty,max=500"`
	UTMCampaign        *string `json:"utm_campaign" validate:"omitempty,max=500"`
	UTMTerm            *string `json:"utm_term" validate:"omitempty,max=500"`
	UTMContent         *string `json:"utm_content" validate:"omitempty,max=500"`
	Referrer           *string `json:"referrer" validate:"omitempty,max=2000"`
	LandingPage        *string `json:"landing_page" validate:"omitempty,max=2000"`
	PageURL            *string `json:"page_url" validate:"omitempty,max=2000"`
	GCLID              *string `json:"gclid" validate:"omitempty,max=500"`
	FBCLID             *string `json:"fbclid" validate:"omitempty,max=500"`
}

// SubmitMappingResponse acknowledges a stored mapping.
type SubmitMappingResponse struct {
	Success     bool   `json:"success"`
	VisitorUUID string `json:"visitor_uuid"`
}

// HandleSubmitMapping records a visitor-attribution mapping.
// POST /api/v1/mappings
func (h *Handler) HandleSubmitMapping(c *gin.Context) {
	var req SubmitMappingRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	m := Mapping{
		AJSAnonymousID:     req.AJSAnonymousID,
		GubagooVisitorUUID: req.GubagooVisitorUUID,
		SDSessionID:        req.SDSessionID,
		GubagooUserID:      req.GubagooUserID,
		GubagooSessionID:   req.GubagooSessionID,
		UTMSource:          req.UTMSource,
		UTMMedium:          req.UTMMedium,
		UTMCampaign:        req.UTMCampaign,
		UTMTerm:            req.UTMTerm,
		UTMContent:         req.UTMContent,
		Referrer:           req.Referrer,
		LandingPage:        req.LandingPage,
		PageURL:            req.PageURL,
		GCLID:              req.GCLID,
		FBCLID:             req.FBCLID,
	}

	if ua := c.Request.UserAgent(); ua != "" {
		m.UserAgent = &ua
	}
	if ip := c.ClientIP(); ip != "" {
		m.IPAddress = &ip
	}

	if err := h.service.Submit(c.Request.Context(), m); httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusOK, SubmitMappingResponse{
		Success:     true,
		VisitorUUID: m.GubagooVisitorUUID,
	})
}

// MappingResponse is the read model returned by the lookup endpoint.
type MappingResponse struct {
	AJSAnonymousID     string  `json:"ajs_anonymous_id"`
	GubagooVisitorUUID string  `json:"gubagoo_visitor_uuid"`
	SDSessionID        *string `json:"sd_session_id"`
	GubagooUserID      *string `json:"gubagoo_user_id"`
	GubagooSessionID   *string `json:"gubagoo_session_id"`
	UTMSource          *string `json:"utm_source"`
	UTMMedium          *string `json:"utm_medium"`
	UTMCampaign        *string `json:"utm_campaign"`
	UTMTerm            *string `json:"utm_term"`
	UTMContent         *string `json:"utm_content"`
	Referrer           *string `json:"referrer"`
	LandingPage        *string `json:"landing_page"`
	PageURL            *string `json:"page_url"`
	GCLID              *string `json:"gclid"`
	FBCLID             *string `json:"fbclid"`
	UpdatedAt          string  `json:"updated_at"`
}

// HandleGetMapping retrieves a stored mapping by visitor uuid.
// GET /api/v1/mappings/:visitorUuid
func (h *Handler) HandleGetMapping(c *gin.Context) {
	visitorUUID := c.Param("visitorUuid")
	if visitorUUID == "" {
		httpkit.Error(c, http.StatusBadRequest, "missing visitor uuid", nil)
		return
	}

	m, err := h.service.GetByVisitorUUID(c.Request.Context(), visitorUUID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, MappingResponse{
		AJSAnonymousID:     m.AJSAnonymousID,
		GubagooVisitorUUID: m.GubagooVisitorUUID,
		SDSessionID:        m.SDSessionID,
		GubagooUserID:      m.GubagooUserID,
		GubagooSessionID:   m.GubagooSessionID,
		UTMSource:          m.UTMSource,
		UTMMedium:          m.UTMMedium,
		UTMCampaign:        m.UTMCampaign,
		UTMTerm:            m.UTMTerm,
		UTMContent:         m.UTMContent,
		Referrer:           m.Referrer,
		LandingPage:        m.LandingPage,
		PageURL:            m.PageURL,
		GCLID:              m.GCLID,
		FBCLID:             m.FBCLID,
		UpdatedAt:          m.UpdatedAt.UTC().Format(time.RFC3339),
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
