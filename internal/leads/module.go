package leads

import (
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	apphttp "github.com/bhoerrsag/gubagoo-segment-mapper/internal/http"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/segment"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the leads module with all its
// dependencies. scheduler may be nil when no retry queue is configured.
func NewModule(pool *pgxpool.Pool, mappings MappingFinder, forwarder segment.Forwarder, scheduler ForwardScheduler, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, mappings, forwarder, scheduler, eventBus, log)
	handler := NewHandler(service, val)

	return &Module{
		handler: handler,
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service exposes the leads service to the retry worker and operator tooling.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterHandlers subscribes the module to the domain events it consumes.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.MappingRecorded{}.EventName(), events.HandlerFunc(m.service.HandleMappingRecorded))
}

// RegisterRoutes mounts lead routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/leads")
	group.POST("/email", m.handler.HandleInboundEmail)
	group.GET("/recent", m.handler.HandleRecentLeads)

	ctx.V1.GET("/stats", m.handler.HandleStats)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
