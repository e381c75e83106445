package mapping

import (
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	apphttp "github.com/bhoerrsag/gubagoo-segment-mapper/internal/http"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the visitor-mapping bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
}

// NewModule creates and initializes the mapping module with all its dependencies.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, eventBus, log)
	handler := NewHandler(service, val)

	return &Module{
		handler: handler,
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "mapping"
}

// Service exposes the mapping service so the leads module can resolve
// attribution through it.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts mapping routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/mappings")
	group.POST("", m.handler.HandleSubmitMapping)
	group.GET("/:visitorUuid", m.handler.HandleGetMapping)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
