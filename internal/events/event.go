// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/events"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Mapping Domain Events
// =============================================================================

// MappingRecorded is published when a visitor mapping submission is upserted.
type MappingRecorded struct {
	BaseEvent
	GubagooVisitorUUID string `json:"gubagooVisitorUuid"`
	AJSAnonymousID     string `json:"ajsAnonymousId"`
	HasSessionID       bool   `json:"hasSessionId"`
}

func (e MappingRecorded) EventName() string { return "mapping.recorded" }

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadFinalized is published when an inbound lead is joined to a visitor
// mapping and durably written.
type LeadFinalized struct {
	BaseEvent
	LeadID             string `json:"leadId"`
	GubagooVisitorUUID string `json:"gubagooVisitorUuid"`
	AJSAnonymousID     string `json:"ajsAnonymousId"`
	Duplicate          bool   `json:"duplicate"`
}

func (e LeadFinalized) EventName() string { return "leads.lead.finalized" }

// LeadPending is published when an inbound lead cannot be resolved and is
// queued for manual review.
type LeadPending struct {
	BaseEvent
	LeadID string `json:"leadId"`
	Reason string `json:"reason"`
}

func (e LeadPending) EventName() string { return "leads.lead.pending" }

// LeadForwardFailed is published when the Segment forward fails after the
// finalized lead was already written.
type LeadForwardFailed struct {
	BaseEvent
	LeadID string `json:"leadId"`
	Error  string `json:"error"`
}

func (e LeadForwardFailed) EventName() string { return "leads.forward.failed" }
