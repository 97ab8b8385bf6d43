// Package hub ties the service table to the event bus. Every mutating
// operation follows the same discipline: mutate the table, let the table
// release its guard, then emit the resulting event. No event is ever
// published while registry state is still locked.
package hub

import (
	"time"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/registry"
)

// Reasons attached to status_change events. These strings are part of the
// wire contract.
const (
	ReasonHealthCheckFailed = "Health check failed"
	ReasonDirectConnFailed  = "Direct connection failed"
	ReasonStatusReported    = "Service reported status change"
)

// Hub is the core registry engine: the single entry point through which
// the RPC surface, the HTTP surface, the router and the liveness monitor
// mutate service state.
type Hub struct {
	table  *registry.Table
	bus    *events.Bus
	logger *zap.Logger
}

// New creates a Hub over the given table and bus.
func New(table *registry.Table, bus *events.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		table:  table,
		bus:    bus,
		logger: logger.Named("hub"),
	}
}

// Register inserts or updates a service record and returns its id.
// A service_registered event is emitted only when a new id was minted;
// re-registration of a known (name, address, port) is a silent update.
func (h *Hub) Register(desc registry.Description) (id string, created bool) {
	id, created = h.table.InsertOrUpdate(desc)
	if created {
		h.bus.Publish(events.NewRegistered(id, desc.Name, desc.Address, desc.Port))
	}
	return id, created
}

// Unregister removes the record with the given id.
func (h *Hub) Unregister(id string) bool {
	return h.table.Remove(id)
}

// Heartbeat refreshes the record's liveness. When the heartbeat revives an
// offline record, a status_change back to online is emitted.
func (h *Hub) Heartbeat(id string) registry.TouchResult {
	res := h.table.Touch(id)
	if res.Found && res.WasOffline {
		h.logger.Info("service recovered via heartbeat",
			zap.String("service_id", id),
			zap.String("service_name", res.Record.Name),
		)
		h.bus.Publish(events.NewStatusChange(id, res.Record.Name, string(registry.StatusOnline), ""))
	}
	return res
}

// List returns record snapshots filtered by name/version substring and
// sorted by name.
func (h *Hub) List(filter string) []registry.Record {
	return h.table.Snapshot(filter)
}

// Get returns a snapshot of one record.
func (h *Hub) Get(id string) (registry.Record, bool) {
	return h.table.Get(id)
}

// SetStatus stores an explicitly reported status. The status_change event
// carries reason and is emitted only when the stored value changed.
func (h *Hub) SetStatus(id string, status registry.Status, reason string) (changed, found bool) {
	changed, rec, found := h.table.SetStatus(id, status)
	if !found {
		return false, false
	}
	if changed {
		h.bus.Publish(events.NewStatusChange(id, rec.Name, string(status), reason))
	}
	return changed, true
}

// SetBusy moves an online instance to busy before a forwarded call.
// Instances in any other state are left untouched.
func (h *Hub) SetBusy(id string) bool {
	changed, rec, found := h.table.TransitionFrom(id, registry.StatusOnline, registry.StatusBusy)
	if !found || !changed {
		return false
	}
	h.bus.Publish(events.NewStatusChange(id, rec.Name, string(registry.StatusBusy), ""))
	return true
}

// ReleaseBusy returns a busy instance to online after a forwarded call
// completes. An instance that went offline mid-call stays offline.
func (h *Hub) ReleaseBusy(id string) bool {
	changed, rec, found := h.table.TransitionFrom(id, registry.StatusBusy, registry.StatusOnline)
	if !found || !changed {
		return false
	}
	h.bus.Publish(events.NewStatusChange(id, rec.Name, string(registry.StatusOnline), ""))
	return true
}

// MarkOffline forces a record offline, skipping the busy cycle. The event
// is emitted only when the record was not already offline.
func (h *Hub) MarkOffline(id, reason string) bool {
	changed, rec, found := h.table.SetStatus(id, registry.StatusOffline)
	if !found {
		return false
	}
	if changed {
		h.logger.Warn("service marked offline",
			zap.String("service_id", id),
			zap.String("service_name", rec.Name),
			zap.String("reason", reason),
		)
		h.bus.Publish(events.NewStatusChange(id, rec.Name, string(registry.StatusOffline), reason))
	}
	return changed
}

// ExpireStale demotes online records whose heartbeat is older than
// threshold and emits one status_change per demoted record.
func (h *Hub) ExpireStale(threshold time.Duration) int {
	expired := h.table.ExpireStale(threshold)
	for _, rec := range expired {
		h.logger.Warn("service heartbeat stale, marked offline",
			zap.String("service_id", rec.ID),
			zap.String("service_name", rec.Name),
		)
		h.bus.Publish(events.NewStatusChange(rec.ID, rec.Name, string(registry.StatusOffline), ""))
	}
	return len(expired)
}

// ProbeTargets lists the endpoints the active TCP probe should check.
func (h *Hub) ProbeTargets() []registry.Instance {
	return h.table.ProbeTargets()
}

// SelectBest resolves a logical service name to the preferred instance.
func (h *Hub) SelectBest(name string) (registry.Instance, bool) {
	return h.table.SelectBest(name)
}

// FindByAddr resolves an (address, port) endpoint back to a record id.
func (h *Hub) FindByAddr(address string, port int) (string, bool) {
	return h.table.FindByAddr(address, port)
}

// Subscribe attaches a new event bus consumer.
func (h *Hub) Subscribe() *events.Subscriber {
	return h.bus.Subscribe()
}

// Unsubscribe detaches an event bus consumer.
func (h *Hub) Unsubscribe(s *events.Subscriber) {
	h.bus.Unsubscribe(s)
}

// Publish forwards an event to the bus. Used by surfaces that synthesize
// their own stream-head events.
func (h *Hub) Publish(ev events.Event) {
	h.bus.Publish(ev)
}

// SubscriberCount reports the number of attached event consumers.
func (h *Hub) SubscriberCount() int {
	return h.bus.SubscriberCount()
}

// Len reports the number of registered records.
func (h *Hub) Len() int {
	return h.table.Len()
}
