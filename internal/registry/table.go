// Package registry maintains the in-memory table of registered service
// instances.
//
// The table is the sole custodian of mutable registry state. All state is
// in-memory and intentionally non-persistent: if the hub restarts, services
// re-register automatically via their heartbeat loop. Every operation holds
// a short critical section and performs no I/O under the lock; callers that
// need to emit events collect the data here and emit after the method
// returns.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the tri-valued lifecycle label of a service record.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the three accepted status literals.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Record describes one registered instance of a service.
type Record struct {
	// ID is assigned at first registration and stable across re-registration
	// of the same (name, address, port) triple.
	ID string

	Name     string
	Version  string
	Address  string
	Port     int
	Methods  []string
	Metadata map[string]string

	// RegisteredAt is set once at first registration and preserved when the
	// same instance re-registers.
	RegisteredAt time.Time

	// LastHeartbeat is refreshed on every heartbeat and on registration.
	LastHeartbeat time.Time

	Status Status
}

// clone returns a deep copy so callers never hold a reference into the table.
func (r *Record) clone() Record {
	cp := *r
	cp.Methods = append([]string(nil), r.Methods...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Description carries the registrant-supplied fields of a registration.
type Description struct {
	Name     string
	Version  string
	Address  string
	Port     int
	Methods  []string
	Metadata map[string]string
}

// Instance identifies a routable endpoint of a registered service.
type Instance struct {
	ID      string
	Name    string
	Address string
	Port    int
}

// Table is the authoritative in-memory mapping of instance id to record.
// It is safe for concurrent use; mutations serialize on a single write
// guard and reads may run concurrently.
//
// The zero value is not usable — create instances with NewTable.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record

	// order holds ids in insertion order. SelectBest iterates it so the
	// "first matching" tiebreak is deterministic and reproducible.
	order []string

	logger *zap.Logger
	now    func() time.Time
}

// NewTable creates an empty Table.
func NewTable(logger *zap.Logger) *Table {
	return &Table{
		records: make(map[string]*Record),
		logger:  logger.Named("registry"),
		now:     time.Now,
	}
}

// InsertOrUpdate registers an instance. If a record already exists with the
// same (name, address, port), its id and RegisteredAt are preserved and the
// remaining fields are overwritten; otherwise a fresh id is minted. In both
// cases the record comes out online with a fresh LastHeartbeat.
//
// The returned created flag is true only when a new id was minted — callers
// use it to gate the service_registered event.
func (t *Table) InsertOrUpdate(desc Description) (id string, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()

	for _, existingID := range t.order {
		rec := t.records[existingID]
		if rec.Name == desc.Name && rec.Address == desc.Address && rec.Port == desc.Port {
			rec.Version = desc.Version
			rec.Methods = append([]string(nil), desc.Methods...)
			rec.Metadata = copyMetadata(desc.Metadata)
			rec.LastHeartbeat = now
			rec.Status = StatusOnline

			t.logger.Info("service re-registered",
				zap.String("service_id", rec.ID),
				zap.String("service_name", rec.Name),
			)
			return rec.ID, false
		}
	}

	id = uuid.NewString()
	t.records[id] = &Record{
		ID:            id,
		Name:          desc.Name,
		Version:       desc.Version,
		Address:       desc.Address,
		Port:          desc.Port,
		Methods:       append([]string(nil), desc.Methods...),
		Metadata:      copyMetadata(desc.Metadata),
		RegisteredAt:  now,
		LastHeartbeat: now,
		Status:        StatusOnline,
	}
	t.order = append(t.order, id)

	t.logger.Info("service registered",
		zap.String("service_id", id),
		zap.String("service_name", desc.Name),
		zap.String("address", desc.Address),
		zap.Int("port", desc.Port),
		zap.Int("total_registered", len(t.records)),
	)
	return id, true
}

// Remove deletes the record with the given id. Returns false if no such
// record exists.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[id]
	if !exists {
		return false
	}
	delete(t.records, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	t.logger.Info("service unregistered",
		zap.String("service_id", id),
		zap.String("service_name", rec.Name),
		zap.Int("total_registered", len(t.records)),
	)
	return true
}

// TouchResult reports the outcome of a heartbeat.
type TouchResult struct {
	Found bool
	// WasOffline is true when the record was offline before this heartbeat.
	// Callers use it to gate the status_change event for the recovery.
	WasOffline bool
	Record     Record
}

// Touch refreshes LastHeartbeat and forces the record online.
func (t *Table) Touch(id string) TouchResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[id]
	if !exists {
		return TouchResult{}
	}
	wasOffline := rec.Status == StatusOffline
	rec.LastHeartbeat = t.now().UTC()
	rec.Status = StatusOnline
	return TouchResult{Found: true, WasOffline: wasOffline, Record: rec.clone()}
}

// Snapshot returns copies of all records whose name or version contains
// filter (all records when filter is empty), sorted by name ascending.
// Sorting is part of the contract — clients rely on it.
func (t *Table) Snapshot(filter string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Record, 0, len(t.records))
	for _, id := range t.order {
		rec := t.records[id]
		if filter != "" && !strings.Contains(rec.Name, filter) && !strings.Contains(rec.Version, filter) {
			continue
		}
		result = append(result, rec.clone())
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Get returns a copy of the record with the given id.
func (t *Table) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[id]
	if !exists {
		return Record{}, false
	}
	return rec.clone(), true
}

// SetStatus stores status on the record with the given id and reports
// whether the stored value actually changed. The returned snapshot reflects
// the record after the write.
func (t *Table) SetStatus(id string, status Status) (changed bool, rec Record, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.records[id]
	if !exists {
		return false, Record{}, false
	}
	changed = r.Status != status
	r.Status = status
	return changed, r.clone(), true
}

// TransitionFrom stores to on the record only when its current status is
// from. Used for the busy cycle: an instance becomes busy only from online,
// and returns to online only from busy, so a record that went offline
// mid-call is never resurrected by the call completing.
func (t *Table) TransitionFrom(id string, from, to Status) (changed bool, rec Record, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.records[id]
	if !exists {
		return false, Record{}, false
	}
	if r.Status != from {
		return false, r.clone(), true
	}
	r.Status = to
	return true, r.clone(), true
}

// FindByAddr returns the id of the record listening on (address, port).
func (t *Table) FindByAddr(address string, port int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range t.order {
		rec := t.records[id]
		if rec.Address == address && rec.Port == port {
			return id, true
		}
	}
	return "", false
}

// SelectBest picks the preferred instance for a logical service name:
// the first online record in insertion order, else the first busy one,
// else the first matching record regardless of status.
func (t *Table) SelectBest(name string) (Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var busy, any *Record
	for _, id := range t.order {
		rec := t.records[id]
		if rec.Name != name {
			continue
		}
		switch rec.Status {
		case StatusOnline:
			return instanceOf(rec), true
		case StatusBusy:
			if busy == nil {
				busy = rec
			}
		}
		if any == nil {
			any = rec
		}
	}
	if busy != nil {
		return instanceOf(busy), true
	}
	if any != nil {
		return instanceOf(any), true
	}
	return Instance{}, false
}

// ExpireStale demotes every online record whose last heartbeat is older
// than threshold and returns snapshots of the demoted records. Busy records
// are left alone — reachability of a busy instance is the probe's job.
func (t *Table) ExpireStale(threshold time.Duration) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	var expired []Record
	for _, id := range t.order {
		rec := t.records[id]
		if rec.Status != StatusOnline {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > threshold {
			rec.Status = StatusOffline
			expired = append(expired, rec.clone())
		}
	}
	return expired
}

// ProbeTargets returns the endpoints of all records currently online or
// busy, for the active TCP probe. The probe dials outside the lock.
func (t *Table) ProbeTargets() []Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var targets []Instance
	for _, id := range t.order {
		rec := t.records[id]
		if rec.Status == StatusOnline || rec.Status == StatusBusy {
			targets = append(targets, instanceOf(rec))
		}
	}
	return targets
}

// Len returns the current number of records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func instanceOf(r *Record) Instance {
	return Instance{ID: r.ID, Name: r.Name, Address: r.Address, Port: r.Port}
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
