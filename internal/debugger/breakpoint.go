package debugger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Options are the client-settable properties of a breakpoint.
type Options struct {
	// Enabled breakpoints are considered at step points.
	Enabled bool `json:"enabled"`

	// Suspend stops execution on hit. A breakpoint that does not suspend
	// still logs and records the hit.
	Suspend bool `json:"suspend"`

	// Condition is an expression evaluated in the stopped frame. An empty
	// condition always holds.
	Condition string `json:"condition,omitempty"`

	// EvaluateAndLog is an expression whose value is printed on hit.
	EvaluateAndLog string `json:"evaluateAndLog,omitempty"`

	// HitMessage prints a message naming the breakpoint on hit.
	HitMessage bool `json:"hitMessage,omitempty"`

	// PrintStack prints the call stack on hit.
	PrintStack bool `json:"printStack,omitempty"`

	// RemoveAfterHit removes the breakpoint after its first hit.
	RemoveAfterHit bool `json:"removeAfterHit,omitempty"`
}

// DefaultOptions returns options for a plain enabled, suspending breakpoint.
func DefaultOptions() Options {
	return Options{Enabled: true, Suspend: true}
}

// Breakpoint is a snapshot of a registered breakpoint.
type Breakpoint struct {
	ID       int      `json:"id"`
	Position Position `json:"position"`
	Options

	// MasterID is the ID of the master breakpoint, or 0.
	MasterID int `json:"masterId,omitempty"`

	// LeaveEnabled keeps the breakpoint eligible after it is hit once its
	// master has been hit.
	LeaveEnabled bool `json:"leaveEnabled,omitempty"`

	// MasterWasHit reports whether the master has been hit since the last reset.
	MasterWasHit bool `json:"masterWasHit,omitempty"`

	// SlaveIDs lists breakpoints that use this one as their master.
	SlaveIDs []int `json:"slaveIds,omitempty"`

	HitCount int `json:"hitCount"`
}

// eligible reports whether the breakpoint may be hit, ignoring its condition.
func (b Breakpoint) eligible() bool {
	return b.Enabled && (b.MasterID == 0 || b.MasterWasHit)
}

type entry struct {
	id       int
	pos      Position
	opts     Options
	order    uint64
	hitCount int

	master       *entry
	slaves       []*entry
	leaveEnabled bool
	masterWasHit bool
}

func (e *entry) snapshot() Breakpoint {
	bp := Breakpoint{
		ID:           e.id,
		Position:     e.pos,
		Options:      e.opts,
		LeaveEnabled: e.leaveEnabled,
		MasterWasHit: e.masterWasHit,
		HitCount:     e.hitCount,
	}
	if e.master != nil {
		bp.MasterID = e.master.id
	}
	for _, s := range e.slaves {
		bp.SlaveIDs = append(bp.SlaveIDs, s.id)
	}
	return bp
}

// Registry holds breakpoints by ID and by position.
type Registry struct {
	mu sync.RWMutex

	byID  map[int]*entry
	byPos map[Position][]*entry
	order uint64

	persistPath string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[int]*entry),
		byPos: make(map[Position][]*entry),
	}
}

// SetPersistPath sets the file used by Save and Load.
func (r *Registry) SetPersistPath(path string) {
	r.mu.Lock()
	r.persistPath = path
	r.mu.Unlock()
}

// AddOrModify creates a breakpoint or replaces the position and options of an
// existing one. It reports whether the breakpoint was created.
func (r *Registry) AddOrModify(id int, pos Position, opts Options) (Breakpoint, bool, error) {
	if id <= 0 || !pos.IsValid() {
		return Breakpoint{}, false, fmt.Errorf("%w: id %d at %s", ErrInvalidBreakpoint, id, pos)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		r.order++
		e = &entry{id: id, pos: pos, opts: opts, order: r.order}
		r.byID[id] = e
		r.insertLocked(e)
		return e.snapshot(), true, nil
	}

	if e.pos != pos {
		r.unlinkPosLocked(e)
		e.pos = pos
		r.insertLocked(e)
	}
	e.opts = opts
	return e.snapshot(), false, nil
}

// insertLocked adds e to its position bucket, keeping registration order.
func (r *Registry) insertLocked(e *entry) {
	bucket := append(r.byPos[e.pos], e)
	sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].order < bucket[j].order })
	r.byPos[e.pos] = bucket
}

func (r *Registry) unlinkPosLocked(e *entry) {
	bucket := r.byPos[e.pos]
	for i, other := range bucket {
		if other == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.byPos, e.pos)
		return
	}
	r.byPos[e.pos] = bucket
}

// Remove deletes a breakpoint. Its slaves lose their master.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id int) bool {
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	r.unlinkPosLocked(e)
	if e.master != nil {
		e.master.slaves = removeEntry(e.master.slaves, e)
	}
	for _, s := range e.slaves {
		s.master = nil
		s.masterWasHit = false
	}
	e.slaves = nil
	return true
}

func removeEntry(list []*entry, e *entry) []*entry {
	for i, other := range list {
		if other == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// SetMaster links a breakpoint to a master. A masterID of 0 unlinks it.
// Assigning the current master again is a no-op.
func (r *Registry) SetMaster(id, masterID int, leaveEnabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}

	var master *entry
	if masterID != 0 {
		master, ok = r.byID[masterID]
		if !ok {
			return fmt.Errorf("%w: master %d", ErrBreakpointNotFound, masterID)
		}
		for m := master; m != nil; m = m.master {
			if m == e {
				return fmt.Errorf("%w: %d -> %d", ErrMasterCycle, id, masterID)
			}
		}
	}

	if e.master == master {
		return nil
	}
	if e.master != nil {
		e.master.slaves = removeEntry(e.master.slaves, e)
	}
	e.master = master
	e.masterWasHit = false
	e.leaveEnabled = leaveEnabled
	if master != nil {
		master.slaves = append(master.slaves, e)
	}
	return nil
}

// Get returns the breakpoint with the given ID.
func (r *Registry) Get(id int) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	return e.snapshot(), true
}

// At returns the first breakpoint registered at pos.
func (r *Registry) At(pos Position) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.byPos[pos]
	if len(bucket) == 0 {
		return Breakpoint{}, false
	}
	return bucket[0].snapshot(), true
}

// All returns every breakpoint ordered by ID.
func (r *Registry) All() []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Breakpoint, 0, len(r.byID))
	for _, e := range r.byID {
		result = append(result, e.snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of breakpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Clear removes all breakpoints.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byID = make(map[int]*entry)
	r.byPos = make(map[Position][]*entry)
	r.mu.Unlock()
}

// recordHit performs hit bookkeeping: the hit count grows, slaves see their
// master as hit, a slave that does not stay enabled forgets its master's hit,
// and a remove-after-hit breakpoint is deleted.
func (r *Registry) recordHit(id int) (Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	e.hitCount++
	for _, s := range e.slaves {
		s.masterWasHit = true
	}
	if e.master != nil && !e.leaveEnabled {
		e.masterWasHit = false
	}
	bp := e.snapshot()
	if e.opts.RemoveAfterHit {
		r.removeLocked(id)
	}
	return bp, true
}

// persistedBreakpoints is the on-disk format.
type persistedBreakpoints struct {
	Version     int          `json:"version"`
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// Save writes all breakpoints to the persist path.
func (r *Registry) Save() error {
	r.mu.RLock()
	path := r.persistPath
	r.mu.RUnlock()

	if path == "" {
		return ErrPersistPathNotSet
	}

	content, err := json.MarshalIndent(persistedBreakpoints{
		Version:     1,
		Breakpoints: r.All(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load replaces the registry contents with the persisted breakpoints. A
// missing file is not an error.
func (r *Registry) Load() error {
	r.mu.RLock()
	path := r.persistPath
	r.mu.RUnlock()

	if path == "" {
		return ErrPersistPathNotSet
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read file: %w", err)
	}

	var data persistedBreakpoints
	if err := json.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("unmarshal breakpoints: %w", err)
	}

	r.Clear()
	for _, bp := range data.Breakpoints {
		if _, _, err := r.AddOrModify(bp.ID, bp.Position, bp.Options); err != nil {
			return err
		}
	}
	for _, bp := range data.Breakpoints {
		if bp.MasterID == 0 {
			continue
		}
		if err := r.SetMaster(bp.ID, bp.MasterID, bp.LeaveEnabled); err != nil {
			return err
		}
	}
	return nil
}
