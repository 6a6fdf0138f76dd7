// Package store is the single source of truth for the elements of one canvas:
// their order, the selection and the undo history. Renderers observe it;
// only the interaction layer and the sync coordinator write to it.
package store

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/inamate/planboard/internal/document"
)

// Options configures a Store.
type Options struct {
	// HistoryLimit caps undo depth. Zero means DefaultHistoryLimit; negative
	// disables history, which is what the server-side copy uses.
	HistoryLimit int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Selection is the current selection. Primary is the most recently selected
// id.
type Selection struct {
	IDs     []string
	Primary string
}

// Store holds an ordered element collection. It is safe for concurrent use;
// listeners run after the lock is released, in registration order.
type Store struct {
	mu       sync.RWMutex
	elements []document.CanvasElement
	index    map[string]int
	members  map[string][]string // group id -> direct member ids

	selected map[string]struct{}
	selOrder []string

	history *History
	batch   *batch

	revision  uint64
	lastLocal map[string]time.Time

	listeners    []func(Change)
	selListeners []func(Selection)

	logger *slog.Logger
	now    func() time.Time
}

type batch struct {
	depth int
	base  snapshot
}

// New returns an empty store.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		history:   NewHistory(opts.HistoryLimit),
		selected:  make(map[string]struct{}),
		lastLocal: make(map[string]time.Time),
		logger:    opts.Logger,
		now:       opts.Now,
	}
	s.reindex()
	return s
}

// Initialize replaces the contents with elements, clearing history and
// selection. The slice is copied.
func (s *Store) Initialize(elements []document.CanvasElement) {
	s.mu.Lock()
	before := s.elements
	s.elements = slices.Clone(elements)
	s.reindex()
	s.history.Clear()
	s.batch = nil
	s.clearSelectionLocked()
	s.lastLocal = make(map[string]time.Time)
	s.revision++
	change := diff(OriginReset, before, s.elements)
	s.mu.Unlock()

	s.emit(change)
	s.emitSelection()
}

// Reset empties the store.
func (s *Store) Reset() {
	s.Initialize(nil)
}

// Subscribe registers fn to run after every mutation, whatever its origin.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SubscribeSelection registers fn to run after every selection change.
func (s *Store) SubscribeSelection(fn func(Selection)) {
	s.mu.Lock()
	s.selListeners = append(s.selListeners, fn)
	s.mu.Unlock()
}

// Elements returns a copy of the element array in z-order.
func (s *Store) Elements() []document.CanvasElement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.elements)
}

// Snapshot returns the elements together with the revision they belong to.
func (s *Store) Snapshot() ([]document.CanvasElement, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.elements), s.revision
}

// Get returns a deep copy of one element.
func (s *Store) Get(id string) (document.CanvasElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return document.CanvasElement{}, false
	}
	return s.elements[i].Clone(), true
}

// IndexOf returns the z-index of id, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

// Len returns the element count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}

// Revision increases on every mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// OutermostGroup walks group membership up from id and returns the top-level
// element id a click on id should select.
func (s *Store) OutermostGroup(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outermostLocked(id)
}

func (s *Store) outermostLocked(id string) string {
	for range len(s.elements) {
		i, ok := s.index[id]
		if !ok {
			return id
		}
		g := s.elements[i].Metadata.GroupID
		if _, ok := s.index[g]; g == "" || !ok {
			return id
		}
		id = g
	}
	return id
}

// LastLocalEdit returns when id was last changed by this client.
func (s *Store) LastLocalEdit(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastLocal[id]
	return t, ok
}

// CanUndo reports whether Undo would do anything.
func (s *Store) CanUndo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.CanUndo() || (s.batch != nil && s.batchDirtyLocked())
}

// CanRedo reports whether Redo would do anything.
func (s *Store) CanRedo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.CanRedo()
}

// Begin opens a batch: mutations until the matching Commit form one undo
// step. Batches nest; only the outermost Commit records history.
func (s *Store) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil {
		s.batch.depth++
		return
	}
	s.batch = &batch{depth: 1, base: takeSnapshot(s.elements)}
}

// Commit closes the current batch. A batch that changed nothing leaves no
// history entry.
func (s *Store) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked(false)
}

func (s *Store) commitLocked(all bool) {
	if s.batch == nil {
		return
	}
	s.batch.depth--
	if s.batch.depth > 0 && !all {
		return
	}
	if s.batchDirtyLocked() {
		s.history.Push(s.batch.base)
	}
	s.batch = nil
}

func (s *Store) batchDirtyLocked() bool {
	return !snapshotsEqual(s.batch.base, s.elements)
}

// Cancel abandons the outermost batch and restores the state it started
// from. Peers see the revert as a local change.
func (s *Store) Cancel() {
	s.mu.Lock()
	if s.batch == nil {
		s.mu.Unlock()
		return
	}
	base := s.batch.base
	s.batch = nil
	before := s.elements
	s.elements = slices.Clone(base)
	change, selChanged := s.finishRestoreLocked(OriginLocal, before)
	s.mu.Unlock()

	s.emit(change)
	if selChanged {
		s.emitSelection()
	}
}

// Undo restores the state before the last recorded mutation and clears the
// selection. An open batch is committed first.
func (s *Store) Undo() bool {
	s.mu.Lock()
	s.commitLocked(true)
	prev, ok := s.history.Undo(takeSnapshot(s.elements))
	if !ok {
		s.mu.Unlock()
		return false
	}
	before := s.elements
	s.elements = slices.Clone(prev)
	s.clearSelectionLocked()
	change, _ := s.finishRestoreLocked(OriginHistory, before)
	s.mu.Unlock()

	s.emit(change)
	s.emitSelection()
	return true
}

// Redo reapplies the last undone mutation and clears the selection.
func (s *Store) Redo() bool {
	s.mu.Lock()
	s.commitLocked(true)
	next, ok := s.history.Redo(takeSnapshot(s.elements))
	if !ok {
		s.mu.Unlock()
		return false
	}
	before := s.elements
	s.elements = slices.Clone(next)
	s.clearSelectionLocked()
	change, _ := s.finishRestoreLocked(OriginHistory, before)
	s.mu.Unlock()

	s.emit(change)
	s.emitSelection()
	return true
}

// finishRestoreLocked completes a wholesale replacement of s.elements and
// returns the change relative to before and whether the selection shrank.
func (s *Store) finishRestoreLocked(origin Origin, before []document.CanvasElement) (Change, bool) {
	s.reindex()
	selChanged := s.pruneSelectionLocked()
	s.revision++
	change := diff(origin, before, s.elements)
	s.touchLocked(change)
	return change, selChanged
}

func (s *Store) touchLocked(c Change) {
	if !c.Origin.Local() {
		return
	}
	now := s.now()
	for i := range c.Added {
		s.lastLocal[c.Added[i].ID] = now
	}
	for i := range c.Updated {
		s.lastLocal[c.Updated[i].ID] = now
	}
	for _, id := range c.Removed {
		delete(s.lastLocal, id)
	}
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.elements))
	s.members = make(map[string][]string)
	for i := range s.elements {
		s.index[s.elements[i].ID] = i
	}
	for i := range s.elements {
		if g := s.elements[i].Metadata.GroupID; g != "" {
			s.members[g] = append(s.members[g], s.elements[i].ID)
		}
	}
}

func (s *Store) emit(c Change) {
	if c.Empty() {
		return
	}
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l(c)
	}
}

func snapshotsEqual(a, b []document.CanvasElement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !elementEqual(&a[i], &b[i]) {
			return false
		}
	}
	return true
}
