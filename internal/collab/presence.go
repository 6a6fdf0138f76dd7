package collab

import (
	"maps"
	"slices"
	"sync"
)

// PresenceManager tracks the cursor and selection of every user in a room.
type PresenceManager struct {
	mu        sync.RWMutex
	presences map[string]*PresencePayload // userID -> presence
}

func NewPresenceManager() *PresenceManager {
	return &PresenceManager{
		presences: make(map[string]*PresencePayload),
	}
}

// Update stores p for userID. A nil cursor or selection keeps the previous
// value so clients can send partial updates.
func (pm *PresenceManager) Update(userID string, p *PresencePayload) *PresencePayload {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	next := *p
	if prev, ok := pm.presences[userID]; ok {
		if next.Cursor == nil {
			next.Cursor = prev.Cursor
		}
		if next.Selection == nil {
			next.Selection = prev.Selection
		}
	}
	next.Selection = slices.Clone(next.Selection)
	pm.presences[userID] = &next
	return &next
}

func (pm *PresenceManager) Remove(userID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.presences, userID)
}

// Prune drops id from every selection, after the element was deleted.
func (pm *PresenceManager) Prune(ids []string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for user, p := range pm.presences {
		kept := slices.DeleteFunc(slices.Clone(p.Selection), func(s string) bool {
			return slices.Contains(ids, s)
		})
		if len(kept) != len(p.Selection) {
			next := *p
			next.Selection = kept
			pm.presences[user] = &next
		}
	}
}

func (pm *PresenceManager) GetAll() map[string]*PresencePayload {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return maps.Clone(pm.presences)
}

func (pm *PresenceManager) StateMessage() (*Message, error) {
	return newMessage(TypePresenceState, PresenceStatePayload{Presences: pm.GetAll()})
}
