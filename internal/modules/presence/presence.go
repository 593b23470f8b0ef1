// Package presence tracks which subjects hold at least one open real-time session.
package presence

import (
	"sort"
	"sync"
)

// Tracker maps subject ids to their set of session ids. A subject key exists only while
// its session set is non-empty.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]map[string]struct{})}
}

// Add registers a session and reports whether the subject just came online.
func (t *Tracker) Add(subjectID, sessionID string) bool {
	if subjectID == "" || sessionID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sessions[subjectID]
	if !ok {
		set = make(map[string]struct{}, 1)
		t.sessions[subjectID] = set
	}
	set[sessionID] = struct{}{}
	return !ok
}

// Remove unregisters a session and reports whether the subject just went offline.
func (t *Tracker) Remove(subjectID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sessions[subjectID]
	if !ok {
		return false
	}
	if _, present := set[sessionID]; !present {
		return false
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(t.sessions, subjectID)
		return true
	}
	return false
}

func (t *Tracker) IsOnline(subjectID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[subjectID]
	return ok
}

// OnlineSubjects returns a sorted snapshot of online subject ids.
func (t *Tracker) OnlineSubjects() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.sessions))
	for subjectID := range t.sessions {
		out = append(out, subjectID)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Sessions returns a sorted snapshot of the subject's session ids.
func (t *Tracker) Sessions(subjectID string) []string {
	t.mu.RLock()
	set := t.sessions[subjectID]
	out := make([]string, 0, len(set))
	for sessionID := range set {
		out = append(out, sessionID)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SessionCount returns the total number of tracked sessions.
func (t *Tracker) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, set := range t.sessions {
		n += len(set)
	}
	return n
}
