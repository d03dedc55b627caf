// Package presence tracks who is online per channel. Records are
// ephemeral: they live exactly as long as the user's connections do.
package presence

import (
	"sync"
	"time"
)

type Record struct {
	Channel   string         `json:"channel"`
	UserID    string         `json:"userId"`
	TenantID  string         `json:"tenantId"`
	OnlineAt  time.Time      `json:"onlineAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Meta      map[string]any `json:"metadata,omitempty"`
}

type Tracker struct {
	mu sync.RWMutex
	// channel → userID → record
	channels map[string]map[string]*Record
}

func New() *Tracker {
	return &Tracker{channels: make(map[string]map[string]*Record)}
}

// Update merges meta into the user's record on channel. OnlineAt keeps
// its first-seen value across repeated updates; UpdatedAt refreshes
// every time. Returns a copy of the resulting record.
func (t *Tracker) Update(channel, userID, tenantID string, meta map[string]any) Record {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.channels[channel]
	if !ok {
		users = make(map[string]*Record)
		t.channels[channel] = users
	}

	rec, ok := users[userID]
	if !ok {
		rec = &Record{
			Channel:  channel,
			UserID:   userID,
			TenantID: tenantID,
			OnlineAt: now,
			Meta:     make(map[string]any),
		}
		users[userID] = rec
	}
	rec.UpdatedAt = now
	for k, v := range meta {
		rec.Meta[k] = v
	}
	return copyRecord(rec)
}

// RemoveUser drops the user's presence on every channel in the tenant
// and returns the affected channels so the caller can broadcast leave
// events.
func (t *Tracker) RemoveUser(userID, tenantID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for channel, users := range t.channels {
		rec, ok := users[userID]
		if !ok || rec.TenantID != tenantID {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.channels, channel)
		}
		affected = append(affected, channel)
	}
	return affected
}

// Snapshot returns a copy of the channel's records keyed by user id.
// A non-empty tenantID restricts the snapshot to that tenant; records
// from other tenants never leave the tracker.
func (t *Tracker) Snapshot(channel, tenantID string) map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := t.channels[channel]
	out := make(map[string]Record, len(users))
	for id, rec := range users {
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		out[id] = copyRecord(rec)
	}
	return out
}

// Counts returns presence entry counts per channel for the stats
// endpoint.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int, len(t.channels))
	for ch, users := range t.channels {
		out[ch] = len(users)
	}
	return out
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.Meta = make(map[string]any, len(rec.Meta))
	for k, v := range rec.Meta {
		out.Meta[k] = v
	}
	return out
}
