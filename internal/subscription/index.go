// Package subscription maintains the reverse index from channel name to
// subscribed connection ids. The index is what keeps the number of
// active database listens proportional to channels in use, not to
// connection count.
package subscription

import (
	"sync"
)

// ChannelListener is told when a channel gains its first subscriber or
// loses its last one. Transitions are delivered outside the index lock
// and can arrive out of order under concurrent churn; implementations
// must treat them as hints and consult the index for current
// membership. Implemented by the change-stream bridge.
type ChannelListener interface {
	ChannelActive(channel string)
	ChannelIdle(channel string)
}

type Index struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
	listener ChannelListener
}

func New() *Index {
	return &Index{channels: make(map[string]map[string]struct{})}
}

// SetListener wires the bridge in after construction; the bridge needs
// the index for reconnect recovery, so neither can take the other in
// its constructor.
func (i *Index) SetListener(l ChannelListener) {
	i.mu.Lock()
	i.listener = l
	i.mu.Unlock()
}

// Subscribe adds connID to channel. Idempotent: re-subscribing reports
// false and changes nothing. The listener is invoked outside the index
// lock on a 0→1 transition.
func (i *Index) Subscribe(connID, channel string) bool {
	i.mu.Lock()
	members, ok := i.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		i.channels[channel] = members
	}
	if _, dup := members[connID]; dup {
		i.mu.Unlock()
		return false
	}
	members[connID] = struct{}{}
	first := len(members) == 1
	l := i.listener
	i.mu.Unlock()

	if first && l != nil {
		l.ChannelActive(channel)
	}
	return true
}

// Unsubscribe removes connID from channel. Unsubscribing from a channel
// never joined is a no-op. The empty member set is deleted in the same
// mutation; the listener sees the 1→0 transition outside the lock.
func (i *Index) Unsubscribe(connID, channel string) bool {
	i.mu.Lock()
	members, ok := i.channels[channel]
	if !ok {
		i.mu.Unlock()
		return false
	}
	if _, member := members[connID]; !member {
		i.mu.Unlock()
		return false
	}
	delete(members, connID)
	last := len(members) == 0
	if last {
		delete(i.channels, channel)
	}
	l := i.listener
	i.mu.Unlock()

	if last && l != nil {
		l.ChannelIdle(channel)
	}
	return true
}

// Members returns a snapshot of the channel's subscriber ids.
func (i *Index) Members(channel string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	members := i.channels[channel]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// ActiveChannels is the recovery set: after a listening session drops,
// the bridge re-listens on exactly these.
func (i *Index) ActiveChannels() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.channels))
	for ch := range i.channels {
		out = append(out, ch)
	}
	return out
}

// Counts returns subscriber counts per channel for the stats endpoint.
func (i *Index) Counts() map[string]int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]int, len(i.channels))
	for ch, members := range i.channels {
		out[ch] = len(members)
	}
	return out
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.channels)
}
