package gwconfig

import (
	"sort"
	"sync"

	"github.com/Laisky/zap"

	"github.com/proxycast/gateway/common/logger"
)

// Store holds the current Config and fans changes out to registered
// Observers in priority order, plus a channel-based broadcast for
// subscribers that just want a copy of every event (e.g. a management-UI
// websocket forwarder). Ported from the prior implementation's
// GlobalConfigManager + ConfigSubject pair, collapsed into one type since
// Go has no separate "hot reload manager" actor to coordinate with.
type Store struct {
	mu      sync.RWMutex
	current Config

	obsMu     sync.Mutex
	observers []Observer

	subMu sync.Mutex
	subs  []chan ChangeEvent
}

// NewStore creates a Store seeded with initial.
func NewStore(initial Config) *Store {
	return &Store{current: initial}
}

// Get returns a deep-enough copy of the current config, safe to read
// without holding any lock afterward.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Register adds an observer, keeping the internal list priority-sorted.
func (s *Store) Register(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
	sort.SliceStable(s.observers, func(i, j int) bool {
		return s.observers[i].Priority() < s.observers[j].Priority()
	})
}

// Unregister removes the observer with the given name, if present.
func (s *Store) Unregister(name string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := s.observers[:0]
	for _, o := range s.observers {
		if o.Name() != name {
			out = append(out, o)
		}
	}
	s.observers = out
}

// ObserverNames returns the registered observer names in call order, for
// diagnostics.
func (s *Store) ObserverNames() []string {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	names := make([]string, len(s.observers))
	for i, o := range s.observers {
		names[i] = o.Name()
	}
	return names
}

// Subscribe returns a channel that receives every future ChangeEvent. The
// caller must keep draining it; Update drops the event for a subscriber
// whose channel is full rather than block the update path.
func (s *Store) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// Update atomically swaps in newConfig and notifies observers and
// subscribers, in that order, under the given source and kind.
func (s *Store) Update(kind ChangeKind, newConfig Config, source ChangeSource) {
	s.mu.Lock()
	old := s.current
	s.current = newConfig
	s.mu.Unlock()

	ev := ChangeEvent{Kind: kind, Source: source, Old: old, New: newConfig.Clone()}

	s.obsMu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.Unlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Logger.Error("config observer panicked",
						zap.String("observer", o.Name()), zap.Any("panic", r))
				}
			}()
			o.OnConfigChanged(ev)
		}()
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logger.Logger.Warn("config change subscriber channel full, dropping event")
		}
	}
}
