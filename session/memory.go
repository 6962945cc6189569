package session

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
)

const defaultWatchBuffer = 64

// MemoryBackend is storage shared by every tab of one simulated browser
// profile. Tabs obtain handles through [MemoryBackend.Tab].
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string

	watchMu  sync.RWMutex
	watchers map[*memoryWatcher]struct{}
	buffer   int

	unavailable atomic.Bool
	dropped     atomic.Uint64
	logger      atomic.Pointer[log.Logger]
}

type memoryWatcher struct {
	ch chan Event
}

// NewMemoryBackend creates an empty shared backend that logs to
// [log.Default].
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		data:     make(map[string]string),
		watchers: make(map[*memoryWatcher]struct{}),
		buffer:   defaultWatchBuffer,
	}
	b.logger.Store(log.Default())
	return b
}

// SetLogger redirects the backend's log output. A nil logger silences it.
func (b *MemoryBackend) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	b.logger.Store(l)
}

// Tab returns a handle whose mutations are stamped with origin. An empty
// origin gets a generated one.
func (b *MemoryBackend) Tab(origin string) *MemoryStore {
	if origin == "" {
		origin = NewTabID()
	}
	return &MemoryStore{backend: b, origin: origin}
}

// SetUnavailable makes every operation fail with [ErrUnavailable], the way
// storage behaves in some private browsing modes.
func (b *MemoryBackend) SetUnavailable(v bool) {
	b.unavailable.Store(v)
}

// Dropped reports events discarded because a watcher buffer was full.
func (b *MemoryBackend) Dropped() uint64 {
	return b.dropped.Load()
}

// Snapshot copies the current contents.
func (b *MemoryBackend) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]string, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

func (b *MemoryBackend) get(key string) (string, bool, error) {
	if b.unavailable.Load() {
		return "", false, ErrUnavailable
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackend) set(origin, key, value string) error {
	if b.unavailable.Load() {
		return ErrUnavailable
	}

	b.mu.Lock()
	prev, existed := b.data[key]
	b.data[key] = value
	b.mu.Unlock()

	// Storage only notifies on an actual change.
	if existed && prev == value {
		return nil
	}
	b.broadcast(Event{Key: key, NewValue: value, Origin: origin})
	return nil
}

func (b *MemoryBackend) remove(origin, key string) error {
	if b.unavailable.Load() {
		return ErrUnavailable
	}

	b.mu.Lock()
	_, existed := b.data[key]
	delete(b.data, key)
	b.mu.Unlock()

	if !existed {
		return nil
	}
	b.broadcast(Event{Key: key, Removed: true, Origin: origin})
	return nil
}

// broadcast runs after the mutation is visible. A watcher whose buffer is full
// still has an undelivered event queued, and handling that one re-reads
// storage, so dropping here cannot lose the final state.
func (b *MemoryBackend) broadcast(ev Event) {
	b.watchMu.RLock()
	defer b.watchMu.RUnlock()

	for w := range b.watchers {
		select {
		case w.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Load().Printf("session: drop storage event key=%s origin=%s", ev.Key, ev.Origin)
		}
	}
}

func (b *MemoryBackend) watch(ctx context.Context) (<-chan Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	w := &memoryWatcher{ch: make(chan Event, b.buffer)}

	b.watchMu.Lock()
	b.watchers[w] = struct{}{}
	b.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		b.watchMu.Lock()
		delete(b.watchers, w)
		close(w.ch)
		b.watchMu.Unlock()
	}()

	return w.ch, nil
}

// MemoryStore is one tab's handle on a [MemoryBackend].
type MemoryStore struct {
	backend *MemoryBackend
	origin  string
}

var _ TabStore = (*MemoryStore)(nil)

// NewMemoryStore returns a handle on a fresh private backend. Useful when a
// single tab is all a test needs.
func NewMemoryStore() *MemoryStore {
	return NewMemoryBackend().Tab("")
}

func (s *MemoryStore) Origin() string {
	return s.origin
}

// SetLogger sets the logger of the shared backend. Every tab of the backend
// logs through the last logger set.
func (s *MemoryStore) SetLogger(l *log.Logger) {
	s.backend.SetLogger(l)
}

// Backend returns the shared backend behind this handle.
func (s *MemoryStore) Backend() *MemoryBackend {
	return s.backend
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	return s.backend.get(key)
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	return s.backend.set(s.origin, key, value)
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	return s.backend.remove(s.origin, key)
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Event, error) {
	return s.backend.watch(ctx)
}
