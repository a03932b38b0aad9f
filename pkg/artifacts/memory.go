package artifacts

import (
	"context"
	"sync"
	"time"
)

// janitorInterval is how often the memory backend sweeps expired blobs.
const janitorInterval = time.Minute

// MemoryStore keeps artifacts in process memory with lazy plus periodic
// expiry.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	blobs map[string]*Artifact

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory-backed artifact store. A non-positive TTL
// keeps artifacts until Delete or Close.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		blobs:  make(map[string]*Artifact),
		stopCh: make(chan struct{}),
	}
	if ttl > 0 {
		go s.janitor()
	}
	return s
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// Put stores the blob and returns its handle.
func (s *MemoryStore) Put(_ context.Context, contentType string, data []byte) (string, error) {
	art := &Artifact{
		Handle:      NewHandle(),
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		CreatedAt:   s.now(),
	}
	s.mu.Lock()
	s.blobs[art.Handle] = art
	s.mu.Unlock()
	return art.Handle, nil
}

// Get retrieves a blob by handle.
func (s *MemoryStore) Get(_ context.Context, handle string) (*Artifact, error) {
	if !IsHandle(handle) {
		return nil, ErrBadHandle
	}
	s.mu.RLock()
	art, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok || s.expired(art) {
		return nil, ErrNotFound
	}
	out := *art
	out.Data = append([]byte(nil), art.Data...)
	return &out, nil
}

// Delete removes a blob.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor and drops all blobs.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.blobs = make(map[string]*Artifact)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) expired(art *Artifact) bool {
	return s.ttl > 0 && s.now().Sub(art.CreatedAt) > s.ttl
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			for handle, art := range s.blobs {
				if s.expired(art) {
					delete(s.blobs, handle)
				}
			}
			s.mu.Unlock()
		}
	}
}
