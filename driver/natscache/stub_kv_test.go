package natscache

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

type stubKeyValue struct {
	mu      sync.Mutex
	bucket  string
	rev     uint64
	entries map[string]*stubEntry

	getErr   error
	putErr   error
	purgeErr error
	listErr  error
}

func newStubKeyValue(bucket string) *stubKeyValue {
	return &stubKeyValue{
		bucket:  bucket,
		entries: make(map[string]*stubEntry),
	}
}

func (s *stubKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	cp := *entry
	cp.value = append([]byte(nil), entry.value...)
	return &cp, nil
}

func (s *stubKeyValue) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return 0, s.putErr
	}
	s.rev++
	s.entries[key] = &stubEntry{
		bucket:   s.bucket,
		key:      key,
		value:    append([]byte(nil), value...),
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValuePut,
	}
	return s.rev, nil
}

func (s *stubKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return s.purgeErr
	}
	delete(s.entries, key)
	return nil
}

func (s *stubKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return newStubKeyLister(keys), nil
}

func (s *stubKeyValue) raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (s *stubKeyValue) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type stubEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	delta    uint64
	op       nats.KeyValueOp
}

func (e *stubEntry) Bucket() string             { return e.bucket }
func (e *stubEntry) Key() string                { return e.key }
func (e *stubEntry) Value() []byte              { return e.value }
func (e *stubEntry) Revision() uint64           { return e.revision }
func (e *stubEntry) Created() time.Time         { return e.created }
func (e *stubEntry) Delta() uint64              { return e.delta }
func (e *stubEntry) Operation() nats.KeyValueOp { return e.op }

type stubKeyLister struct {
	keysCh chan string
	errCh  chan error
}

func newStubKeyLister(keys []string) *stubKeyLister {
	keysCh := make(chan string, len(keys))
	errCh := make(chan error)
	for _, key := range keys {
		keysCh <- key
	}
	close(keysCh)
	close(errCh)
	return &stubKeyLister{keysCh: keysCh, errCh: errCh}
}

func (l *stubKeyLister) Keys() <-chan string { return l.keysCh }
func (l *stubKeyLister) Error() <-chan error { return l.errCh }
func (l *stubKeyLister) Stop() error         { return nil }
