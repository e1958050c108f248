// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/reelstream/internal/domain/media"
	"github.com/ManuGH/reelstream/internal/queue"
)

type memStore struct {
	mu      sync.Mutex
	recs    map[int64]media.Record
	writes  int
	listErr error
}

func newMemStore(recs ...media.Record) *memStore {
	s := &memStore{recs: map[int64]media.Record{}}
	for _, r := range recs {
		s.recs[r.MovieID] = r
	}
	return s
}

func (s *memStore) GetMedia(_ context.Context, id int64) (media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return media.Record{}, media.ErrNotFound
	}
	return r, nil
}

func (s *memStore) UpdateMedia(_ context.Context, id int64, fn func(*media.Record) error) (media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.recs[id]
	if !ok {
		return media.Record{}, media.ErrNotFound
	}
	rec := before
	if err := fn(&rec); err != nil {
		return before, err
	}
	if rec == before {
		return before, nil
	}
	s.writes++
	s.recs[id] = rec
	return rec, nil
}

func (s *memStore) ListInFlight(context.Context) ([]media.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []media.Record
	for _, r := range s.recs {
		if r.State.InFlight() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MovieID < out[j].MovieID })
	return out, nil
}

func (s *memStore) get(id int64) media.Record {
	r, _ := s.GetMedia(context.Background(), id)
	return r
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newMemStorage(keys ...string) *memStorage {
	s := &memStorage{objects: map[string][]byte{}}
	for _, k := range keys {
		s.objects[k] = nil
	}
	return s
}

const storageBase = "http://media.test/"

func (s *memStorage) Put(_ context.Context, key string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return storageBase + key, nil
}

func (s *memStorage) Delete(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimPrefix(url, storageBase)
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

func (s *memStorage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storageBase+k)
		}
	}
	sort.Strings(out)
	return out, nil
}

type submitCall struct {
	source, prefix string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []submitCall
	next  func(call submitCall) (media.Submission, error)
}

func (d *fakeDispatcher) Submit(_ context.Context, source, prefix string) (media.Submission, error) {
	d.mu.Lock()
	call := submitCall{source: source, prefix: prefix}
	d.calls = append(d.calls, call)
	next := d.next
	d.mu.Unlock()
	if next == nil {
		return media.Submission{}, errors.New("no dispatcher behavior")
	}
	return next(call)
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func accept(handle, status string) func(submitCall) (media.Submission, error) {
	return func(c submitCall) (media.Submission, error) {
		return media.Submission{
			JobHandle:          handle,
			InitialStatus:      status,
			PredictedOutputURL: storageBase + c.prefix + "index.m3u8",
		}, nil
	}
}

type fakeOracle struct {
	mu       sync.Mutex
	statuses map[string]string
	errs     map[string]error
	panics   map[string]bool
	calls    int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{statuses: map[string]string{}, errs: map[string]error{}, panics: map[string]bool{}}
}

func (o *fakeOracle) set(handle, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[handle] = status
}

func (o *fakeOracle) Status(_ context.Context, handle string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.panics[handle] {
		panic("oracle exploded")
	}
	if err := o.errs[handle]; err != nil {
		return "", err
	}
	s, ok := o.statuses[handle]
	if !ok {
		return "", errors.New("unknown job")
	}
	return s, nil
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

type harness struct {
	store      *memStore
	storage    *memStorage
	dispatcher *fakeDispatcher
	oracle     *fakeOracle
	queue      *queue.Memory
	ctrl       *Controller
}

func newHarness(recs ...media.Record) *harness {
	h := &harness{
		store:      newMemStore(recs...),
		storage:    newMemStorage(),
		dispatcher: &fakeDispatcher{},
		oracle:     newFakeOracle(),
		queue:      queue.NewMemory(8),
	}
	h.ctrl = NewController(Deps{
		Store:       h.store,
		Storage:     h.storage,
		Dispatcher:  h.dispatcher,
		Oracle:      h.oracle,
		Queue:       h.queue,
		CallTimeout: time.Second,
	})
	return h
}
