// Package kvstore implements the local persisted store backing every
// collection in the app: named JSON partitions with change notification,
// id generation and a best-effort replication hook.
package kvstore

import (
	"encoding/json"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
)

// SyncKey is the synthetic key broadcast to listeners after a full remote
// pull has overwritten the local partitions.
const SyncKey = "INIT_CLOUD_SYNC"

type (
	// Pusher receives every local write for background replication.
	// Implementations must never block: Set returns as soon as the local
	// write has been persisted and notified.
	Pusher interface {
		Push(key string, value json.RawMessage)
	}

	Store struct {
		mu        sync.RWMutex
		path      string
		data      map[string]json.RawMessage
		listeners map[int]func(key string)
		nextLisID int
		pusher    Pusher
		logger    core.Logger
	}
)

// Open loads the store file at path, creating parent directories as needed.
// A missing file starts an empty store; a corrupt file is logged and
// discarded rather than failing startup.
func Open(path string, logger core.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		data:      make(map[string]json.RawMessage),
		listeners: make(map[int]func(string)),
		logger:    logger,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data dir")
	}

	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading store file")
	}
	if err = json.Unmarshal(raw, &s.data); err != nil {
		logger.Warn("store file corrupt, starting empty", err)
		s.data = make(map[string]json.RawMessage)
	}
	return s, nil
}

// SetPusher attaches the replication hook. Writes before this point stay
// local only (startup ordering: store first, then the replicator).
func (s *Store) SetPusher(p Pusher) {
	s.mu.Lock()
	s.pusher = p
	s.mu.Unlock()
}

// Get decodes the value stored under key into dest, which must be a non-nil
// pointer pre-set to the caller's default. A missing key or an unparseable
// value leaves dest untouched; Get never returns an error.
func (s *Store) Get(key string, dest interface{}) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return
	}

	// decode into a scratch value so a mid-way parse failure can never leave
	// dest torn between default and stored state
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	scratch := reflect.New(rv.Type().Elem())
	if err := json.Unmarshal(raw, scratch.Interface()); err != nil {
		if s.logger != nil {
			s.logger.Debug("unparseable value for "+key+", using default", err)
		}
		return
	}
	rv.Elem().Set(scratch.Elem())
}

// Raw returns the stored bytes for key, if any.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[key]
	return raw, ok
}

// Keys returns all partition names currently held.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Set marshals v, persists it under key, notifies listeners and hands the
// write to the replication hook. The local write is synchronous; replication
// is best-effort and can never fail it.
func (s *Store) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshalling %s", key)
	}

	s.mu.Lock()
	s.data[key] = raw
	err = s.persist()
	pusher := s.pusher
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	if pusher != nil {
		pusher.Push(key, raw)
	}
	return nil
}

// ApplyRemote overwrites key with a replicated value and notifies listeners,
// without echoing the write back to the replication hook.
func (s *Store) ApplyRemote(key string, raw json.RawMessage) error {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)

	s.mu.Lock()
	s.data[key] = cp
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	return nil
}

// NotifySync broadcasts the synthetic bulk-sync key to all listeners.
func (s *Store) NotifySync() { s.notify(SyncKey) }

// OnChange registers a change callback and returns its unsubscribe func.
// Callbacks receive the single partition key that changed (or SyncKey).
func (s *Store) OnChange(fn func(key string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextLisID
	s.nextLisID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// GenerateID returns a collision-resistant opaque id: a random UUID, or a
// random+timestamp base36 composite if the entropy source fails.
func (s *Store) GenerateID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return strconv.FormatInt(rand.Int63(), 36) + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// persist writes the whole store to disk atomically (temp file + rename) so
// a crash can never leave a partially written partition. Callers hold mu.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling store")
	}
	tmp := s.path + ".tmp"
	if err = ioutil.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "writing store file")
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replacing store file")
	}
	return nil
}

// notify snapshots the listeners and invokes them without holding the lock,
// so a callback is free to read the store.
func (s *Store) notify(key string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
