// Package replica keeps the local store reconciled with a shared remote
// database: full pull on start, push on every local write, and a live feed
// applying remote writes back into the store. Replication is whole-key
// last-writer-wins; concurrent edits to the same key are not merged.
package replica

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/storage/kvstore"
)

var errEmptyKey = errors.New("envelope has no key")

type (
	// Envelope is a single replicated write: one partition key and its full
	// JSON value. Malformed envelopes are rejected at the boundary.
	Envelope struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}

	// Remote is the cloud side of replication.
	Remote interface {
		// Pull fetches the full remote snapshot.
		Pull(ctx context.Context) (map[string]json.RawMessage, error)
		// Upsert inserts or updates one key remotely.
		Upsert(ctx context.Context, key string, value json.RawMessage) error
		// Subscribe blocks, delivering remote change envelopes to handle
		// until ctx is cancelled.
		Subscribe(ctx context.Context, handle func(Envelope)) error
	}

	Replicator struct {
		store  *kvstore.Store
		remote Remote
		logger core.Logger

		cancel      context.CancelFunc
		wg          sync.WaitGroup
		pushTimeout time.Duration
	}
)

func (e Envelope) Validate() error {
	if e.Key == "" {
		return errEmptyKey
	}
	if len(e.Value) > 0 && !json.Valid(e.Value) {
		return errors.Errorf("envelope %s carries invalid JSON", e.Key)
	}
	return nil
}

var _ kvstore.Pusher = (*Replicator)(nil)

func NewReplicator(store *kvstore.Store, remote Remote, logger core.Logger) *Replicator {
	return &Replicator{
		store:       store,
		remote:      remote,
		logger:      logger,
		pushTimeout: 15 * time.Second,
	}
}

// Start launches the background pull and the live subscription, then attaches
// the push hook. It returns immediately: the app serves from the local copy
// while the snapshot downloads.
func (r *Replicator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pullAll(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.subscribe(ctx)
	}()

	r.store.SetPusher(r)
}

// Stop cancels the background loops and waits for them to drain.
func (r *Replicator) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Push implements kvstore.Pusher: an asynchronous, best-effort remote upsert.
// Failures are logged and never surfaced to the local writer.
func (r *Replicator) Push(key string, value json.RawMessage) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.pushTimeout)
		defer cancel()
		if err := r.remote.Upsert(ctx, key, value); err != nil {
			r.logger.Warn("sync push failed for "+key, err)
		}
	}()
}

// pullAll overwrites every local key found remotely, then broadcasts the
// bulk-sync notification.
func (r *Replicator) pullAll(ctx context.Context) {
	snapshot, err := r.remote.Pull(ctx)
	if err != nil {
		r.logger.Warn("sync pull failed", err)
		return
	}
	if len(snapshot) == 0 {
		return
	}
	for key, value := range snapshot {
		if err = r.store.ApplyRemote(key, value); err != nil {
			r.logger.Error("applying pulled key "+key, err)
		}
	}
	r.store.NotifySync()
}

// subscribe applies live remote change events into the store, reconnecting
// with a small backoff until ctx is cancelled.
func (r *Replicator) subscribe(ctx context.Context) {
	for {
		err := r.remote.Subscribe(ctx, r.applyEnvelope)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("sync subscription dropped, reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *Replicator) applyEnvelope(env Envelope) {
	if err := env.Validate(); err != nil {
		r.logger.Warn("rejecting malformed sync envelope", err)
		return
	}
	if err := r.store.ApplyRemote(env.Key, env.Value); err != nil {
		r.logger.Error("applying synced key "+env.Key, err)
	}
}
