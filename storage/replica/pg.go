package replica

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
)

// notifyChannel carries the changed key as the notification payload; the
// value itself is re-read by key on wake, so a lost payload only costs a
// redundant read.
const notifyChannel = "crm_sync_changed"

const syncSchema = `
CREATE TABLE IF NOT EXISTS crm_sync (
	key_name   text PRIMARY KEY,
	data_json  jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);`

// PGRemote is the Postgres-backed Remote: one row per partition in crm_sync,
// NOTIFY on every upsert for the live feed.
type PGRemote struct {
	db       *sqlx.DB
	conninfo string
	logger   core.Logger
}

var _ Remote = (*PGRemote)(nil)

func dsn(conf *core.Config) string {
	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     url.UserPassword(conf.Database.User, conf.Database.Password),
		Host:     conf.Database.Address(),
		Path:     conf.Database.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// OpenPG connects to the sync database, waits for it to be ready and ensures
// the crm_sync table exists.
func OpenPG(conf *core.Config, logger core.Logger) (*PGRemote, error) {
	conninfo := dsn(conf)
	db, err := sqlx.Open("postgres", conninfo)
	if err != nil {
		return nil, errors.Wrap(err, "opening sync database")
	}
	if err = ping(db); err != nil {
		return nil, err
	}
	if _, err = db.Exec(syncSchema); err != nil {
		return nil, errors.Wrap(err, "ensuring crm_sync table")
	}
	return &PGRemote{db: db, conninfo: conninfo, logger: logger}, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}
	if err != nil {
		return errors.Wrap(err, "sync DB ping timeout")
	}
	return nil
}

func (r *PGRemote) Close() error { return r.db.Close() }

func (r *PGRemote) Pull(ctx context.Context) (map[string]json.RawMessage, error) {
	rows := []struct {
		Key   string          `db:"key_name"`
		Value json.RawMessage `db:"data_json"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `SELECT key_name, data_json FROM crm_sync`)
	if err != nil {
		return nil, errors.Wrap(err, "pulling snapshot")
	}

	snapshot := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		snapshot[row.Key] = row.Value
	}
	return snapshot, nil
}

func (r *PGRemote) Upsert(ctx context.Context, key string, value json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crm_sync (key_name, data_json, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key_name) DO UPDATE SET data_json = EXCLUDED.data_json, updated_at = now()`,
		key, []byte(value),
	)
	if err != nil {
		return errors.Wrapf(err, "upserting %s", key)
	}
	if _, err = r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return errors.Wrapf(err, "notifying %s", key)
	}
	return nil
}

// Subscribe listens on the NOTIFY channel and delivers an envelope per
// changed key until ctx is cancelled.
func (r *PGRemote) Subscribe(ctx context.Context, handle func(Envelope)) error {
	listener := pq.NewListener(r.conninfo, time.Second, 30*time.Second, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			r.logger.Warn("sync listener event", err)
		}
	})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(notifyChannel); err != nil {
		return errors.Wrap(err, "listening on sync channel")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			if n == nil { // connection re-established, resync by key on next event
				continue
			}
			env, err := r.fetch(ctx, n.Extra)
			if err != nil {
				r.logger.Warn("fetching synced key "+n.Extra, err)
				continue
			}
			handle(env)
		case <-time.After(90 * time.Second):
			go func() { _ = listener.Ping() }()
		}
	}
}

func (r *PGRemote) fetch(ctx context.Context, key string) (Envelope, error) {
	var value json.RawMessage
	err := r.db.GetContext(ctx, &value, `SELECT data_json FROM crm_sync WHERE key_name = $1`, key)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Key: key, Value: value}, nil
}
