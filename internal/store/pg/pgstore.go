package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"launchpad.org/internal/staker"
)

// Snapshot kinds.
const (
	KindAsset  = "asset"
	KindStaker = "staker"
	KindSale   = "sale"
	KindRaffle = "raffle"
)

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("pg: no persisted state")

// Entry is one persisted component snapshot.
type Entry struct {
	Name      string
	Kind      string
	Address   string
	State     json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// State is a full platform checkpoint. Stakes feed the stake_accounts
// reporting table.
type State struct {
	Entries []Entry
	Stakes  []staker.Account
}

type Store struct {
	db *sql.DB
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns int
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Save writes every entry and replaces the stake_accounts table in one
// serializable transaction.
func (s *Store) Save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range st.Entries {
		if e.Name == "" || e.Kind == "" {
			return fmt.Errorf("pg: entry requires name and kind")
		}
		if _, err := tx.ExecContext(ctx, `
			insert into platform_snapshots(name, kind, address, state, updated_at)
			values ($1, $2, $3, $4, now())
			on conflict (name) do update
			set kind = excluded.kind,
			    address = excluded.address,
			    state = excluded.state,
			    version = platform_snapshots.version + 1,
			    updated_at = now()
		`, e.Name, e.Kind, e.Address, []byte(e.State)); err != nil {
			return fmt.Errorf("save %s: %w", e.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from stake_accounts`); err != nil {
		return err
	}
	for _, acc := range st.Stakes {
		if acc.Staked == nil || acc.Staked.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into stake_accounts(address, staked, lock_until, updated_at)
			values ($1, $2, $3, now())
		`, acc.Address.Hex(), acc.Staked.Dec(), acc.LockUntil); err != nil {
			return fmt.Errorf("save stake %s: %w", acc.Address.Hex(), err)
		}
	}
	return tx.Commit()
}

// Load returns all persisted entries ordered by name.
func (s *Store) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select name, kind, address, state, version, updated_at
		from platform_snapshots
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.Name, &e.Kind, &e.Address, &raw, &e.Version, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.State = json.RawMessage(raw)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoState
	}
	return out, nil
}

// StakeOf reads the reporting row for one account.
func (s *Store) StakeOf(ctx context.Context, address string) (string, int64, error) {
	var staked string
	var lockUntil int64
	err := s.db.QueryRowContext(ctx, `
		select staked::text, lock_until from stake_accounts where address = $1
	`, address).Scan(&staked, &lockUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return "0", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return staked, lockUntil, nil
}
