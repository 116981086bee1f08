package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

// PostgresConfig carries the DSN for the Postgres-backed store.
type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true" required:"true"`
}

type checkpointRow struct {
	bun.BaseModel `bun:"table:checkpoints"`

	ThreadID     string    `bun:"thread_id,pk"`
	Namespace    string    `bun:"namespace,pk"`
	CheckpointID string    `bun:"checkpoint_id,pk"`
	Step         int       `bun:"step,notnull"`
	Blob         []byte    `bun:"blob,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type threadRow struct {
	bun.BaseModel `bun:"table:threads"`

	ThreadID  string    `bun:"thread_id,pk"`
	Status    string    `bun:"status,notnull,default:'open'"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

const threadStatusTerminated = "terminated"

// BunStore persists checkpoints in Postgres through bun. The composite
// primary key (thread_id, namespace, checkpoint_id) makes records
// insert-only; the step column carries the total order.
type BunStore struct {
	db *bun.DB
}

// NewPostgresDB opens a bun.DB over the pgdriver connector.
func NewPostgresDB(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

// Init creates the backing tables if they do not exist.
func (s *BunStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*checkpointRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*threadRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create threads table: %w", err)
	}
	return nil
}

func (s *BunStore) Save(ctx context.Context, threadID, namespace string, st *statex.State, step int) (string, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return "", err
	}
	blob, err := EncodeState(st)
	if err != nil {
		return "", err
	}

	row := &checkpointRow{
		ThreadID:     threadID,
		Namespace:    namespace,
		CheckpointID: newCheckpointID(),
		Step:         step,
		Blob:         blob,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	return row.CheckpointID, nil
}

func (s *BunStore) LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}

	row := new(checkpointRow)
	err = s.db.NewSelect().
		Model(row).
		Where("thread_id = ?", threadID).
		Where("namespace = ?", namespace).
		Order("step DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("select latest checkpoint: %w", err)
	}

	st, err := DecodeState(row.Blob)
	if err != nil {
		return nil, 0, err
	}
	return st, row.Step, nil
}

func (s *BunStore) LoadAt(ctx context.Context, threadID, namespace, checkpointID string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}

	row := new(checkpointRow)
	err = s.db.NewSelect().
		Model(row).
		Where("thread_id = ?", threadID).
		Where("namespace = ?", namespace).
		Where("checkpoint_id = ?", checkpointID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("select checkpoint: %w", err)
	}

	st, err := DecodeState(row.Blob)
	if err != nil {
		return nil, 0, err
	}
	return st, row.Step, nil
}

func (s *BunStore) Terminate(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrInvalidThread
	}
	row := &threadRow{
		ThreadID:  threadID,
		Status:    threadStatusTerminated,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (thread_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("terminate thread: %w", err)
	}
	return nil
}

func (s *BunStore) Terminated(ctx context.Context, threadID string) (bool, error) {
	row := new(threadRow)
	err := s.db.NewSelect().
		Model(row).
		Where("thread_id = ?", strings.TrimSpace(threadID)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select thread status: %w", err)
	}
	return row.Status == threadStatusTerminated, nil
}
