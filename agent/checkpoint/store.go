// Package checkpoint persists conversation state snapshots so a thread can
// be resumed from its last completed graph step after a crash or restart.
// Checkpoints are immutable; resuming writes new ones.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

var (
	ErrNotFound         = errors.New("checkpoint not found")
	ErrInvalidThread    = errors.New("thread id is empty")
	ErrNilState         = errors.New("state is nil")
	ErrBlobVersion      = errors.New("unsupported checkpoint blob version")
	ErrThreadTerminated = errors.New("thread is terminated")
)

// DefaultNamespace partitions checkpoints when one store serves several
// graphs. A single-graph process can use it everywhere.
const DefaultNamespace = "agent"

// Store is the persistence contract used by the graph engine. Writes for
// one thread are serialized by the engine (single writer per thread);
// different threads write concurrently with no coordination.
type Store interface {
	// Save persists a snapshot at the given step counter and returns the
	// new checkpoint id.
	Save(ctx context.Context, threadID, namespace string, st *statex.State, step int) (string, error)

	// LoadLatest returns the snapshot with the highest step counter.
	LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error)

	// LoadAt returns a specific snapshot by checkpoint id.
	LoadAt(ctx context.Context, threadID, namespace, checkpointID string) (*statex.State, int, error)

	// Terminate marks the thread closed without purging its history.
	Terminate(ctx context.Context, threadID string) error

	// Terminated reports whether the thread was closed.
	Terminated(ctx context.Context, threadID string) (bool, error)
}

// Record is the persisted shape of one checkpoint.
type Record struct {
	ThreadID     string    `json:"thread_id"`
	Namespace    string    `json:"namespace"`
	CheckpointID string    `json:"checkpoint_id"`
	Step         int       `json:"step"`
	Blob         []byte    `json:"blob"`
	CreatedAt    time.Time `json:"created_at"`
}

const blobVersion = 1

type blobEnvelope struct {
	Version int           `json:"v"`
	State   *statex.State `json:"state"`
}

// EncodeState serializes a state snapshot into a version-tagged blob.
func EncodeState(st *statex.State) ([]byte, error) {
	if st == nil {
		return nil, ErrNilState
	}
	raw, err := json.Marshal(blobEnvelope{Version: blobVersion, State: st})
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint blob: %w", err)
	}
	return raw, nil
}

// DecodeState parses a blob, rejecting versions this build does not know.
func DecodeState(blob []byte) (*statex.State, error) {
	var env blobEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint blob: %w", err)
	}
	if env.Version != blobVersion {
		return nil, fmt.Errorf("%w: got v%d, want v%d", ErrBlobVersion, env.Version, blobVersion)
	}
	if env.State == nil {
		return nil, ErrNilState
	}
	if err := env.State.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state in checkpoint: %w", err)
	}
	return env.State, nil
}

func newCheckpointID() string {
	return uuid.NewString()
}

func validateKey(threadID, namespace string) (string, string, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "", "", ErrInvalidThread
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return threadID, namespace, nil
}

// MemoryStore keeps checkpoints in process memory. Used in tests and as the
// dev-mode default.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string][]Record
	terminated map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string][]Record),
		terminated: make(map[string]bool),
	}
}

func memKey(threadID, namespace string) string {
	return threadID + "\x00" + namespace
}

func (m *MemoryStore) Save(ctx context.Context, threadID, namespace string, st *statex.State, step int) (string, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return "", err
	}
	blob, err := EncodeState(st)
	if err != nil {
		return "", err
	}

	rec := Record{
		ThreadID:     threadID,
		Namespace:    namespace,
		CheckpointID: newCheckpointID(),
		Step:         step,
		Blob:         blob,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(threadID, namespace)
	m.records[key] = append(m.records[key], rec)
	return rec.CheckpointID, nil
}

func (m *MemoryStore) LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	recs := m.records[memKey(threadID, namespace)]
	m.mu.RUnlock()
	if len(recs) == 0 {
		return nil, 0, ErrNotFound
	}

	latest := recs[0]
	for _, r := range recs[1:] {
		if r.Step > latest.Step {
			latest = r
		}
	}
	st, err := DecodeState(latest.Blob)
	if err != nil {
		return nil, 0, err
	}
	return st, latest.Step, nil
}

func (m *MemoryStore) LoadAt(ctx context.Context, threadID, namespace, checkpointID string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	recs := m.records[memKey(threadID, namespace)]
	m.mu.RUnlock()
	for _, r := range recs {
		if r.CheckpointID == checkpointID {
			st, err := DecodeState(r.Blob)
			if err != nil {
				return nil, 0, err
			}
			return st, r.Step, nil
		}
	}
	return nil, 0, ErrNotFound
}

func (m *MemoryStore) Terminate(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrInvalidThread
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated[threadID] = true
	return nil
}

func (m *MemoryStore) Terminated(ctx context.Context, threadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminated[strings.TrimSpace(threadID)], nil
}

// History returns a thread's records ordered by step. Test helper.
func (m *MemoryStore) History(threadID, namespace string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := append([]Record(nil), m.records[memKey(threadID, namespace)]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Step < recs[j].Step })
	return recs
}
