package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, WithRedisPrefix("test:ckpt:"))
}

func TestRedisStoreSaveAndLoadLatest(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	ctx := context.Background()

	st := testState(t, "t1")
	if _, err := store.Save(ctx, "t1", DefaultNamespace, st, 1); err != nil {
		t.Fatalf("save step 1: %v", err)
	}

	st.Apply(statex.Partial{Messages: []statex.Message{statex.AgentMessage("M365", "user created")}})
	id2, err := store.Save(ctx, "t1", DefaultNamespace, st, 2)
	if err != nil {
		t.Fatalf("save step 2: %v", err)
	}

	got, step, err := store.LoadLatest(ctx, "t1", DefaultNamespace)
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if step != 2 {
		t.Fatalf("step = %d, want 2", step)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(got.Messages))
	}

	at, step, err := store.LoadAt(ctx, "t1", DefaultNamespace, id2)
	if err != nil {
		t.Fatalf("load at: %v", err)
	}
	if step != 2 || at.ThreadID != "t1" {
		t.Fatalf("unexpected record: step=%d thread=%s", step, at.ThreadID)
	}
}

func TestRedisStoreLoadLatestEmpty(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	if _, _, err := store.LoadLatest(context.Background(), "missing", DefaultNamespace); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreLoadAtUnknownID(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	ctx := context.Background()
	if _, err := store.Save(ctx, "t1", DefaultNamespace, testState(t, "t1"), 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := store.LoadAt(ctx, "t1", DefaultNamespace, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreTerminate(t *testing.T) {
	t.Parallel()

	store := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "t1", DefaultNamespace, testState(t, "t1"), 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	done, err := store.Terminated(ctx, "t1")
	if err != nil || done {
		t.Fatalf("fresh thread terminated = %v, %v", done, err)
	}

	if err := store.Terminate(ctx, "t1"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	done, err = store.Terminated(ctx, "t1")
	if err != nil || !done {
		t.Fatalf("terminated = %v, %v", done, err)
	}

	// History survives termination.
	if _, _, err := store.LoadLatest(ctx, "t1", DefaultNamespace); err != nil {
		t.Fatalf("history unreadable after terminate: %v", err)
	}
}
