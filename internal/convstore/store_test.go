package convstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatd/pkg/types"
)

func openMemory(t *testing.T) Store {
	t.Helper()
	return NewMemory()
}

func openFile(t *testing.T) Store {
	t.Helper()
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return s
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return s
}

func TestMemoryStore(t *testing.T) { testStore(t, openMemory) }

func TestFileStore(t *testing.T) { testStore(t, openFile) }

func TestSQLiteStore(t *testing.T) { testStore(t, openSQLite) }

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHATD_TEST_REDIS")
	if addr == "" {
		t.Skip("CHATD_TEST_REDIS not set")
	}
	testStore(t, func(t *testing.T) Store {
		t.Helper()
		s, err := NewRedis(addr, "", 0, time.Hour)
		if err != nil {
			t.Fatalf("NewRedis: %v", err)
		}
		return s
	})
}

// testStore exercises the semantics every driver must share.
func testStore(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	s := open(t)
	defer s.Close()

	conv := types.NewConversation(
		types.Message{Role: types.RoleSystem, Content: "You are Ada."},
		types.Message{Role: types.RoleUser, Content: "hello"},
	)
	if err := s.Create(ctx, &conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.Version != 1 {
		t.Fatalf("Version after Create = %d, want 1", conv.Version)
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for an existing conversation")
	}
	if got.Version != 1 {
		t.Fatalf("stored Version = %d, want 1", got.Version)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hello" {
		t.Fatalf("stored messages = %+v", got.Messages)
	}

	missing, err := s.Get(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("Get missing = %+v, want nil", missing)
	}

	conv.Messages = append(conv.Messages, types.Message{Role: types.RoleAssistant, Content: "hi there"})
	if err := s.Update(ctx, &conv); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if conv.Version != 2 {
		t.Fatalf("Version after Update = %d, want 2", conv.Version)
	}

	got, err = s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get after Update: %v", err)
	}
	if got.Version != 2 || len(got.Messages) != 3 {
		t.Fatalf("after Update: version=%d messages=%d, want 2 and 3", got.Version, len(got.Messages))
	}

	stale := got.Clone()
	stale.Version = 1
	if err := s.Update(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale Update err = %v, want ErrVersionConflict", err)
	}

	ghost := types.NewConversation(types.Message{Role: types.RoleUser, Content: "boo"})
	ghost.Version = 1
	if err := s.Update(ctx, &ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing err = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get after Delete: %v", err)
	}
	if got != nil {
		t.Fatalf("Get after Delete = %+v, want nil", got)
	}
	if err := s.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete of missing id: %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	conv := types.NewConversation(types.Message{Role: types.RoleUser, Content: "persist me"})
	if err := s.Create(ctx, &conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	s2, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got == nil || got.Messages[0].Content != "persist me" {
		t.Fatalf("Get after reopen = %+v", got)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conversations.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	conv := types.NewConversation(types.Message{Role: types.RoleUser, Content: "persist me"})
	if err := s.Create(ctx, &conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got == nil || got.Messages[0].Content != "persist me" {
		t.Fatalf("Get after reopen = %+v", got)
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	ctx := context.Background()
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		conv := types.NewConversation()
		conv.ID = id
		if err := s.Create(ctx, &conv); err == nil {
			t.Fatalf("Create with id %q succeeded, want error", id)
		}
		if _, err := s.Get(ctx, id); err == nil {
			t.Fatalf("Get with id %q succeeded, want error", id)
		}
	}
}

func TestOpenFactory(t *testing.T) {
	s, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("default driver = %T, want *Memory", s)
	}
	s.Close()

	s, err = Open(Config{Driver: DriverFile, Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := s.(*File); !ok {
		t.Fatalf("file driver = %T, want *File", s)
	}
	s.Close()

	s, err = Open(Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if _, ok := s.(*SQLite); !ok {
		t.Fatalf("sqlite driver = %T, want *SQLite", s)
	}
	s.Close()

	if _, err := Open(Config{Driver: "bolt"}); !errors.Is(err, ErrInvalidDriver) {
		t.Fatalf("Open unknown driver err = %v, want ErrInvalidDriver", err)
	}
}

func TestLoadOrCreate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	seed := []types.Message{{Role: types.RoleSystem, Content: "You are Ada."}}

	conv, err := LoadOrCreate(ctx, s, "story-1", seed)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if conv.ID != "story-1" {
		t.Fatalf("ID = %q, want story-1", conv.ID)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != types.RoleSystem {
		t.Fatalf("seeded messages = %+v", conv.Messages)
	}

	conv.Messages = append(conv.Messages, types.Message{Role: types.RoleUser, Content: "hi"})
	if err := s.Update(ctx, conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	again, err := LoadOrCreate(ctx, s, "story-1", seed)
	if err != nil {
		t.Fatalf("LoadOrCreate existing: %v", err)
	}
	if len(again.Messages) != 2 {
		t.Fatalf("existing conversation re-seeded: %+v", again.Messages)
	}

	anon, err := LoadOrCreate(ctx, s, "", seed)
	if err != nil {
		t.Fatalf("LoadOrCreate with empty id: %v", err)
	}
	if anon.ID == "" {
		t.Fatal("LoadOrCreate with empty id produced empty ID")
	}
}
