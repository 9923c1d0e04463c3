package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
	"github.com/danielpatrickdp/magi/go-controller/internal/fallback"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

// #region helpers
func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewSQLiteStore("")
	if err != nil {
		t.Fatalf("NewSQLiteStore memory: %v", err)
	}
	file, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore file: %v", err)
	}
	t.Cleanup(func() {
		mem.Close()
		file.Close()
	})
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": mem, "sqlite-file": file}
}

func sampleOutputs() battle.Outputs {
	return battle.Outputs{
		generator.Codex: {Model: generator.Codex, Content: "plan", Metadata: battle.Metadata{
			Status: battle.StatusOK, Backend: generator.Claude, TraceID: "t-1",
			Fallback: &fallback.Info{OriginalBackend: generator.Codex, FallbackBackend: generator.Claude, Role: fallback.Execution},
		}},
		generator.Claude: {Model: generator.Claude, Content: "review", Metadata: battle.Metadata{Status: battle.StatusOK}},
		generator.Gemini: {Model: generator.Gemini, Content: "ideas", Metadata: battle.Metadata{Status: battle.StatusSkipped, Reason: "skip_flag"}},
	}
}

// #endregion helpers

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Create(ctx, "proposal_battle")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if st.SessionID == "" || st.Mode != "proposal_battle" {
				t.Fatalf("unexpected state %+v", st)
			}

			got, ok, err := s.Get(ctx, st.SessionID)
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if got.LastOutputs != nil {
				t.Fatalf("expected no outputs yet, got %v", got.LastOutputs)
			}

			if err := s.SaveOutputs(ctx, st.SessionID, sampleOutputs()); err != nil {
				t.Fatalf("SaveOutputs: %v", err)
			}
			got, _, err = s.Get(ctx, st.SessionID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got.LastOutputs) != 3 || got.LastOutputs[generator.Claude].Content != "review" {
				t.Fatalf("unexpected outputs %+v", got.LastOutputs)
			}
			fb := got.LastOutputs[generator.Codex].Metadata.Fallback
			if fb == nil || fb.FallbackBackend != generator.Claude {
				t.Errorf("expected fallback info to survive, got %+v", fb)
			}

			if err := s.Delete(ctx, st.SessionID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, st.SessionID); ok {
				t.Fatal("expected session to be gone")
			}
		})
	}
}

func TestStore_UnknownIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
				t.Fatalf("expected absent without error, got ok=%v err=%v", ok, err)
			}
			if err := s.SaveOutputs(ctx, "nope", sampleOutputs()); err != nil {
				t.Fatalf("SaveOutputs on unknown id must be a no-op, got %v", err)
			}
			if err := s.Delete(ctx, "nope"); err != nil {
				t.Fatalf("Delete on unknown id must be a no-op, got %v", err)
			}
			if _, err := s.Create(ctx, ""); !errors.Is(err, ErrEmptyMode) {
				t.Fatalf("expected ErrEmptyMode, got %v", err)
			}
		})
	}
}

func TestStore_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seen := map[string]bool{}
			for i := 0; i < 20; i++ {
				st, err := s.Create(ctx, "proposal_battle")
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				if seen[st.SessionID] {
					t.Fatalf("duplicate session id %s", st.SessionID)
				}
				seen[st.SessionID] = true
			}
		})
	}
}

func TestMemoryStore_OutputsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	st, _ := s.Create(ctx, "proposal_battle")
	outs := sampleOutputs()
	s.SaveOutputs(ctx, st.SessionID, outs)
	delete(outs, generator.Codex)

	got, _, _ := s.Get(ctx, st.SessionID)
	if len(got.LastOutputs) != 3 {
		t.Fatalf("store must not alias caller maps, got %d outputs", len(got.LastOutputs))
	}
	delete(got.LastOutputs, generator.Claude)
	again, _, _ := s.Get(ctx, st.SessionID)
	if len(again.LastOutputs) != 3 {
		t.Fatalf("Get must return a copy, got %d outputs", len(again.LastOutputs))
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Create(ctx, "proposal_battle")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			s.SaveOutputs(ctx, st.SessionID, sampleOutputs())
			s.Get(ctx, st.SessionID)
		}()
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Fatalf("expected 50 sessions, got %d", s.Len())
	}
}

func TestSQLiteStore_DBHandle(t *testing.T) {
	s, err := NewSQLiteStore("")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	if err := s.DB().Ping(); err != nil {
		t.Fatalf("expected usable DB handle, got %v", err)
	}
}

func TestSQLiteStore_CorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore("")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	for _, column := range []string{"created_at", "updated_at"} {
		st, err := s.Create(ctx, "proposal_battle")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := s.DB().Exec(`UPDATE sessions SET `+column+` = 'yesterday' WHERE session_id = ?`, st.SessionID); err != nil {
			t.Fatalf("corrupt %s: %v", column, err)
		}
		_, ok, err := s.Get(ctx, st.SessionID)
		if err == nil || ok {
			t.Errorf("%s: expected parse error, got ok=%v err=%v", column, ok, err)
		}
	}
}
