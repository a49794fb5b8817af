package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/medrax/backend/internal/model/history"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, store history.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAssignsIDAndGetRoundTrips", func(t *testing.T) {
		rec := &history.Record{ImageBase64: "aW1n", Caption: "a chest x-ray", Report: "Impression: normal"}
		id, err := store.Create(ctx, rec)
		if err != nil {
			t.Fatalf("Create err: %v", err)
		}
		if id.IsZero() {
			t.Fatal("expected non-zero id")
		}
		if rec.ID != id {
			t.Fatalf("record id not set: got %s want %s", rec.ID, id)
		}

		parsed, err := history.ParseID(id.String())
		if err != nil {
			t.Fatalf("ParseID err: %v", err)
		}
		got, err := store.Get(ctx, parsed)
		if err != nil {
			t.Fatalf("Get err: %v", err)
		}
		if got.ID.String() != id.String() {
			t.Fatalf("id round trip mismatch: %s vs %s", got.ID, id)
		}
		if got.Report != rec.Report || got.Caption != rec.Caption || got.ImageBase64 != rec.ImageBase64 {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.QAHistory == nil || len(got.QAHistory) != 0 {
			t.Fatalf("expected empty qa history, got %v", got.QAHistory)
		}
		if got.CreatedAt.IsZero() {
			t.Fatal("expected created_at to be set")
		}
	})

	t.Run("GetUnknownReturnsNotFound", func(t *testing.T) {
		if _, err := store.Get(ctx, history.NewID()); !errors.Is(err, history.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AppendQAKeepsArrivalOrder", func(t *testing.T) {
		rec := &history.Record{Report: "Impression: clear lungs"}
		id, err := store.Create(ctx, rec)
		if err != nil {
			t.Fatalf("Create err: %v", err)
		}

		questions := []string{"Is there pneumonia?", "Is the heart enlarged?", "Any effusion?"}
		for _, q := range questions {
			if err := store.AppendQA(ctx, id, history.QAEntry{Question: q, Answer: "no"}); err != nil {
				t.Fatalf("AppendQA err: %v", err)
			}
		}

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get err: %v", err)
		}
		if len(got.QAHistory) != len(questions) {
			t.Fatalf("expected %d entries, got %d", len(questions), len(got.QAHistory))
		}
		for i, q := range questions {
			if got.QAHistory[i].Question != q {
				t.Fatalf("entry %d: got %q want %q", i, got.QAHistory[i].Question, q)
			}
			if got.QAHistory[i].Time.IsZero() {
				t.Fatalf("entry %d missing time", i)
			}
		}
		if got.Report != rec.Report {
			t.Fatal("report changed by append")
		}
	})

	t.Run("AppendQAUnknownReturnsNotFound", func(t *testing.T) {
		err := store.AppendQA(ctx, history.NewID(), history.QAEntry{Question: "q", Answer: "a"})
		if !errors.Is(err, history.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentAppendsAreAllKept", func(t *testing.T) {
		id, err := store.Create(ctx, &history.Record{Report: "r"})
		if err != nil {
			t.Fatalf("Create err: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := store.AppendQA(ctx, id, history.QAEntry{Question: "q", Answer: "a"}); err != nil {
					t.Errorf("AppendQA err: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get err: %v", err)
		}
		if len(got.QAHistory) != 10 {
			t.Fatalf("expected 10 entries, got %d", len(got.QAHistory))
		}
	})
}

func exerciseListOrder(t *testing.T, store history.Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	older := &history.Record{Report: "older", CreatedAt: base}
	newer := &history.Record{Report: "newer", CreatedAt: base.Add(time.Minute)}
	middle := &history.Record{Report: "middle", CreatedAt: base.Add(30 * time.Second)}

	for _, rec := range []*history.Record{older, newer, middle} {
		if _, err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create err: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}

	want := []string{"newer", "middle", "older"}
	for i, report := range want {
		if list[i].Report != report {
			t.Fatalf("position %d: got %q want %q", i, list[i].Report, report)
		}
	}
	if list[0].ID != newer.ID {
		t.Fatalf("expected newest id %s first, got %s", newer.ID, list[0].ID)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, history.NewMemoryStore())
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	exerciseListOrder(t, history.NewMemoryStore())
}

func TestMemoryStoreListEmpty(t *testing.T) {
	list, err := history.NewMemoryStore().List(context.Background())
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", list)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &history.Record{Report: "r"})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	got, _ := store.Get(ctx, id)
	got.QAHistory = append(got.QAHistory, history.QAEntry{Question: "injected"})
	got.Report = "mutated"

	again, _ := store.Get(ctx, id)
	if again.Report != "r" || len(again.QAHistory) != 0 {
		t.Fatalf("store leaked internal state: %+v", again)
	}
}
