package reconcile

import (
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/astromechza/tasklive/pkg/tasks"
)

func task(id int64, title string, completed bool) tasks.Task {
	return tasks.Task{ID: id, Title: title, Completed: completed}
}

func assertTasks(t *testing.T, got, want []tasks.Task) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func assertUnique(t *testing.T, ts []tasks.Task) {
	t.Helper()
	seen := make(map[int64]bool)
	for _, tk := range ts {
		if seen[tk.ID] {
			t.Fatalf("duplicate id %d in %+v", tk.ID, ts)
		}
		seen[tk.ID] = true
	}
}

func TestEndToEndScenario(t *testing.T) {
	var notified [][]tasks.Task
	r := New(func(snapshot []tasks.Task) {
		notified = append(notified, snapshot)
	})

	assertTasks(t, r.Snapshot(), nil)

	r.ReplaceAll([]tasks.Task{task(1, "A", false)})
	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", false)})

	r.Apply(tasks.Updated{Task: task(1, "A", true)})
	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", true)})

	r.Apply(tasks.Deleted{ID: 1})
	assertTasks(t, r.Snapshot(), nil)

	r.Apply(tasks.Deleted{ID: 1})
	assertTasks(t, r.Snapshot(), nil)

	if len(notified) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(notified))
	}
	assertTasks(t, notified[1], []tasks.Task{task(1, "A", true)})
}

func TestApplyIsIdempotent(t *testing.T) {
	for _, ev := range []tasks.ChangeEvent{
		tasks.Created{Task: task(2, "B", false)},
		tasks.Updated{Task: task(2, "B2", true)},
	} {
		once := New(nil)
		once.ReplaceAll([]tasks.Task{task(1, "A", false)})
		once.Apply(ev)

		twice := New(nil)
		twice.ReplaceAll([]tasks.Task{task(1, "A", false)})
		twice.Apply(ev)
		twice.Apply(ev)

		assertTasks(t, twice.Snapshot(), once.Snapshot())
	}
}

func TestCreatedOverwritesExisting(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false), task(2, "B", false)})
	r.Apply(tasks.Created{Task: task(1, "A from event", true)})

	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A from event", true), task(2, "B", false)})
}

func TestUpdateKeepsPosition(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false), task(2, "B", false), task(3, "C", false)})
	r.Apply(tasks.Updated{Task: task(2, "B", true)})

	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "A", false), task(2, "B", true), task(3, "C", false)})
}

func TestUpdateForMissingTaskInserts(t *testing.T) {
	r := New(nil)
	r.Apply(tasks.Updated{Task: task(9, "late", false)})

	got, ok := r.Get(9)
	if !ok {
		t.Fatal("expected task 9 to be present")
	}
	if got.Title != "late" {
		t.Errorf("expected title late, got %q", got.Title)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false)})
	before := r.Snapshot()

	r.Apply(tasks.Deleted{ID: 42})

	assertTasks(t, r.Snapshot(), before)
}

func TestDeleteReindexes(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false), task(2, "B", false), task(3, "C", false)})
	r.Apply(tasks.Deleted{ID: 1})
	r.Apply(tasks.Updated{Task: task(3, "C", true)})

	assertTasks(t, r.Snapshot(), []tasks.Task{task(2, "B", false), task(3, "C", true)})
	if _, ok := r.Get(1); ok {
		t.Error("task 1 should be gone")
	}
}

func TestReplaceAllDuplicatesLastWins(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "first", false), task(2, "B", false), task(1, "second", true)})

	assertTasks(t, r.Snapshot(), []tasks.Task{task(1, "second", true), task(2, "B", false)})
}

func TestUniquenessUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := New(nil)
	for i := 0; i < 2000; i++ {
		id := int64(rng.Intn(20) + 1)
		switch rng.Intn(4) {
		case 0:
			r.Apply(tasks.Created{Task: task(id, "c", false)})
		case 1:
			r.Apply(tasks.Updated{Task: task(id, "u", true)})
		case 2:
			r.Apply(tasks.Deleted{ID: id})
		case 3:
			batch := make([]tasks.Task, rng.Intn(5))
			for j := range batch {
				batch[j] = task(int64(rng.Intn(20)+1), "r", false)
			}
			r.ReplaceAll(batch)
		}
		snap := r.Snapshot()
		assertUnique(t, snap)
		for _, tk := range snap {
			if got, ok := r.Get(tk.ID); !ok || got != tk {
				t.Fatalf("index out of sync for id %d", tk.ID)
			}
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(nil)
	r.ReplaceAll([]tasks.Task{task(1, "A", false)})

	snap := r.Snapshot()
	snap[0].Title = "mutated"

	got, _ := r.Get(1)
	if got.Title != "A" {
		t.Errorf("snapshot mutation leaked into the reconciler: %q", got.Title)
	}
}

func TestSeqAdvancesOnEveryMutation(t *testing.T) {
	r := New(nil)
	start := r.Seq()
	r.Apply(tasks.Deleted{ID: 1})
	r.ReplaceAll(nil)
	if got := r.Seq(); got != start+2 {
		t.Errorf("expected seq %d, got %d", start+2, got)
	}
}

func TestReplaceAllAtRejectsStaleSequence(t *testing.T) {
	r := New(nil)
	seq := r.Seq()
	r.Apply(tasks.Created{Task: task(2, "newer", false)})

	if r.ReplaceAllAt(seq, []tasks.Task{task(1, "stale", false)}) {
		t.Fatal("stale replace should have been rejected")
	}
	assertTasks(t, r.Snapshot(), []tasks.Task{task(2, "newer", false)})

	if !r.ReplaceAllAt(r.Seq(), []tasks.Task{task(1, "fresh", false)}) {
		t.Fatal("current replace should have been applied")
	}
}

func TestCallbackCanReadReconciler(t *testing.T) {
	var r *Reconciler
	var lens []int
	r = New(func(snapshot []tasks.Task) {
		lens = append(lens, r.Len())
		if _, ok := r.Get(1); !ok && len(snapshot) > 0 {
			t.Error("expected task 1 to be readable from the callback")
		}
	})
	r.Apply(tasks.Created{Task: task(1, "A", false)})
	if len(lens) != 1 || lens[0] != 1 {
		t.Errorf("unexpected lengths %v", lens)
	}
}

func TestConcurrentWritersKeepNotificationsOrdered(t *testing.T) {
	var mu sync.Mutex
	var lens []int
	r := New(func(snapshot []tasks.Task) {
		mu.Lock()
		lens = append(lens, len(snapshot))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Apply(tasks.Created{Task: task(int64(w*100+i+1), "x", false)})
			}
		}(w)
	}
	wg.Wait()

	if r.Len() != 200 {
		t.Fatalf("expected 200 tasks, got %d", r.Len())
	}
	for i := 1; i < len(lens); i++ {
		if lens[i] != lens[i-1]+1 {
			t.Fatalf("notifications out of order at %d: %v", i, lens[i-1:i+1])
		}
	}
}
