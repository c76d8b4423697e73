package sqlstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entstore/entstore/entstore"
	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/storage/sqlite"
	"github.com/entstore/entstore/entstore/storage/sqlstore"
	"github.com/entstore/entstore/entstore/wire"
)

func monotonicNow(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newStore(t *testing.T, opts sqlstore.Options) *sqlstore.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	if opts.Now == nil {
		opts.Now = monotonicNow(time.Unix(1700000000, 0)) // deterministic ordering
	}
	st, err := sqlstore.Open(context.Background(), sqlite.New(dbPath), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func intval(n string) wire.Value   { return wire.Value{Integer: &n} }
func strval(s string) wire.Value   { return wire.Value{String: &s} }
func boolval(b bool) wire.Value    { return wire.Value{Boolean: &b} }

func putTask(t *testing.T, st *sqlstore.Store, k *key.Key, priority string, done bool, tag string) {
	t.Helper()
	err := st.Put(context.Background(), &wire.Entity{
		Key: k,
		Properties: map[string]wire.Value{
			"priority": intval(priority),
			"done":     boolval(done),
			"tag":      strval(tag),
		},
	})
	if err != nil {
		t.Fatalf("Put %v: %v", k, err)
	}
}

func names(entities []entstore.Entity) []string {
	var out []string
	for _, e := range entities {
		out = append(out, e.Key.Path[len(e.Key.Path)-1].Name)
	}
	return out
}

func TestPutGetDelete_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	k := key.NameKey("Task", "laundry", nil)
	putTask(t, st, k, "7", false, "chores")

	got, ok, err := st.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected entity to exist")
	}
	if got.Properties["priority"].Integer == nil || *got.Properties["priority"].Integer != "7" {
		t.Fatalf("unexpected priority: %+v", got.Properties["priority"])
	}

	deleted, err := st.Delete(ctx, k)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected deleted=true")
	}
	_, ok, err = st.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected entity to be gone")
	}
}

func TestPutRejectsUnsafeKeys_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	for _, k := range []*key.Key{
		key.IDKey("Task", 0, nil),                 // incomplete
		key.NameKey("Task", "a/b", nil),           // slash in name
		key.NameKey("Task", "it's", nil),          // quote in name
	} {
		err := st.Put(ctx, &wire.Entity{Key: k, Properties: map[string]wire.Value{}})
		if err == nil {
			t.Fatalf("expected Put to reject key %v", k)
		}
	}
}

func TestQueryFiltersAndOrder_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	putTask(t, st, key.NameKey("Task", "a", nil), "1", false, "work")
	putTask(t, st, key.NameKey("Task", "b", nil), "5", false, "chores")
	putTask(t, st, key.NameKey("Task", "c", nil), "9", true, "chores")
	putTask(t, st, key.NameKey("Task", "d", nil), "7", false, "chores")

	db := entstore.NewDatabase(st)

	entities, _, err := db.NewQuery("Task").
		Filter(filter.AndOf(
			filter.Where("done", filter.OpEqual, filter.Boolean(false)),
			filter.Where("priority", filter.OpGreaterThanOrEqual, filter.Integer(5)),
		)).
		OrderDesc("priority").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := names(entities)
	want := []string{"d", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestQueryOrTree_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	putTask(t, st, key.NameKey("Task", "a", nil), "1", true, "work")
	putTask(t, st, key.NameKey("Task", "b", nil), "9", false, "chores")
	putTask(t, st, key.NameKey("Task", "c", nil), "2", false, "work")

	db := entstore.NewDatabase(st)
	entities, _, err := db.NewQuery("Task").
		Filter(filter.OrOf(
			filter.Where("done", filter.OpEqual, filter.Boolean(true)),
			filter.Where("priority", filter.OpGreaterThan, filter.Integer(5)),
		)).
		Order("priority").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := names(entities)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestQueryAncestor_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	chores := key.NameKey("List", "chores", nil)
	putTask(t, st, key.NameKey("Task", "a", chores), "1", false, "chores")
	putTask(t, st, key.NameKey("Task", "b", chores), "2", false, "chores")
	putTask(t, st, key.NameKey("Task", "c", key.NameKey("List", "work", nil)), "3", false, "work")

	db := entstore.NewDatabase(st)
	entities, _, err := db.NewQuery("Task").
		Ancestor(chores).
		Order("priority").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := names(entities)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestPaginationResumesFromCursor_SQLite(t *testing.T) {
	opts := sqlstore.DefaultOptions()
	opts.PageSize = 2 // force multiple pages for the unlimited query
	st := newStore(t, opts)
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c", "d", "e"} {
		putTask(t, st, key.NameKey("Task", n, nil), "1", false, "chores")
	}
	db := entstore.NewDatabase(st)

	// Page one: a bounded query returning AFTER_LIMIT.
	page1, info, err := db.NewQuery("Task").Order("__key__").Limit(2).Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run page 1: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1: got %d entities", len(page1))
	}
	if info.MoreResults != entstore.MoreResultsAfterLimit {
		t.Fatalf("page 1: more=%v", info.MoreResults)
	}

	// Resume from its cursor.
	page2, info2, err := db.NewQuery("Task").Order("__key__").Start(info.EndCursor).Limit(2).
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run page 2: %v", err)
	}
	got := append(names(page1), names(page2)...)
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if info2.MoreResults != entstore.MoreResultsAfterLimit {
		t.Fatalf("page 2: more=%v", info2.MoreResults)
	}

	// An unlimited run returns one store page at a time; the caller
	// loops on the cursor until the store reports exhaustion.
	var all []entstore.Entity
	q := db.NewQuery("Task").Order("__key__")
	for {
		page, info, err := q.Run(ctx, entstore.RunOptions{})
		if err != nil {
			t.Fatalf("Run page: %v", err)
		}
		all = append(all, page...)
		if info.MoreResults != entstore.NotFinished {
			if info.MoreResults != entstore.NoMoreResults {
				t.Fatalf("terminal state: %v", info.MoreResults)
			}
			break
		}
		q = q.Start(info.EndCursor)
	}
	if len(all) != 5 {
		t.Fatalf("got %d entities, want 5", len(all))
	}
}

func TestStreaming_SQLite(t *testing.T) {
	opts := sqlstore.DefaultOptions()
	opts.PageSize = 2
	st := newStore(t, opts)
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c", "d", "e"} {
		putTask(t, st, key.NameKey("Task", n, nil), "1", false, "chores")
	}
	db := entstore.NewDatabase(st)

	s := db.NewQuery("Task").Order("__key__").RunStream(ctx, entstore.RunOptions{})
	var got []string
	for {
		e, err := s.Next()
		if err == entstore.Done {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e.Key.Path[0].Name)
	}
	if len(got) != 5 {
		t.Fatalf("streamed %v", got)
	}
}

func TestEndCursorBoundsResults_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c", "d"} {
		putTask(t, st, key.NameKey("Task", n, nil), "1", false, "chores")
	}
	db := entstore.NewDatabase(st)

	// Take a cursor two results in.
	_, info, err := db.NewQuery("Task").Order("__key__").Limit(2).Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	entities, info2, err := db.NewQuery("Task").Order("__key__").End(info.EndCursor).
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run with end cursor: %v", err)
	}
	got := names(entities)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
	if info2.MoreResults != entstore.MoreResultsAfterCursor {
		t.Fatalf("more=%v, want MoreResultsAfterCursor", info2.MoreResults)
	}
}

func TestShortCursorsExpire_SQLite(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	opts := sqlstore.DefaultOptions()
	opts.CursorMode = sqlstore.CursorShort
	opts.CursorTTL = time.Minute
	opts.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
	st := newStore(t, opts)
	ctx := context.Background()

	putTask(t, st, key.NameKey("Task", "a", nil), "1", false, "chores")
	putTask(t, st, key.NameKey("Task", "b", nil), "1", false, "chores")

	db := entstore.NewDatabase(st)
	_, info, err := db.NewQuery("Task").Order("__key__").Limit(1).Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(info.EndCursor) == 0 || string(info.EndCursor[:2]) != "c:" {
		t.Fatalf("expected short cursor, got %q", info.EndCursor)
	}

	// Within the TTL the cursor resolves.
	if _, _, err := db.NewQuery("Task").Start(info.EndCursor).Run(ctx, entstore.RunOptions{}); err != nil {
		t.Fatalf("resume within TTL: %v", err)
	}

	// Push the clock past the TTL.
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if _, _, err := db.NewQuery("Task").Start(info.EndCursor).Run(ctx, entstore.RunOptions{}); err == nil {
		t.Fatalf("expected expired cursor error")
	}
}

func TestProjectionAndDistinct_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	putTask(t, st, key.NameKey("Task", "a", nil), "1", false, "work")
	putTask(t, st, key.NameKey("Task", "b", nil), "2", false, "chores")
	putTask(t, st, key.NameKey("Task", "c", nil), "3", false, "chores")

	db := entstore.NewDatabase(st)

	entities, _, err := db.NewQuery("Task").Order("__key__").Select("tag").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run projected: %v", err)
	}
	for _, e := range entities {
		if _, ok := e.Properties["priority"]; ok {
			t.Fatalf("projection leaked priority: %v", e.Properties)
		}
		if _, ok := e.Properties["tag"]; !ok {
			t.Fatalf("projection dropped tag: %v", e.Properties)
		}
	}

	entities, _, err = db.NewQuery("Task").Order("__key__").GroupBy("tag").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run distinct: %v", err)
	}
	got := names(entities)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("distinct got %v, want [a b]", got)
	}
}

func TestNamespaceIsolation_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	ka := key.NameKey("Task", "a", nil)
	ka.Namespace = "tenant-a"
	kb := key.NameKey("Task", "b", nil)
	kb.Namespace = "tenant-b"
	putTask(t, st, ka, "1", false, "x")
	putTask(t, st, kb, "1", false, "x")

	db := entstore.NewDatabase(st).WithNamespace("tenant-a")
	entities, _, err := db.NewQuery("Task").Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(entities) != 1 || entities[0].Key.Path[0].Name != "a" {
		t.Fatalf("got %v", names(entities))
	}
}

func TestExplainMetrics_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()
	putTask(t, st, key.NameKey("Task", "a", nil), "1", false, "x")

	db := entstore.NewDatabase(st)
	_, info, err := db.NewQuery("Task").Run(ctx, entstore.RunOptions{
		Explain: &entstore.ExplainOptions{Analyze: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if info.ExplainMetrics == nil || info.ExplainMetrics.PlanSummary == nil {
		t.Fatalf("expected plan summary")
	}
	stats := info.ExplainMetrics.ExecutionStats
	if stats == nil || stats.ResultsReturned != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DebugStats["backend"] != "sqlite" {
		t.Fatalf("unexpected debug stats: %v", stats.DebugStats)
	}
}

func TestAggregations_SQLite(t *testing.T) {
	st := newStore(t, sqlstore.DefaultOptions())
	ctx := context.Background()

	putTask(t, st, key.NameKey("Task", "a", nil), "1", false, "chores")
	putTask(t, st, key.NameKey("Task", "b", nil), "5", false, "chores")
	putTask(t, st, key.NameKey("Task", "c", nil), "9", true, "chores")

	db := entstore.NewDatabase(st)
	res, err := db.NewQuery("Task").
		Filter(filter.Where("done", filter.OpEqual, filter.Boolean(false))).
		NewAggregationQuery().
		WithCount("total").
		WithSum("priority", "prio_sum").
		WithAvg("priority", "prio_avg").
		Run(ctx, entstore.RunOptions{})
	if err != nil {
		t.Fatalf("Run aggregation: %v", err)
	}

	if got := res["total"]; got != filter.IntegerValue(2) {
		t.Fatalf("count: got %v", got)
	}
	if got := res["prio_sum"]; got != filter.IntegerValue(6) {
		t.Fatalf("sum: got %v", got)
	}
	if got := res["prio_avg"]; got != filter.DoubleValue(3) {
		t.Fatalf("avg: got %v", got)
	}
}
