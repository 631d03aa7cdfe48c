package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleKeys = []string{"sampleTime", "DATE", "TIME", "STATUS"}

func sampleRecord(table string, at time.Time, status string, staleness time.Duration) *Record {
	return &Record{
		Table:     table,
		Keys:      sampleKeys,
		Values:    []any{FormatSampleTime(at), at.Format("2006-01-02"), at.Format("15:04:05"), status},
		Staleness: staleness,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func readAll(t *testing.T, ds *Datastore, table string, keys ...string) *Table {
	t.Helper()
	tbl, err := ReadTable(context.Background(), ds, table, keys)
	require.NoError(t, err)
	return tbl
}

func TestWriteBatch_CreateThenReuse(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "host.db"))
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

	w := &Writer{Now: fixedClock(t0)}
	res, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("host_a", t0, "ok", time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Create, res.Decisions["host_a"].Action)

	w.Now = fixedClock(t0.Add(10 * time.Minute))
	res, err = w.WriteBatch(ctx, ds, []*Record{sampleRecord("host_a", t0.Add(10*time.Minute), "closed", time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Reuse, res.Decisions["host_a"].Action)
	assert.NoError(t, res.Err())

	tbl := readAll(t, ds, "host_a")
	assert.Equal(t, sampleKeys, tbl.Columns)
	assert.Equal(t, []string{"ok", "closed"}, tbl.Column("STATUS"))
}

func TestWriteBatch_StaleTableIsRecreated(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "job.db"))
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

	w := &Writer{Now: fixedClock(t0)}
	_, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("job_1", t0, "RUN", time.Hour)})
	require.NoError(t, err)

	later := t0.Add(2 * time.Hour)
	w.Now = fixedClock(later)
	res, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("job_1", later, "DONE", time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Recreate, res.Decisions["job_1"].Action)

	tbl := readAll(t, ds, "job_1")
	assert.Equal(t, []string{"DONE"}, tbl.Column("STATUS"), "eviction drops every earlier row")
}

func TestWriteBatch_EvictionBoundary(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

	tests := []struct {
		name      string
		elapsed   time.Duration
		staleness time.Duration
		want      Action
	}{
		{name: "exactly at threshold", elapsed: time.Hour, staleness: time.Hour, want: Reuse},
		{name: "one second past threshold", elapsed: time.Hour + time.Second, staleness: time.Hour, want: Recreate},
		{name: "disabled by zero", elapsed: 1000 * time.Hour, staleness: 0, want: Reuse},
		{name: "disabled by negative", elapsed: 1000 * time.Hour, staleness: -time.Second, want: Reuse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := openWrite(t, filepath.Join(t.TempDir(), "queue.db"))
			w := &Writer{Now: fixedClock(t0)}
			_, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("queue_q", t0, "Open", tt.staleness)})
			require.NoError(t, err)

			next := t0.Add(tt.elapsed)
			w.Now = fixedClock(next)
			res, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("queue_q", next, "Open", tt.staleness)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Decisions["queue_q"].Action)
		})
	}
}

func TestWriteBatch_ColumnChangeRecreates(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "load.db"))
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)
	w := &Writer{Now: fixedClock(t0)}

	_, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("load_n1", t0, "ok", 0)})
	require.NoError(t, err)

	wider := &Record{
		Table:  "load_n1",
		Keys:   []string{"sampleTime", "DATE", "TIME", "STATUS", "r15s"},
		Values: []any{FormatSampleTime(t0.Add(time.Minute)), "2024-03-01", "08:01:00", "ok", "0.5"},
	}
	res, err := w.WriteBatch(ctx, ds, []*Record{wider})
	require.NoError(t, err)
	assert.Equal(t, Recreate, res.Decisions["load_n1"].Action)

	tbl := readAll(t, ds, "load_n1")
	assert.Equal(t, wider.Keys, tbl.Columns)
	assert.Equal(t, 1, tbl.Len())
}

func TestWriteBatch_UnparsableAnchorIsStale(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "user.db"))
	w := &Writer{Now: fixedClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local))}

	broken := &Record{Table: "user_alice", Keys: []string{"sampleTime", "NJOBS"}, Values: []any{"garbage", "1"}, Staleness: time.Hour}
	_, err := w.WriteBatch(ctx, ds, []*Record{broken})
	require.NoError(t, err)

	next := &Record{Table: "user_alice", Keys: []string{"sampleTime", "NJOBS"}, Values: []any{"20240301_080000", "2"}, Staleness: time.Hour}
	res, err := w.WriteBatch(ctx, ds, []*Record{next})
	require.NoError(t, err)
	assert.Equal(t, Recreate, res.Decisions["user_alice"].Action)
}

func TestShouldEvict_EmptyTable(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "job.db"))
	rec := sampleRecord("job_9", time.Now(), "PEND", time.Second)
	require.NoError(t, CreateTable(ctx, ds.DB(ctx), rec))

	evict, err := ShouldEvict(ctx, ds.DB(ctx), "job_9", "sampleTime", time.Second, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, evict)
}

func TestWriteBatch_IsolatesFailingEntities(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "queue.db"))
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)
	w := &Writer{Now: fixedClock(t0)}

	records := []*Record{
		sampleRecord("queue_a", t0, "Open", 0),
		{Table: `queue_b"; DROP TABLE queue_a; --`, Keys: sampleKeys, Values: []any{"x", "x", "x", "x"}},
		{Table: "queue_c", Keys: sampleKeys, Values: []any{"only one"}},
		sampleRecord("queue_a", t0, "duplicate anchor", 0),
		sampleRecord("queue_d", t0, "Open", 0),
	}

	res, err := w.WriteBatch(ctx, ds, records)
	require.NoError(t, err)

	assert.Equal(t, []string{"queue_a", "queue_d"}, res.Written)
	require.Len(t, res.Failed, 3)
	assert.ErrorIs(t, res.Failed[`queue_b"; DROP TABLE queue_a; --`], ErrInvalidIdentifier)
	assert.ErrorIs(t, res.Failed["queue_c"], ErrValueCount)
	assert.Error(t, res.Err())

	tables, err := Tables(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"queue_a", "queue_d"}, tables)
	assert.Equal(t, []string{"Open"}, readAll(t, ds, "queue_a").Column("STATUS"))
}

func TestWriteBatch_CancelledBatchLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.db")
	ds := openWrite(t, path)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &Writer{
		Now: fixedClock(t0),
		OnStaged: func(context.Context, string, Decision) {
			cancel()
		},
	}
	_, err := w.WriteBatch(ctx, ds, []*Record{
		sampleRecord("host_a", t0, "ok", 0),
		sampleRecord("host_b", t0, "ok", 0),
	})
	require.Error(t, err)

	tables, err := Tables(context.Background(), ds)
	require.NoError(t, err)
	assert.Empty(t, tables, "a rolled back pass is invisible")
}

func TestWriteBatch_ValuesAreBoundNotInterpolated(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "job.db"))
	command := `sh -c 'echo "done"; exit 0' ?`

	rec := &Record{Table: "job_7", Keys: []string{"sampleTime", "Command"}, Values: []any{"20240301_080000", command}}
	require.NoError(t, (&Writer{Now: time.Now}).Write(ctx, ds, rec.Table, rec.Keys, rec.Values, 0))

	assert.Equal(t, []string{command}, readAll(t, ds, "job_7").Column("Command"))
}

func TestWriteBatch_AutoKey(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "alice.db"))
	w := NewWriter()

	for _, job := range []string{"101", "102", "101"} {
		rec := &Record{Table: "user_alice", Keys: []string{"SAMPLE_TIME", "JOB"}, Values: []any{"20240301_080000", job}, AutoKey: true}
		res, err := w.WriteBatch(ctx, ds, []*Record{rec})
		require.NoError(t, err)
		require.NoError(t, res.Err())
	}

	tbl := readAll(t, ds, "user_alice")
	assert.Equal(t, []string{"ID", "SAMPLE_TIME", "JOB"}, tbl.Columns)
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Column("ID"))
	assert.Equal(t, []string{"101", "102", "101"}, tbl.Column("JOB"))

	reserved := &Record{Table: "user_alice", Keys: []string{"ID", "JOB"}, Values: []any{"1", "2"}, AutoKey: true}
	assert.ErrorIs(t, reserved.Validate(), ErrInvalidIdentifier)
}

func TestReadTable(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "host.db"))
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)
	w := &Writer{Now: fixedClock(t0)}
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		_, err := w.WriteBatch(ctx, ds, []*Record{sampleRecord("host_n1", at, "ok", 0)})
		require.NoError(t, err)
	}

	tbl := readAll(t, ds, "host_n1", "status", "sampleTime", "STATUS")
	assert.Equal(t, []string{"STATUS", "sampleTime"}, tbl.Columns)
	assert.Equal(t, []string{"20240301_080000", "20240301_080100", "20240301_080200"}, tbl.Column("sampleTime"))

	_, err := ReadTable(ctx, ds, "host_n1", []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = ReadTable(ctx, ds, "host_missing", nil)
	assert.ErrorIs(t, err, ErrTableMissing)
}

func TestWrite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "resource.db"))

	keys := []string{"sampleTime", "cpu", "memory"}
	require.NoError(t, NewWriter().Write(ctx, ds, "job_1", keys, []any{"20240101_000000", "1.2", "3.4"}, 0))

	tbl := readAll(t, ds, "job_1", "cpu", "memory")
	assert.Equal(t, []string{"cpu", "memory"}, tbl.Columns)
	assert.Equal(t, map[string][]string{"cpu": {"1.2"}, "memory": {"3.4"}}, tbl.Values)
}

func TestCreateTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "queue.db"))
	rec := &Record{Table: "queue_normal", Keys: []string{"sampleTime", "NJOBS", "PEND"}, Values: []any{"", "", ""}}

	require.NoError(t, CreateTable(ctx, ds.DB(ctx), rec))
	first, err := TableColumns(ctx, ds.DB(ctx), rec.Table)
	require.NoError(t, err)

	require.NoError(t, CreateTable(ctx, ds.DB(ctx), rec))
	second, err := TableColumns(ctx, ds.DB(ctx), rec.Table)
	require.NoError(t, err)

	assert.Equal(t, rec.Keys, first)
	assert.Equal(t, first, second)
}

func TestWrite_QuotedValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	ds := openWrite(t, filepath.Join(t.TempDir(), "user.db"))

	keys := []string{"sampleTime", "FULL_NAME"}
	require.NoError(t, NewWriter().Write(ctx, ds, "user_obrien", keys, []any{"20240101_000000", "O'Brien"}, 0))

	assert.Equal(t, []string{"O'Brien"}, readAll(t, ds, "user_obrien").Column("FULL_NAME"))
}
