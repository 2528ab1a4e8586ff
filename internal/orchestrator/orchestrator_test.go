package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/browser/browsertest"
	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/journal"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

var header = []string{"CCCD", "MST", "Tên", "Trạng thái"}

type mockLooker struct {
	mock.Mock
}

func (m *mockLooker) Lookup(ctx context.Context, drv browser.Driver, id string) model.Outcome {
	args := m.Called(ctx, drv, id)
	return args.Get(0).(model.Outcome)
}

// memStore keeps the batch in memory and a copy of every save.
type memStore struct {
	batch   *checkpoint.Batch
	loadErr error
	saveErr error
	saves   [][][]string
}

func newMemStore(rows ...[]string) *memStore {
	return &memStore{batch: checkpoint.NewBatch(header, rows)}
}

func (s *memStore) Load() (*checkpoint.Batch, checkpoint.Source, error) {
	if s.loadErr != nil {
		return nil, "", s.loadErr
	}
	return s.batch, checkpoint.SourceCheckpoint, nil
}

func (s *memStore) Save(b *checkpoint.Batch) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	snap := make([][]string, len(b.Rows))
	for i, row := range b.Rows {
		snap[i] = append([]string(nil), row...)
	}
	s.saves = append(s.saves, snap)
	return nil
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

type progress struct{ seen, total int }

type harness struct {
	looker   *mockLooker
	store    *memStore
	launcher *browsertest.Launcher
	sleeps   *sleepRecorder
	progress []progress
	logs     []string
	cfg      Config
	journal  journal.Store
}

func newHarness(rows ...[]string) *harness {
	return &harness{
		looker:   &mockLooker{},
		store:    newMemStore(rows...),
		launcher: &browsertest.Launcher{},
		sleeps:   &sleepRecorder{},
		cfg: Config{
			PerRecordDelay: 2 * time.Second,
			StartAttempts:  3,
			StartBackoff:   time.Millisecond,
		},
	}
}

func (h *harness) run(ctx context.Context) (*model.RunSummary, error) {
	o := New(h.cfg, Deps{
		Launcher:   h.launcher,
		Looker:     h.looker,
		Store:      h.store,
		Journal:    h.journal,
		OnLog:      func(msg string) { h.logs = append(h.logs, msg) },
		OnProgress: func(seen, total int) { h.progress = append(h.progress, progress{seen, total}) },
		Sleep:      h.sleeps.sleep,
	})
	return o.Run(ctx)
}

func (h *harness) expect(id string, outs ...model.Outcome) {
	for _, out := range outs {
		h.looker.On("Lookup", mock.Anything, mock.Anything, id).Return(out).Once()
	}
}

func TestRun_ScenarioA_Success(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""})
	h.expect("001", model.Succeeded("0101234567", "Nguyen Van A"))

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertExpectations(t)
	assert.Equal(t, []string{"001", "0101234567", "Nguyen Van A", "Success"}, h.store.batch.Rows[0])
	require.Len(t, h.store.saves, 1)
	assert.Equal(t, h.store.batch.Rows, h.store.saves[0])
	assert.Equal(t, []progress{{1, 1}}, h.progress)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeps.calls)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, map[model.Status]int{model.StatusSuccess: 1}, summary.Counts)
}

func TestRun_ScenarioB_SuccessIsSkipped(t *testing.T) {
	h := newHarness([]string{"002", "X", "", "Success"})

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{"002", "X", "", "Success"}, h.store.batch.Rows[0])
	assert.Empty(t, h.store.saves)
	assert.Empty(t, h.sleeps.calls)
	assert.Equal(t, []progress{{1, 1}}, h.progress)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_ScenarioC_SessionRetryOnce(t *testing.T) {
	h := newHarness([]string{"003", "", "", "TimeoutError"})
	h.expect("003",
		model.Failed(model.StatusTimeoutError, "no heading"),
		model.Failed(model.StatusTimeoutError, "no heading"),
	)

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertExpectations(t)
	h.looker.AssertNumberOfCalls(t, "Lookup", 2)
	assert.Equal(t, "TimeoutError", h.store.batch.Rows[0][3])
	assert.Equal(t, 2, h.launcher.Count(), "one fresh session for the retry")
	assert.True(t, h.launcher.Launched[0].Closed)
	assert.True(t, h.launcher.Launched[1].Closed)
	assert.Equal(t, 1, summary.Retries)
	assert.Len(t, h.store.saves, 1)
}

func TestRun_ScenarioD_EmptyIDSkipped(t *testing.T) {
	h := newHarness(
		[]string{"", "", "", ""},
		[]string{"004", "", "", ""},
	)
	h.expect("004", model.Failed(model.StatusNotFoundListing, ""))

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertExpectations(t)
	h.looker.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, "")
	assert.Equal(t, []progress{{1, 2}, {2, 2}}, h.progress)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Seen)
}

func TestRun_RetryRecoversOnFreshSession(t *testing.T) {
	h := newHarness([]string{"005", "", "", ""})
	h.expect("005",
		model.Failed(model.StatusObstacleTimeout, "overlay"),
		model.Succeeded("0309876543", "Le Thi C"),
	)

	_, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertExpectations(t)
	assert.Equal(t, []string{"005", "0309876543", "Le Thi C", "Success"}, h.store.batch.Rows[0])
	assert.Equal(t, 2, h.launcher.Count())
}

func TestRun_ReprocessesEveryEligibleStatus(t *testing.T) {
	h := newHarness(
		[]string{"a", "1", "", "Success"},
		[]string{"b", "", "", "NotFoundListing"},
		[]string{"c", "", "", "NotFoundDetail"},
		[]string{"d", "", "", "không tìm thấy thông tin chi tiết"},
		[]string{"e", "", "", "chưa xử lý"},
		[]string{"f", "", "", "weird legacy text"},
		[]string{"g", "", "", "lỗi tương tác search"},
	)
	for _, id := range []string{"b", "c", "d", "e", "f"} {
		h.expect(id, model.Failed(model.StatusNotFoundDetail, ""))
	}
	h.expect("g", model.Succeeded("1", "G"))

	summary, err := h.run(context.Background())
	require.NoError(t, err)

	h.looker.AssertExpectations(t)
	h.looker.AssertNumberOfCalls(t, "Lookup", 6)
	h.looker.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, "a")
	assert.Equal(t, []string{"a", "1", "", "Success"}, h.store.batch.Rows[0])
	assert.Equal(t, 1, h.launcher.Count(), "not-found outcomes never restart the session")
	assert.Equal(t, 6, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_CheckpointDurability(t *testing.T) {
	rows := [][]string{
		{"001", "", "", ""},
		{"002", "", "", "lỗi hệ thống"},
		{"003", "", "", ""},
	}
	h := newHarness(rows...)
	h.expect("001", model.Succeeded("111", "A"))
	h.expect("002", model.Failed(model.StatusNotFoundListing, ""))
	h.expect("003", model.Succeeded("333", "C"))

	_, err := h.run(context.Background())
	require.NoError(t, err)

	want := [][]string{
		{"001", "111", "A", "Success"},
		{"002", "", "", "NotFoundListing"},
		{"003", "333", "C", "Success"},
	}
	require.Len(t, h.store.saves, 3)
	for k, saved := range h.store.saves {
		for i := range saved {
			if i <= k {
				assert.Equal(t, want[i], saved[i], "save %d row %d updated", k, i)
			} else {
				assert.Equal(t, rows[i], saved[i], "save %d row %d untouched", k, i)
			}
		}
	}
}

func TestRun_RestTrigger(t *testing.T) {
	var rows [][]string
	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		rows = append(rows, []string{id, "", "", ""})
	}
	h := newHarness(rows...)
	h.cfg.BatchSize = 2
	h.cfg.PerRecordDelay = time.Second
	h.cfg.Rest = time.Minute
	for _, id := range ids {
		h.expect(id, model.Failed(model.StatusNotFoundDetail, ""))
	}

	_, err := h.run(context.Background())
	require.NoError(t, err)

	s, m := time.Second, time.Minute
	assert.Equal(t, []time.Duration{s, s, m, s, s, m, s}, h.sleeps.calls)
}

func TestRun_RestCountsProcessedNotSeen(t *testing.T) {
	h := newHarness(
		[]string{"1", "", "", ""},
		[]string{"2", "x", "", "Success"},
		[]string{"", "", "", ""},
		[]string{"3", "", "", ""},
	)
	h.cfg.BatchSize = 2
	h.cfg.PerRecordDelay = time.Second
	h.cfg.Rest = time.Minute
	h.expect("1", model.Failed(model.StatusNotFoundDetail, ""))
	h.expect("3", model.Failed(model.StatusNotFoundDetail, ""))

	_, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Minute}, h.sleeps.calls)
}

func TestRun_NoSessionIsFatal(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""})
	boom := errors.New("chrome not found")
	h.launcher.Errs = []error{boom, boom, boom}

	summary, err := h.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	require.NotNil(t, summary)
	assert.NotEmpty(t, summary.Error)
	h.looker.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.store.saves)
}

func TestRun_SessionStartRetried(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""})
	h.launcher.Errs = []error{errors.New("devtools not ready")}
	h.expect("001", model.Succeeded("1", "A"))

	_, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.launcher.Count())
	require.Len(t, h.sleeps.calls, 2, "one start backoff, one per-record delay")
	assert.Equal(t, 2*time.Second, h.sleeps.calls[1])
}

func TestRun_PermanentStartErrorNotRetried(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""})
	h.launcher.Errs = []error{resilience.Permanent(errors.New("playwright driver missing")), nil}

	_, err := h.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "playwright driver missing")
	assert.Zero(t, h.launcher.Count())
	assert.Len(t, h.launcher.Errs, 1, "second launch never attempted")
	assert.Empty(t, h.sleeps.calls)
}

func TestRun_RestartFailureIsFatal(t *testing.T) {
	h := newHarness([]string{"001", "", "", "NotFoundDetail"})
	boom := errors.New("chrome crashed")
	h.launcher.Errs = []error{nil, boom, boom, boom}
	h.expect("001", model.Failed(model.StatusSystemError, "tab crashed"))

	_, err := h.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	h.looker.AssertNumberOfCalls(t, "Lookup", 1)
	assert.Empty(t, h.store.saves)
	assert.Equal(t, "NotFoundDetail", h.store.batch.Rows[0][3], "record keeps its previous status")
	assert.True(t, h.launcher.Launched[0].Closed)
}

func TestRun_LoadFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.store.loadErr = errors.New("no such file")

	summary, err := h.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Zero(t, h.launcher.Count())
}

func TestRun_SaveFailureIsFatal(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""}, []string{"002", "", "", ""})
	h.store.saveErr = errors.New("disk full")
	h.expect("001", model.Succeeded("1", "A"))

	_, err := h.run(context.Background())
	require.Error(t, err)
	h.looker.AssertNumberOfCalls(t, "Lookup", 1)
	assert.True(t, h.launcher.Launched[0].Closed)
}

func TestRun_CancelDiscardsInFlightRecord(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""}, []string{"002", "", "", ""})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.expect("001", model.Succeeded("1", "A"))
	h.looker.On("Lookup", mock.Anything, mock.Anything, "002").
		Run(func(mock.Arguments) { cancel() }).
		Return(model.Failed(model.StatusSystemError, "context canceled")).
		Once()

	summary, err := h.run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.store.saves, 1)
	assert.Equal(t, []string{"002", "", "", ""}, h.store.batch.Rows[1])
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, h.launcher.Count(), "no session restart after cancellation")
}

func TestRun_LogsTransitions(t *testing.T) {
	h := newHarness([]string{"001", "", "", ""})
	h.expect("001", model.Succeeded("1", "A"))

	_, err := h.run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, h.logs)
	assert.Contains(t, h.logs[0], "loaded 1 records")
	assert.Contains(t, h.logs[len(h.logs)-1], "done: 1 processed")
}

func TestRun_Journal(t *testing.T) {
	st, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := newHarness(
		[]string{"001", "", "", ""},
		[]string{"003", "", "", ""},
	)
	h.cfg.Input = "data/data.xlsx"
	h.cfg.Checkpoint = "result/result.xlsx"
	h.journal = st
	h.expect("001", model.Succeeded("1", "A"))
	h.expect("003",
		model.Failed(model.StatusInteractionError, "submit"),
		model.Failed(model.StatusInteractionError, "submit"),
	)

	_, err = h.run(context.Background())
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.LookupRunComplete, runs[0].Status)
	assert.Equal(t, "data/data.xlsx", runs[0].Input)
	require.NotNil(t, runs[0].Summary)
	assert.Equal(t, 1, runs[0].Summary.Retries)

	attempts, err := st.ListAttempts(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	var second int
	for _, a := range attempts {
		if a.SubjectID == "003" && a.Number == 2 {
			second++
		}
	}
	assert.Equal(t, 1, second)
}

func TestRun_WithFileCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.Store{
		InputPath:      filepath.Join(dir, "data.csv"),
		CheckpointPath: filepath.Join(dir, "result.csv"),
	}
	b := checkpoint.NewBatch([]string{"cccd", "mst", "trang thai"}, [][]string{
		{"001", "", ""},
		{"002", "0309876543", "thành công"},
	})
	require.NoError(t, checkpoint.Save(b, store.InputPath))

	looker := &mockLooker{}
	looker.On("Lookup", mock.Anything, mock.Anything, "001").Return(model.Succeeded("0101234567", "Nguyen Van A")).Once()

	o := New(Config{}, Deps{
		Launcher: &browsertest.Launcher{},
		Looker:   looker,
		Store:    store,
		Sleep:    (&sleepRecorder{}).sleep,
	})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	saved, err := checkpoint.ReadFile(store.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, model.Record{Index: 0, ID: "001", TaxID: "0101234567", Name: "Nguyen Van A", Status: model.StatusSuccess}, saved.Record(0))
	assert.Equal(t, "thành công", saved.Rows[1][saved.Column(checkpoint.FieldStatus)], "skipped rows keep their text")
	looker.AssertExpectations(t)
}
