package run

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/dtnitsch/pdf-batch-parser/internal/logging"
	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/classifier"
	"github.com/dtnitsch/pdf-batch-parser/pkg/completion"
	"github.com/dtnitsch/pdf-batch-parser/pkg/db"
	"github.com/dtnitsch/pdf-batch-parser/pkg/engine"
	"github.com/dtnitsch/pdf-batch-parser/pkg/ledger"
	"github.com/dtnitsch/pdf-batch-parser/pkg/pipeline"
	"github.com/urfave/cli/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0600))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a_2020_x.pdf"))
	touch(t, filepath.Join(root, "B_2021_y.PDF"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "sub", "c_2022_z.pdf"))
	touch(t, filepath.Join(root, "Split_PDFs", "a_2020_x_p1.pdf"))
	touch(t, filepath.Join(root, "sub", "Split_PDFs", "deep.pdf"))

	paths, err := Discover(root, ".pdf", []string{"Split_PDFs"}, logging.Discard())
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "a_2020_x.pdf"),
		filepath.Join(root, "B_2021_y.PDF"),
		filepath.Join(root, "sub", "c_2022_z.pdf"),
	}
	sort.Strings(want)
	assert.Equal(t, want, paths)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), ".pdf", nil, logging.Discard())
	require.Error(t, err)
}

func TestDiscover_UnreadableSubdirIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read every directory")
	}
	root := t.TempDir()
	touch(t, filepath.Join(root, "a_2020_x.pdf"))
	touch(t, filepath.Join(root, "locked", "b_2020_x.pdf"))
	touch(t, filepath.Join(root, "open", "c_2020_x.pdf"))
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0750) })

	paths, err := Discover(root, ".pdf", nil, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a_2020_x.pdf"),
		filepath.Join(root, "open", "c_2020_x.pdf"),
	}, paths)
}

func newPlanFixture(t *testing.T) (*classifier.Classifier, *ledger.Ledger, string) {
	t.Helper()
	out := t.TempDir()
	l, err := ledger.Load(filepath.Join(out, "error_log.json"))
	require.NoError(t, err)
	return classifier.New(classifier.Legacy, out), l, out
}

func TestBuildPlan_SkipsLedgerAndDone(t *testing.T) {
	cls, l, out := newPlanFixture(t)
	in := t.TempDir()

	failed := filepath.Join(in, "Bad_2019_report.pdf")
	done := filepath.Join(in, "Done_2020_report.pdf")
	other := filepath.Join(in, "Other_2020_report.pdf")
	fresh := filepath.Join(in, "Fresh_2021_report.pdf")
	l.Record(failed)

	require.NoError(t, os.MkdirAll(filepath.Join(out, "Done_2020"), 0750))
	require.NoError(t, completion.MarkComplete(filepath.Join(out, "Done_2020"), done, "r1"))
	require.NoError(t, os.MkdirAll(filepath.Join(out, "Other_2020"), 0750))
	require.NoError(t, completion.MarkComplete(filepath.Join(out, "Other_2020"), filepath.Join(in, "Other_2020_older.pdf"), "r1"))

	plan := BuildPlan([]string{failed, done, other, fresh}, cls, l, models.OnDuplicateFail, logging.Discard(), metrics.NewNop())

	assert.Equal(t, 4, plan.Discovered)
	assert.Equal(t, []string{fresh}, plan.Work)
	assert.Equal(t, []string{failed}, plan.SkippedLedger)
	assert.Equal(t, []string{done}, plan.SkippedDone)
	assert.Equal(t, []string{other}, plan.SkippedSource)
	assert.Equal(t, 1, plan.Dispatchable())
}

func TestBuildPlan_PendingFolderIsRedispatched(t *testing.T) {
	cls, l, out := newPlanFixture(t)
	path := filepath.Join(t.TempDir(), "Acme_2020_report.pdf")
	folder := filepath.Join(out, "Acme_2020")
	require.NoError(t, os.MkdirAll(folder, 0750))
	require.NoError(t, completion.MarkPending(folder, path, "r1"))

	plan := BuildPlan([]string{path}, cls, l, models.OnDuplicateFail, logging.Discard(), metrics.NewNop())
	assert.Equal(t, []string{path}, plan.Work)
}

func TestBuildPlan_DuplicateIdentity(t *testing.T) {
	in := t.TempDir()
	a := filepath.Join(in, "Acme_2020_a.pdf")
	b := filepath.Join(in, "Acme_2020_b.pdf")
	c := filepath.Join(in, "Acme_2020_c.pdf")
	z := filepath.Join(in, "Zeta_2020_a.pdf")
	paths := []string{a, b, c, z}

	t.Run("fail", func(t *testing.T) {
		cls, l, _ := newPlanFixture(t)
		plan := BuildPlan(paths, cls, l, models.OnDuplicateFail, logging.Discard(), metrics.NewNop())

		assert.Equal(t, []string{a, z}, plan.Work)
		assert.Empty(t, plan.Overwrites)
		require.Len(t, plan.Duplicates, 2)
		for _, o := range plan.Duplicates {
			assert.Equal(t, models.StatusFailed, o.Status)
			assert.Equal(t, models.ErrorTypeDuplicate, o.ErrorType)
			assert.Zero(t, o.Attempts)
			assert.Contains(t, o.Error, a)
		}
		assert.Equal(t, 4, plan.Dispatchable())
	})

	t.Run("overwrite", func(t *testing.T) {
		cls, l, _ := newPlanFixture(t)
		plan := BuildPlan(paths, cls, l, models.OnDuplicateOverwrite, logging.Discard(), metrics.NewNop())

		assert.Equal(t, []string{a, z}, plan.Work)
		assert.Equal(t, [][]string{{b}, {c}}, plan.Overwrites)
		assert.Empty(t, plan.Duplicates)
		assert.Equal(t, [][]string{{a, z}, {b}, {c}}, plan.Generations())
	})
}

func TestMakeBatches(t *testing.T) {
	paths := make([]string, 25)
	for i := range paths {
		paths[i] = filepath.Join("in", string(rune('a'+i))+".pdf")
	}

	batches := MakeBatches(paths, 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Paths, 10)
	assert.Len(t, batches[1].Paths, 10)
	assert.Len(t, batches[2].Paths, 5)
	assert.Equal(t, 3, batches[2].ID)

	var joined []string
	for _, b := range batches {
		joined = append(joined, b.Paths...)
	}
	assert.Equal(t, paths, joined)

	assert.Empty(t, MakeBatches(nil, 10))
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (f *fakeProcessor) ProcessWithRetry(_ context.Context, path string) models.Outcome {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[path]++
	f.mu.Unlock()

	if f.fail[path] {
		return models.Outcome{Path: path, Status: models.StatusFailed, Error: "engine returned 500", ErrorType: models.ErrorTypeEngine, Attempts: 3}
	}
	return models.Outcome{Path: path, Status: models.StatusSuccess, Attempts: 1}
}

func TestDispatcher_EveryPathExactlyOnce(t *testing.T) {
	paths := make([]string, 23)
	for i := range paths {
		paths[i] = filepath.Join("in", string(rune('a'+i))+"_2020_x.pdf")
	}
	proc := &fakeProcessor{fail: map[string]bool{paths[4]: true, paths[17]: true}}

	d := NewDispatcher(proc, 4, 5, logging.Discard(), nil)
	outcomes := d.Run(context.Background(), paths)

	require.Len(t, outcomes, len(paths))
	got := make([]string, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		got = append(got, o.Path)
		assert.Regexp(t, `^local-\d$`, o.Worker)
		if o.Failed() {
			failed++
		}
	}
	sort.Strings(got)
	assert.Equal(t, paths, got)
	assert.Equal(t, 2, failed)
	for _, p := range paths {
		assert.Equal(t, 1, proc.calls[p], p)
	}
}

func TestDispatcher_CancelledBeforeStart(t *testing.T) {
	paths := []string{"a.pdf", "b.pdf", "c.pdf"}
	proc := &fakeProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := NewDispatcher(proc, 2, 2, logging.Discard(), nil).Run(ctx, paths)

	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, models.ErrorTypeCancelled, o.ErrorType)
		assert.Zero(t, o.Attempts)
	}
	assert.Empty(t, proc.calls)
}

func newTestSession(t *testing.T, out string) *Session {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.OutputDir = out
	s, err := OpenSession(cfg, uuid.NewString(), models.DispatchLocal, logging.Discard(), metrics.NewNop())
	require.NoError(t, err)
	return s
}

func TestSession_LedgerOnlyTakesFileFailures(t *testing.T) {
	out := t.TempDir()
	s := newTestSession(t, out)

	outcomes := []models.Outcome{
		{Path: "/in/ok.pdf", Status: models.StatusSuccess, Attempts: 1},
		{Path: "/in/bad.pdf", Status: models.StatusFailed, ErrorType: models.ErrorTypeEngine, Error: "engine returned 500", Attempts: 3},
		{Path: "/in/dup.pdf", Status: models.StatusFailed, ErrorType: models.ErrorTypeDuplicate, Error: "duplicate identity"},
		{Path: "/in/stopped.pdf", Status: models.StatusFailed, ErrorType: models.ErrorTypeCancelled, Error: "context canceled"},
	}
	require.NoError(t, s.Absorb(outcomes))
	assert.Equal(t, []string{"/in/bad.pdf"}, s.Ledger().Entries())

	rep, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, []string{"/in/ok.pdf"}, rep.Successful)
	assert.Equal(t, []string{"/in/bad.pdf", "/in/dup.pdf"}, rep.FailedPaths())
	assert.Equal(t, 1, rep.ExitCode())

	data, err := os.ReadFile(filepath.Join(out, "summary_report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total files processed: 3\n")

	persisted, err := ledger.Load(filepath.Join(out, "error_log.json"))
	require.NoError(t, err)
	assert.True(t, persisted.Contains("/in/bad.pdf"))
	assert.False(t, persisted.Contains("/in/dup.pdf"))
}

func TestSession_LedgerStaysSingleAcrossRuns(t *testing.T) {
	out := t.TempDir()
	failure := models.Outcome{Path: "/in/bad.pdf", Status: models.StatusFailed, ErrorType: models.ErrorTypeIO, Error: "permission denied", Attempts: 3}

	for i := 0; i < 2; i++ {
		s := newTestSession(t, out)
		require.NoError(t, s.Absorb([]models.Outcome{failure}))
		_, err := s.Close()
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(out, "error_log.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `["/in/bad.pdf"]`, string(data))
}

func TestSession_RecordsHistory(t *testing.T) {
	out := t.TempDir()
	s := newTestSession(t, out)
	require.NoError(t, s.SetPlan(&Plan{Discovered: 3, Work: []string{"/in/a.pdf"}, SkippedDone: []string{"/in/b.pdf"}, SkippedLedger: []string{"/in/c.pdf"}}))
	require.NoError(t, s.Absorb([]models.Outcome{{Path: "/in/a.pdf", Status: models.StatusSuccess, Attempts: 1}}))
	_, err := s.Close()
	require.NoError(t, err)

	history, err := db.Open(filepath.Join(out, db.DefaultDBName))
	require.NoError(t, err)
	defer history.Close()

	run, err := history.GetRun(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Discovered)
	assert.Equal(t, 1, run.SuccessCount)
	assert.Equal(t, 1, run.SkippedDone)
	assert.Equal(t, 1, run.SkippedLedger)
	assert.True(t, run.FinishedAt.Valid)

	files, err := history.GetRunFiles(s.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/in/a.pdf", files[0].Path)
}

func TestLocalExecutor_RunsGenerationsInOrder(t *testing.T) {
	out := t.TempDir()
	s := newTestSession(t, out)
	proc := &orderedProcessor{}
	e := &LocalExecutor{dispatcher: NewDispatcher(proc, 2, 1, logging.Discard(), nil), logger: logging.Discard()}

	plan := &Plan{Work: []string{"a.pdf", "z.pdf"}, Overwrites: [][]string{{"b.pdf"}, {"c.pdf"}}}
	require.NoError(t, e.Execute(context.Background(), s, plan))

	require.Len(t, proc.order, 4)
	assert.ElementsMatch(t, []string{"a.pdf", "z.pdf"}, proc.order[:2])
	assert.Equal(t, []string{"b.pdf", "c.pdf"}, proc.order[2:])
	assert.Len(t, s.Outcomes(), 4)
	_, err := s.Close()
	require.NoError(t, err)
}

type orderedProcessor struct {
	mu    sync.Mutex
	order []string
}

func (o *orderedProcessor) ProcessWithRetry(_ context.Context, path string) models.Outcome {
	o.mu.Lock()
	o.order = append(o.order, path)
	o.mu.Unlock()
	return models.Outcome{Path: path, Status: models.StatusSuccess, Attempts: 1}
}

func TestSession_CorruptLedgerIsFatal(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "error_log.json"), []byte("{not json"), 0600))

	cfg := models.DefaultConfig()
	cfg.OutputDir = out
	_, err := OpenSession(cfg, "r", models.DispatchLocal, logging.Discard(), metrics.NewNop())
	require.ErrorContains(t, err, "failed to parse error ledger")
}

type countingEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEngine) Partition(_ context.Context, _ string, _ engine.Options) ([]models.Element, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	pg := 1
	return []models.Element{
		{Type: models.CategoryTitle, ElementID: "t", Text: "Report", Metadata: models.ElementMetadata{PageNumber: &pg}},
	}, nil
}

func newRunFixture(t *testing.T) (*models.Config, *countingEngine, ExecutorFactory) {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(in, "Acme_2021_report.pdf"))
	touch(t, filepath.Join(in, "Beta_2022_report.pdf"))
	touch(t, filepath.Join(in, "sub", "Gamma_2023_report.pdf"))

	cfg := models.DefaultConfig()
	cfg.InputDir = in
	cfg.OutputDir = out
	cfg.Preflight = false
	require.NoError(t, cfg.Validate())

	eng := &countingEngine{}
	factory := func(_ *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, _ metrics.Collector) (Executor, error) {
		cls, err := NewClassifier(cfg)
		if err != nil {
			return nil, err
		}
		p := pipeline.New(cls, eng, pipeline.Options{MaxAttempts: 1, RunID: runID}, logger)
		return &LocalExecutor{dispatcher: NewDispatcher(p, 2, 2, logger, nil), logger: logger}, nil
	}
	return cfg, eng, factory
}

func outputFolders(t *testing.T, out string) []string {
	t.Helper()
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "logs" {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestRunOnce_SecondRunOverUnchangedTreeIsNoOp(t *testing.T) {
	cfg, eng, factory := newRunFixture(t)
	ctx := context.Background()

	first, err := runOnce(ctx, nil, cfg, uuid.NewString(), logging.Discard(), metrics.NewNop(), factory)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Total())
	assert.Len(t, first.Successful, 3)
	assert.Equal(t, 3, eng.calls)
	folders := outputFolders(t, cfg.OutputDir)
	assert.ElementsMatch(t, []string{"Acme_2021", "Beta_2022", "Gamma_2023"}, folders)

	secondID := uuid.NewString()
	second, err := runOnce(ctx, nil, cfg, secondID, logging.Discard(), metrics.NewNop(), factory)
	require.NoError(t, err)
	assert.Zero(t, second.Total())
	assert.Equal(t, 0, second.ExitCode())
	assert.Equal(t, 3, eng.calls, "engine called again on the second run")
	assert.Equal(t, folders, outputFolders(t, cfg.OutputDir))

	data, err := os.ReadFile(cfg.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total files processed: 0\n")

	history, err := db.Open(cfg.HistoryPath())
	require.NoError(t, err)
	defer history.Close()
	run, err := history.GetRun(secondID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Discovered)
	assert.Equal(t, 3, run.SkippedDone)
	assert.Zero(t, run.Dispatched)
}

func TestRunOnce_DiscoveryFailureLeavesNoTrace(t *testing.T) {
	cfg, _, factory := newRunFixture(t)
	cfg.InputDir = filepath.Join(t.TempDir(), "gone")

	_, err := runOnce(context.Background(), nil, cfg, uuid.NewString(), logging.Discard(), metrics.NewNop(), factory)
	require.Error(t, err)

	_, statErr := os.Stat(cfg.ReportPath())
	assert.True(t, os.IsNotExist(statErr), "summary written for a run that never started")
	_, statErr = os.Stat(cfg.HistoryPath())
	assert.True(t, os.IsNotExist(statErr), "history row written for a run that never started")
}
