package simulation_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/queue"
	"github.com/seantiz/ensemble/internal/realization"
	"github.com/seantiz/ensemble/internal/runpath"
	"github.com/seantiz/ensemble/internal/simulation"
	"github.com/seantiz/ensemble/internal/submit"
)

// stubQueue is a hand-driven queue.Queue. Jobs stay waiting until a test
// moves them with setStatus.
type stubQueue struct {
	mu        sync.Mutex
	statuses  []queue.Status
	specs     []queue.JobSpec
	submitErr error
	gate      chan struct{}
	// bothOutcomes makes the queue claim every job both succeeded and failed.
	bothOutcomes bool
}

var _ queue.Queue = (*stubQueue)(nil)

func (q *stubQueue) Start(int, bool) error { return nil }

func (q *stubQueue) Submit(ctx context.Context, spec queue.JobSpec) (queue.Handle, error) {
	if q.gate != nil {
		select {
		case <-q.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if q.submitErr != nil {
		return 0, q.submitErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses = append(q.statuses, queue.StatusWaiting)
	q.specs = append(q.specs, spec)
	return queue.Handle(len(q.statuses) - 1), nil
}

func (q *stubQueue) setStatus(h queue.Handle, s queue.Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[h] = s
}

func (q *stubQueue) spec(iens int) (queue.JobSpec, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.specs {
		if s.Iens == iens {
			return s, true
		}
	}
	return queue.JobSpec{}, false
}

func (q *stubQueue) count(s queue.Status) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, st := range q.statuses {
		if st == s {
			n++
		}
	}
	return n
}

func (q *stubQueue) IsRunning() bool { return q.NumWaiting()+q.NumRunning() > 0 }
func (q *stubQueue) NumRunning() int { return q.count(queue.StatusRunning) }
func (q *stubQueue) NumSuccess() int { return q.count(queue.StatusSuccess) }
func (q *stubQueue) NumFailed() int { return q.count(queue.StatusFailed) }
func (q *stubQueue) NumWaiting() int { return q.count(queue.StatusWaiting) + q.NumPending() }
func (q *stubQueue) NumPending() int { return q.count(queue.StatusPending) }

func (q *stubQueue) JobStatus(h queue.Handle) (queue.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if int(h) < 0 || int(h) >= len(q.statuses) {
		return 0, false
	}
	return q.statuses[h], true
}

func (q *stubQueue) DidJobSucceed(h queue.Handle) bool {
	s, _ := q.JobStatus(h)
	return q.bothOutcomes || s == queue.StatusSuccess
}

func (q *stubQueue) DidJobFail(h queue.Handle) bool {
	s, _ := q.JobStatus(h)
	return q.bothOutcomes || s == queue.StatusFailed
}

func (q *stubQueue) IsJobComplete(h queue.Handle) bool {
	s, ok := q.JobStatus(h)
	return ok && s.Terminal()
}

// recordingReporter captures reported errors.
type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ int, err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// memJournal is an in-memory simulation.Journal. The first failCreates
// inserts fail.
type memJournal struct {
	mu          sync.Mutex
	states      map[int]string
	syncs       int
	creates     int
	failCreates int
}

func (j *memJournal) CreateRealization(_ context.Context, r *model.Realization) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creates++
	if j.failCreates > 0 {
		j.failCreates--
		return errors.New("database is locked")
	}
	if j.states == nil {
		j.states = make(map[int]string)
	}
	j.states[r.Iens] = r.State
	return nil
}

func (j *memJournal) SyncRealization(_ context.Context, r *model.Realization) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.states[r.Iens] = r.State
	j.syncs++
	return nil
}

func (j *memJournal) state(iens int) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.states[iens]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestContext(t *testing.T, q queue.Queue, size int, opts ...simulation.Option) *simulation.Context {
	t.Helper()
	pool := submit.NewPool(submit.Config{Workers: 2, QueueSize: size}, testLogger())
	pool.Start(context.Background())

	cfg := simulation.Config{
		RunID:         "run-test",
		EnsembleSize:  size,
		RunPathFormat: "realization-%d/iter-%d",
		JobName:       "poly",
		Command:       []string{"./poly_eval", "--member", "<IENS>"},
	}
	opts = append([]simulation.Option{
		simulation.WithMaker(runpath.DirMaker{Root: t.TempDir()}),
		simulation.WithLogger(testLogger()),
	}, opts...)

	c, err := simulation.New(cfg, q, pool, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Wait)
	return c
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

func TestNewValidation(t *testing.T) {
	pool := submit.NewPool(submit.Config{}, testLogger())
	q := &stubQueue{}

	tests := []struct {
		name string
		cfg  simulation.Config
		q    queue.Queue
		pool *submit.Pool
	}{
		{"zero size", simulation.Config{RunPathFormat: "r%d"}, q, pool},
		{"no run path", simulation.Config{EnsembleSize: 2}, q, pool},
		{"no queue", simulation.Config{EnsembleSize: 2, RunPathFormat: "r%d"}, nil, pool},
		{"no pool", simulation.Config{EnsembleSize: 2, RunPathFormat: "r%d"}, q, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := simulation.New(tt.cfg, tt.q, tt.pool); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAddSimulationRangeAndDuplicates(t *testing.T) {
	q := &stubQueue{}
	c := newTestContext(t, q, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.AddSimulation(ctx, i, fmt.Sprintf("case_%d", i)); err != nil {
			t.Fatalf("AddSimulation(%d): %v", i, err)
		}
	}

	if err := c.AddSimulation(ctx, 3, "case_3"); !errors.Is(err, realization.ErrOutOfRange) {
		t.Errorf("AddSimulation(3) error = %v, want ErrOutOfRange", err)
	}
	if err := c.AddSimulation(ctx, -1, "case_-1"); !errors.Is(err, realization.ErrOutOfRange) {
		t.Errorf("AddSimulation(-1) error = %v, want ErrOutOfRange", err)
	}
	if err := c.AddSimulation(ctx, 1, "case_1"); !errors.Is(err, realization.ErrDuplicate) {
		t.Errorf("re-adding 1 error = %v, want ErrDuplicate", err)
	}

	for i := 0; i < 3; i++ {
		if c.IsRealizationFinished(i) {
			t.Errorf("IsRealizationFinished(%d) = true before the queue reported anything", i)
		}
	}
	if got := len(c.Realizations()); got != 3 {
		t.Errorf("len(Realizations) = %d, want 3", got)
	}
}

func TestOutOfRangeLeavesRegistryUnchanged(t *testing.T) {
	root := t.TempDir()
	c := newTestContext(t, &stubQueue{}, 2, simulation.WithMaker(runpath.DirMaker{Root: root}))

	for _, iens := range []int{2, 5, 100} {
		if err := c.AddSimulation(context.Background(), iens, ""); !errors.Is(err, realization.ErrOutOfRange) {
			t.Errorf("AddSimulation(%d) error = %v, want ErrOutOfRange", iens, err)
		}
		if c.IsRealizationQueued(iens) {
			t.Errorf("IsRealizationQueued(%d) = true", iens)
		}
	}
	if got := len(c.Realizations()); got != 0 {
		t.Errorf("len(Realizations) = %d, want 0", got)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("run directories created for rejected realizations: %v", entries)
	}
}

func TestQueuedImmediatelyBeforeSubmission(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	q := &stubQueue{gate: gate}
	c := newTestContext(t, q, 2)

	if c.IsRealizationQueued(0) {
		t.Fatal("IsRealizationQueued(0) = true before AddSimulation")
	}
	if err := c.AddSimulation(context.Background(), 0, "case_0"); err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	if !c.IsRealizationQueued(0) {
		t.Error("IsRealizationQueued(0) = false right after AddSimulation")
	}
	if c.IsRealizationFinished(0) {
		t.Error("IsRealizationFinished(0) = true while unsubmitted")
	}
	if _, err := c.DidRealizationSucceed(0); !errors.Is(err, simulation.ErrNotSubmitted) {
		t.Errorf("DidRealizationSucceed error = %v, want ErrNotSubmitted", err)
	}
	if _, err := c.DidRealizationFail(0); !errors.Is(err, simulation.ErrNotSubmitted) {
		t.Errorf("DidRealizationFail error = %v, want ErrNotSubmitted", err)
	}

	v, err := c.Realization(0)
	if err != nil {
		t.Fatalf("Realization: %v", err)
	}
	if v.State != model.StateQueued || v.Submitted {
		t.Errorf("view = %+v, want queued and unsubmitted", v)
	}
}

func TestFailedSubmissionStaysUnsubmitted(t *testing.T) {
	q := &stubQueue{submitErr: errors.New("backend unavailable")}
	c := newTestContext(t, q, 2)

	if err := c.AddSimulation(context.Background(), 0, "case_0"); err != nil {
		t.Fatalf("AddSimulation returned the asynchronous failure: %v", err)
	}
	c.Wait()

	for i := 0; i < 3; i++ {
		if c.IsRealizationFinished(0) {
			t.Fatal("IsRealizationFinished(0) = true for a failed submission")
		}
		time.Sleep(5 * time.Millisecond)
	}

	v, err := c.Realization(0)
	if err != nil {
		t.Fatalf("Realization: %v", err)
	}
	if v.Submitted {
		t.Error("Submitted = true after failed submission")
	}
	if v.State != model.StateStuck || v.Error != "backend unavailable" {
		t.Errorf("view = %+v, want stuck with the backend error", v)
	}
	if got := c.StuckRealizations(time.Hour); !slices.Equal(got, []int{0}) {
		t.Errorf("StuckRealizations = %v, want [0]", got)
	}
	if _, err := c.DidRealizationFail(0); !errors.Is(err, simulation.ErrNotSubmitted) {
		t.Errorf("DidRealizationFail error = %v, want ErrNotSubmitted", err)
	}
}

func TestQueriesOnMissingRealization(t *testing.T) {
	c := newTestContext(t, &stubQueue{}, 2)

	if c.IsRealizationQueued(1) || c.IsRealizationFinished(1) {
		t.Error("missing realization reported as queued or finished")
	}
	if _, err := c.DidRealizationSucceed(1); !errors.Is(err, simulation.ErrNotQueued) {
		t.Errorf("DidRealizationSucceed error = %v, want ErrNotQueued", err)
	}
	if _, err := c.DidRealizationFail(7); !errors.Is(err, simulation.ErrNotQueued) {
		t.Errorf("DidRealizationFail error = %v, want ErrNotQueued", err)
	}
	if _, err := c.Realization(-3); !errors.Is(err, simulation.ErrNotQueued) {
		t.Errorf("Realization error = %v, want ErrNotQueued", err)
	}
}

func TestOutcomesFollowQueue(t *testing.T) {
	q := &stubQueue{}
	c := newTestContext(t, q, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.AddSimulation(ctx, i, ""); err != nil {
			t.Fatalf("AddSimulation(%d): %v", i, err)
		}
	}
	c.Wait()

	h0, h1 := handleOf(t, c, 0), handleOf(t, c, 1)
	q.setStatus(h0, queue.StatusRunning)
	if v, _ := c.Realization(0); v.State != model.StateRunning {
		t.Errorf("state = %q, want running", v.State)
	}

	q.setStatus(h0, queue.StatusSuccess)
	q.setStatus(h1, queue.StatusFailed)

	if ok, err := c.DidRealizationSucceed(0); err != nil || !ok {
		t.Errorf("DidRealizationSucceed(0) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := c.DidRealizationFail(0); err != nil || ok {
		t.Errorf("DidRealizationFail(0) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := c.DidRealizationFail(1); err != nil || !ok {
		t.Errorf("DidRealizationFail(1) = %v, %v; want true, nil", ok, err)
	}
	if !c.IsRealizationFinished(0) || !c.IsRealizationFinished(1) {
		t.Error("both realizations should be finished")
	}
	if c.NumSuccess() != 1 || c.NumFailed() != 1 || c.NumRunning() != 0 || c.NumWaiting() != 0 {
		t.Errorf("counts = %d/%d/%d/%d", c.NumSuccess(), c.NumFailed(), c.NumRunning(), c.NumWaiting())
	}
	if c.IsRunning() {
		t.Error("IsRunning = true with every job terminal")
	}
}

func handleOf(t *testing.T, c *simulation.Context, iens int) queue.Handle {
	t.Helper()
	v, err := c.Realization(iens)
	if err != nil {
		t.Fatalf("Realization(%d): %v", iens, err)
	}
	if v.QueueHandle == nil {
		t.Fatalf("realization %d has no handle", iens)
	}
	return queue.Handle(*v.QueueHandle)
}

func TestMalformedBackendResponse(t *testing.T) {
	q := &stubQueue{bothOutcomes: true}
	rep := &recordingReporter{}
	c := newTestContext(t, q, 1, simulation.WithReporter(rep))

	if err := c.AddSimulation(context.Background(), 0, ""); err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	c.Wait()

	if _, err := c.DidRealizationSucceed(0); !errors.Is(err, simulation.ErrMalformedBackendResponse) {
		t.Errorf("DidRealizationSucceed error = %v, want ErrMalformedBackendResponse", err)
	}
	if _, err := c.DidRealizationFail(0); !errors.Is(err, simulation.ErrMalformedBackendResponse) {
		t.Errorf("DidRealizationFail error = %v, want ErrMalformedBackendResponse", err)
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.errs) != 2 {
		t.Errorf("reported %d errors, want 2", len(rep.errs))
	}
}

func TestRunPathAndJobSpec(t *testing.T) {
	root := t.TempDir()
	q := &stubQueue{}
	pool := submit.NewPool(submit.Config{Workers: 1}, testLogger())
	pool.Start(context.Background())

	cfg := simulation.Config{
		EnsembleSize:  4,
		RunPathFormat: "<CASE>/realization-%d/iter-%d",
		Iteration:     2,
		JobName:       "poly",
		Command:       []string{"./poly_eval", "--seed", "<SEED>", "--tag", "<TAG>"},
		Env:           map[string]string{"MEMBER": "<IENS>", "FIXED": "yes"},
	}
	kw := runpath.StaticKeywords{3: {"CASE": "default", "SEED": "99", "TAG": "<SEED>"}}
	c, err := simulation.New(cfg, q, pool,
		simulation.WithKeywords(kw),
		simulation.WithMaker(runpath.DirMaker{Root: root}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.AddSimulation(context.Background(), 3, "case_3"); err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	c.Wait()

	wantPath := filepath.Join(root, "default/realization-3/iter-2")
	if info, err := os.Stat(wantPath); err != nil || !info.IsDir() {
		t.Fatalf("run path %s not created: %v", wantPath, err)
	}

	spec, ok := q.spec(3)
	if !ok {
		t.Fatal("realization 3 never reached the queue")
	}
	if spec.RunPath != wantPath || spec.Target != "case_3" || spec.Name != "poly-3" {
		t.Errorf("spec = %+v", spec)
	}
	if !slices.Equal(spec.Command, []string{"./poly_eval", "--seed", "99", "--tag", "<SEED>"}) {
		t.Errorf("Command = %v", spec.Command)
	}
	if spec.Env["MEMBER"] != "3" || spec.Env["FIXED"] != "yes" {
		t.Errorf("Env = %v", spec.Env)
	}
	if cfg.Env["MEMBER"] != "<IENS>" {
		t.Error("shared env template was modified")
	}
}

type failingMaker struct{}

func (failingMaker) Make(string) error { return errors.New("read-only file system") }

func TestPathCreationFailure(t *testing.T) {
	c := newTestContext(t, &stubQueue{}, 2, simulation.WithMaker(failingMaker{}))

	if err := c.AddSimulation(context.Background(), 0, ""); err == nil {
		t.Fatal("expected path creation error")
	}
	if c.IsRealizationQueued(0) {
		t.Error("record inserted despite path creation failure")
	}
}

func TestStuckAfterTimeout(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newTestContext(t, &stubQueue{gate: gate}, 2, simulation.WithClock(clock))

	if err := c.AddSimulation(context.Background(), 1, ""); err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	if got := c.StuckRealizations(time.Minute); len(got) != 0 {
		t.Errorf("StuckRealizations = %v right after adding", got)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if got := c.StuckRealizations(time.Minute); !slices.Equal(got, []int{1}) {
		t.Errorf("StuckRealizations = %v, want [1]", got)
	}
}

func TestAddAfterWait(t *testing.T) {
	c := newTestContext(t, &stubQueue{}, 2)
	c.Wait()

	err := c.AddSimulation(context.Background(), 0, "")
	if !errors.Is(err, submit.ErrPoolClosed) {
		t.Fatalf("AddSimulation after Wait error = %v, want ErrPoolClosed", err)
	}
	v, _ := c.Realization(0)
	if v.State != model.StateStuck {
		t.Errorf("state = %q, want stuck", v.State)
	}
}

func TestReconcileJournalsStateChanges(t *testing.T) {
	q := &stubQueue{}
	j := &memJournal{}
	c := newTestContext(t, q, 2, simulation.WithJournal(j))
	ctx := context.Background()

	if err := c.AddSimulation(ctx, 0, ""); err != nil {
		t.Fatalf("AddSimulation: %v", err)
	}
	if got := j.state(0); got != model.StateQueued {
		t.Errorf("journaled state = %q, want queued", got)
	}
	c.Wait()

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := j.state(0); got != model.StateSubmitted {
		t.Errorf("journaled state = %q, want submitted", got)
	}

	q.setStatus(handleOf(t, c, 0), queue.StatusSuccess)
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := j.state(0); got != model.StateSuccess {
		t.Errorf("journaled state = %q, want success", got)
	}

	syncs := j.syncs
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if j.syncs != syncs {
		t.Error("unchanged state was journaled again")
	}

	q.setStatus(handleOf(t, c, 0), queue.StatusFailed)
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := j.state(0); got != model.StateSuccess || j.syncs != syncs {
		t.Errorf("journaled state = %q after %d syncs, want terminal success kept", got, j.syncs-syncs)
	}
}

func TestReconcileRetriesFailedInsert(t *testing.T) {
	q := &stubQueue{}
	j := &memJournal{failCreates: 2}
	c := newTestContext(t, q, 2, simulation.WithJournal(j))
	ctx := context.Background()

	if err := c.AddSimulation(ctx, 0, ""); err != nil {
		t.Fatalf("AddSimulation with failing journal: %v", err)
	}
	if got := j.state(0); got != "" {
		t.Fatalf("journaled state = %q after failed insert, want none", got)
	}
	c.Wait()

	if err := c.Reconcile(ctx); err == nil {
		t.Error("Reconcile error = nil while the journal still rejects inserts")
	}
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := j.state(0); got != model.StateSubmitted {
		t.Errorf("journaled state = %q, want submitted", got)
	}
	if j.creates != 3 {
		t.Errorf("inserts = %d, want 3", j.creates)
	}

	q.setStatus(handleOf(t, c, 0), queue.StatusSuccess)
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := j.state(0); got != model.StateSuccess {
		t.Errorf("journaled state = %q, want success", got)
	}
	if j.creates != 3 || j.syncs != 1 {
		t.Errorf("inserts = %d syncs = %d, want 3 and 1", j.creates, j.syncs)
	}
}

func TestWithManager(t *testing.T) {
	drv := &exitDriver{}
	m := queue.NewManager(drv, queue.ManagerConfig{MaxRunning: 2}, testLogger())
	if err := m.Start(4, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		m.Stop()
		m.Wait()
	})

	c := newTestContext(t, m, 4)
	for i := 0; i < 4; i++ {
		if err := c.AddSimulation(context.Background(), i, ""); err != nil {
			t.Fatalf("AddSimulation(%d): %v", i, err)
		}
	}
	c.Wait()

	waitFor(t, "all realizations to finish", 2*time.Second, func() bool {
		for i := 0; i < 4; i++ {
			if !c.IsRealizationFinished(i) {
				return false
			}
		}
		return true
	})

	for i := 0; i < 4; i++ {
		failed, err := c.DidRealizationFail(i)
		if err != nil {
			t.Fatalf("DidRealizationFail(%d): %v", i, err)
		}
		if want := i%2 == 1; failed != want {
			t.Errorf("DidRealizationFail(%d) = %v, want %v", i, failed, want)
		}
	}
	if c.NumSuccess() != 2 || c.NumFailed() != 2 {
		t.Errorf("NumSuccess = %d, NumFailed = %d; want 2, 2", c.NumSuccess(), c.NumFailed())
	}
	waitFor(t, "queue to drain", time.Second, func() bool { return !c.IsRunning() })

	v, _ := c.Realization(1)
	if v.State != model.StateFailed || v.Error == "" {
		t.Errorf("view = %+v, want failed with a reason", v)
	}
}

// exitDriver fails odd realizations.
type exitDriver struct{}

func (exitDriver) Name() string { return "exit" }

func (exitDriver) Run(_ context.Context, spec queue.JobSpec) error {
	spec.Started()
	if spec.Iens%2 == 1 {
		return fmt.Errorf("forward model exited with status 1")
	}
	return nil
}
