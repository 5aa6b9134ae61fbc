// Package bulk runs a list of requests sequentially or in parallel, with
// pause, stop and reset, and chains values extracted from responses into
// later requests.
package bulk

import (
	"context"
	"sync"
	"time"

	"api-runner/internal/chain"
	"api-runner/internal/config"
	"api-runner/internal/executor"
	"api-runner/internal/extract"
	"api-runner/internal/logging"
	"api-runner/internal/request"
	"api-runner/internal/template"

	"github.com/google/uuid"
)

type record struct {
	op Operation
	// dispatched is set once the executor has been (or is about to be)
	// called. Stop only reverts running records that are not dispatched.
	dispatched bool
	gen        uint64 // run generation that last marked this record running
}

// Orchestrator owns the operation list and chain state of one run. All
// state below mu is written only by the orchestrator; readers get copies.
type Orchestrator struct {
	cfg     Config
	exec    Executor
	vars    VariableSource
	after   func(time.Duration) <-chan time.Time
	metrics Metrics
	onDone  func(Operation)

	mu          sync.Mutex
	ops         []*record
	byID        map[string]*record
	chain       *chain.State
	running     bool
	generation  uint64
	inFlight    int
	activeLoops int
	wake        chan struct{} // closed by Pause/Stop to cut a delay short
	idle        chan struct{} // closed when activeLoops drops to zero
}

// NewOrchestrator creates an orchestrator with default dependencies: an
// HTTP executor with default settings and no variables.
func NewOrchestrator(cfg Config) *Orchestrator {
	return NewOrchestratorWithOpts(cfg, nil)
}

// NewOrchestratorWithOpts creates an orchestrator with injectable
// dependencies.
func NewOrchestratorWithOpts(cfg Config, opts *Opts) *Orchestrator {
	if opts == nil {
		opts = &Opts{}
	}
	if cfg.Mode == "" {
		cfg.Mode = Sequential
	}
	o := &Orchestrator{
		cfg:     cfg,
		exec:    opts.Executor,
		vars:    opts.Variables,
		after:   opts.After,
		metrics: opts.Metrics,
		onDone:  opts.OnOperationDone,
		byID:    make(map[string]*record),
		chain:   chain.NewState(),
	}
	if o.exec == nil {
		o.exec = executor.NewHTTPExecutor(config.HTTPConfig{}, config.RetryConfig{MaxAttempts: 1})
	}
	if o.vars == nil {
		o.vars = noVariables{}
	}
	if o.after == nil {
		o.after = time.After
	}
	if o.metrics == nil {
		o.metrics = noMetrics{}
	}
	if cfg.Mode == Parallel && cfg.ChainingEnabled {
		logging.Logf(logging.Warning, "Chaining in parallel mode is unsupported: merge order into chain state is undefined")
	}
	return o
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Load replaces the operation list with fresh pending operations, one per
// spec, and empties the chain state.
func (o *Orchestrator) Load(specs []request.RequestSpec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busyLocked() {
		return ErrRunActive
	}
	o.ops = make([]*record, 0, len(specs))
	o.byID = make(map[string]*record, len(specs))
	for _, spec := range specs {
		rec := &record{op: Operation{ID: uuid.NewString(), Spec: spec, Status: StatusPending}}
		o.ops = append(o.ops, rec)
		o.byID[rec.op.ID] = rec
	}
	o.chain.Reset()
	logging.Logf(logging.Debug, "Loaded %d operation(s)", len(specs))
	return nil
}

// Start begins processing pending operations in the background and returns
// true, or returns false without doing anything if a run is already active.
// It does not reset finished operations, so Start after Pause resumes.
func (o *Orchestrator) Start(ctx context.Context) bool {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		logging.Logf(logging.Debug, "Start ignored: run already active")
		return false
	}
	if o.allPendingLocked() {
		o.chain.Reset()
	}
	o.running = true
	o.generation++
	gen := o.generation
	o.wake = make(chan struct{})
	wake := o.wake
	o.loopStartedLocked()
	pending := o.countLocked(StatusPending)
	o.mu.Unlock()

	o.metrics.RunStarted(string(o.cfg.Mode))
	logging.Logf(logging.Info, "Starting %s run: %d pending operation(s)", o.cfg.Mode, pending)

	if o.cfg.Mode == Parallel {
		go o.runParallel(ctx, gen)
	} else {
		go o.runSequential(ctx, gen, wake)
	}
	return true
}

// Pause stops the run from starting further operations. Calls already
// dispatched finish normally.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.haltLocked() {
		logging.Logf(logging.Info, "Run paused")
	}
}

// Stop pauses the run and returns operations that were marked running but
// not yet dispatched to pending. Dispatched operations finish normally.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.haltLocked()
	reverted := 0
	for _, rec := range o.ops {
		if rec.op.Status == StatusRunning && !rec.dispatched {
			rec.op.Status = StatusPending
			rec.op.StartedAt = time.Time{}
			reverted++
		}
	}
	logging.Logf(logging.Info, "Run stopped (%d undispatched operation(s) returned to pending)", reverted)
}

// Reset returns every operation to pending and empties the chain state. It
// fails with ErrRunActive while a run is active or calls are outstanding.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busyLocked() {
		return ErrRunActive
	}
	for _, rec := range o.ops {
		rec.op.Status = StatusPending
		rec.op.Response = nil
		rec.op.Error = ""
		rec.op.StartedAt = time.Time{}
		rec.op.EndedAt = time.Time{}
		rec.dispatched = false
	}
	o.chain.Reset()
	logging.Logf(logging.Info, "Run reset: %d operation(s) pending", len(o.ops))
	return nil
}

// Wait blocks until every run loop has exited or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	if o.activeLoops == 0 {
		o.mu.Unlock()
		return nil
	}
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts a run and waits for it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.Start(ctx) {
		return ErrAlreadyRunning
	}
	return o.Wait(ctx)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Complete reports whether no operation is pending or running.
func (o *Orchestrator) Complete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range o.ops {
		if !rec.op.Status.Terminal() {
			return false
		}
	}
	return true
}

// Operations returns a snapshot of every operation in list order.
func (o *Orchestrator) Operations() []Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Operation, len(o.ops))
	for i, rec := range o.ops {
		out[i] = rec.op
	}
	return out
}

// Operation returns a snapshot of the operation with the given id.
func (o *Orchestrator) Operation(id string) (Operation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.byID[id]
	if !ok {
		return Operation{}, false
	}
	return rec.op, true
}

// ChainSnapshot returns a copy of the chain state.
func (o *Orchestrator) ChainSnapshot() map[string]string {
	return o.chain.GetAll()
}

// Summary counts operations by status.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Summary{Total: len(o.ops)}
	for _, rec := range o.ops {
		switch rec.op.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (o *Orchestrator) runSequential(ctx context.Context, gen uint64, wake <-chan struct{}) {
	defer o.loopFinished()

	for {
		o.mu.Lock()
		if !o.activeLocked(gen) {
			o.mu.Unlock()
			logging.Logf(logging.Debug, "Sequential loop %d halted", gen)
			return
		}
		if ctx.Err() != nil {
			o.finishLocked(gen)
			o.mu.Unlock()
			logging.Logf(logging.Info, "Run canceled: %v", ctx.Err())
			return
		}
		rec := o.nextPendingLocked()
		if rec == nil {
			o.finishLocked(gen)
			o.mu.Unlock()
			logging.Logf(logging.Info, "Run finished with %d chained value(s)", o.chain.Len())
			return
		}
		o.markRunningLocked(rec, gen)
		o.mu.Unlock()

		final, err := o.assemble(rec.op.Spec)

		o.mu.Lock()
		owned := rec.gen == gen && rec.op.Status == StatusRunning
		if !owned || !o.activeLocked(gen) {
			// Stopped or paused before dispatch: never sent, so not started.
			if owned {
				rec.op.Status = StatusPending
				rec.op.StartedAt = time.Time{}
			}
			o.mu.Unlock()
			logging.Logf(logging.Debug, "Operation '%s' not dispatched: run halted", rec.op.Spec.Name)
			return
		}
		if err != nil {
			done := o.failLocked(rec, err)
			o.mu.Unlock()
			o.notify(done)
		} else {
			rec.dispatched = true
			o.inFlight++
			o.mu.Unlock()
			o.dispatch(ctx, rec, final)
		}

		o.mu.Lock()
		more := o.activeLocked(gen) && o.nextPendingLocked() != nil
		o.mu.Unlock()
		if !more || o.cfg.InterRequestDelay <= 0 {
			continue
		}
		select {
		case <-o.after(o.cfg.InterRequestDelay):
		case <-wake:
		case <-ctx.Done():
		}
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, gen uint64) {
	defer o.loopFinished()

	o.mu.Lock()
	if !o.activeLocked(gen) {
		o.mu.Unlock()
		return
	}
	var batch []*record
	for _, rec := range o.ops {
		if rec.op.Status == StatusPending {
			o.markRunningLocked(rec, gen)
			rec.dispatched = true
			batch = append(batch, rec)
		}
	}
	o.inFlight += len(batch)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range batch {
		wg.Add(1)
		go func(rec *record) {
			defer wg.Done()
			final, err := o.assemble(rec.op.Spec)
			if err != nil {
				o.mu.Lock()
				o.inFlight--
				done := o.failLocked(rec, err)
				o.mu.Unlock()
				o.notify(done)
				return
			}
			o.dispatch(ctx, rec, final)
		}(rec)
	}
	wg.Wait()

	o.mu.Lock()
	o.finishLocked(gen)
	o.mu.Unlock()
	logging.Logf(logging.Info, "Parallel run finished: %d operation(s) dispatched", len(batch))
}

// assemble resolves spec against the active variables, overridden by the
// chain state when chaining is on.
func (o *Orchestrator) assemble(spec request.RequestSpec) (*request.FinalRequest, error) {
	vars := o.vars.ActiveVariables()
	if o.cfg.ChainingEnabled {
		vars = o.chain.Overlay(vars)
	}
	return request.Assemble(spec, vars)
}

// dispatch executes a record already counted in inFlight and records the
// outcome.
func (o *Orchestrator) dispatch(ctx context.Context, rec *record, final *request.FinalRequest) {
	logging.Logf(logging.Debug, "Dispatching '%s': %s %s", rec.op.Spec.Name, final.Method, final.URL)
	o.metrics.RequestStarted()
	start := time.Now()
	resp, err := o.exec.Execute(ctx, final)
	o.metrics.RequestFinished(final.Method, time.Since(start), err == nil)

	var extracted map[string]string
	if err == nil && o.cfg.ChainingEnabled {
		extracted = extract.Extract(resp)
		ruled, errs := extract.ApplyRules(resp, rec.op.Spec.Extract)
		for _, e := range errs {
			logging.Logf(logging.Warning, "Operation '%s': %v", rec.op.Spec.Name, e)
		}
		for k, v := range ruled {
			extracted[k] = v
		}
		for k, v := range extracted {
			if template.ContainsDelimiter(v) {
				logging.Logf(logging.Debug, "Operation '%s': chained value '%s' holds placeholder markers, it is substituted literally", rec.op.Spec.Name, k)
			}
		}
	}

	o.mu.Lock()
	o.inFlight--
	var done Operation
	if err != nil {
		done = o.failLocked(rec, err)
	} else {
		rec.op.Status = StatusCompleted
		rec.op.Response = resp
		rec.op.EndedAt = time.Now()
		if extracted != nil {
			o.chain.MergeMap(extracted)
		}
		done = rec.op
		logging.Logf(logging.Info, "Operation '%s' completed: %d %s (%dms)", rec.op.Spec.Name, resp.StatusCode, resp.StatusText, resp.ElapsedMs)
	}
	o.mu.Unlock()
	o.notify(done)
}

func (o *Orchestrator) notify(op Operation) {
	o.metrics.OperationDone(string(op.Status))
	if o.onDone != nil {
		o.onDone(op)
	}
}

func (o *Orchestrator) failLocked(rec *record, err error) Operation {
	rec.op.Status = StatusFailed
	rec.op.Error = err.Error()
	rec.op.EndedAt = time.Now()
	logging.Logf(logging.Error, "Operation '%s' failed: %v", rec.op.Spec.Name, err)
	return rec.op
}

func (o *Orchestrator) markRunningLocked(rec *record, gen uint64) {
	rec.gen = gen
	rec.op.Status = StatusRunning
	rec.op.StartedAt = time.Now()
	rec.op.EndedAt = time.Time{}
	rec.op.Response = nil
	rec.op.Error = ""
	rec.dispatched = false
}

func (o *Orchestrator) nextPendingLocked() *record {
	for _, rec := range o.ops {
		if rec.op.Status == StatusPending {
			return rec
		}
	}
	return nil
}

func (o *Orchestrator) countLocked(status Status) int {
	n := 0
	for _, rec := range o.ops {
		if rec.op.Status == status {
			n++
		}
	}
	return n
}

func (o *Orchestrator) allPendingLocked() bool {
	return o.countLocked(StatusPending) == len(o.ops)
}

// activeLocked reports whether loop gen may keep going.
func (o *Orchestrator) activeLocked(gen uint64) bool {
	return o.running && o.generation == gen
}

// finishLocked ends run gen if it is still the current one.
func (o *Orchestrator) finishLocked(gen uint64) {
	if o.activeLocked(gen) {
		o.running = false
		o.closeWakeLocked()
	}
}

// haltLocked clears the running flag and reports whether it was set.
func (o *Orchestrator) haltLocked() bool {
	if !o.running {
		return false
	}
	o.running = false
	o.closeWakeLocked()
	return true
}

func (o *Orchestrator) closeWakeLocked() {
	if o.wake != nil {
		close(o.wake)
		o.wake = nil
	}
}

func (o *Orchestrator) busyLocked() bool {
	return o.running || o.inFlight > 0 || o.activeLoops > 0
}

func (o *Orchestrator) loopStartedLocked() {
	if o.activeLoops == 0 {
		o.idle = make(chan struct{})
	}
	o.activeLoops++
}

func (o *Orchestrator) loopFinished() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeLoops--
	if o.activeLoops == 0 {
		close(o.idle)
	}
}
