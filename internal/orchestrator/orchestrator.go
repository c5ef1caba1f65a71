package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/threadweave/threadweave/internal/agentcall"
	"github.com/threadweave/threadweave/internal/approval"
	"github.com/threadweave/threadweave/internal/condition"
	"github.com/threadweave/threadweave/internal/correlation"
	"github.com/threadweave/threadweave/internal/eventbus"
	"github.com/threadweave/threadweave/internal/graph"
	"github.com/threadweave/threadweave/internal/state"
	"github.com/threadweave/threadweave/internal/workflow"
	"github.com/threadweave/threadweave/pkg/cerr"
	"github.com/threadweave/threadweave/pkg/clog"
	"github.com/threadweave/threadweave/pkg/panicerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

var errThreadAborted = errors.New("thread aborted")

// Config carries the default timeouts and fan-out bound. Per-step config
// overrides the step timeout and tightens the parallel limit; the
// response and approval timeouts are engine-wide.
type Config struct {
	StepTimeout     time.Duration
	ResponseTimeout time.Duration
	ApprovalTimeout time.Duration
	ParallelLimit   int
}

// Request describes one execution submission. Steps may be a single step
// or a whole graph. A ThreadID resumes a prior thread: steps that already
// succeeded are skipped, everything else re-runs. StartNewConversation
// drops stored agent sessions so resumed steps start cold.
type Request struct {
	WorkflowID           string
	WorkflowName         string
	Steps                []workflow.Step
	ThreadID             string
	StartNewConversation bool
	ProjectID            string
}

// Response is the execution result returned to the caller. Results carry
// internal step results; Status communicates the failure class without
// internal error detail.
type Response struct {
	ThreadID   string
	SessionIDs map[string]string
	Results    map[string]state.StepResult
	Status     state.WorkflowStatus
	Summary    state.Summary
}

// StatusReport answers the thread status query. Statuses are public
// statuses, so a step that was scheduled but never ran reads
// not_executed rather than failed.
type StatusReport struct {
	ThreadID       string
	OverallStatus  state.WorkflowStatus
	StepStatuses   map[string]state.Status
	CompletedSteps int
	CanResume      bool
	SessionIDs     map[string]string
}

// Orchestrator drives workflow threads: computes ready steps, fans them
// out, gates approval-required steps, correlates agent responses and
// checkpoints state after every transition.
type Orchestrator struct {
	evaluator *condition.Evaluator
	tracker   *correlation.Tracker
	gate      *approval.Gate
	states    state.Repository
	invoker   agentcall.Invoker
	bus       *eventbus.Bus
	cfg       Config

	mu       sync.Mutex
	threads  map[string]*sync.Mutex
	inflight map[string]map[string]struct{} // threadID -> correlation ids
}

func New(
	tracker *correlation.Tracker,
	gate *approval.Gate,
	states state.Repository,
	invoker agentcall.Invoker,
	bus *eventbus.Bus,
	cfg Config,
) *Orchestrator {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Minute
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 5 * time.Minute
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = time.Hour
	}
	return &Orchestrator{
		evaluator: condition.NewEvaluator(),
		tracker:   tracker,
		gate:      gate,
		states:    states,
		invoker:   invoker,
		bus:       bus,
		cfg:       cfg,
		threads:   make(map[string]*sync.Mutex),
		inflight:  make(map[string]map[string]struct{}),
	}
}

// Execute runs a workflow thread to quiescence: either every schedulable
// step has a result, a failure stopped scheduling, or the context was
// cancelled. Validation errors are fatal and reported before any step
// runs.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Response, error) {
	def := &workflow.Definition{
		ID:    req.WorkflowID,
		Name:  req.WorkflowName,
		Steps: req.Steps,
		Metadata: workflow.Metadata{
			ProjectID: req.ProjectID,
		},
	}
	if def.ID == "" {
		def.ID = ulid.Make().String()
	}
	if err := def.ValidateShape(); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid workflow", err)
	}
	if verrs := graph.Validate(def); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid workflow", errors.New(strings.Join(msgs, "; ")))
	}

	st, err := o.prepareState(ctx, req)
	if err != nil {
		return nil, err
	}
	threadID := st.ThreadID

	ctx = clog.ContextWithSlog(ctx)
	clog.AddThread(ctx, threadID)

	unlock := o.lockThread(threadID)
	defer unlock()

	// Reject this thread's tracker entries on cancellation so in-flight
	// waits settle as aborted instead of dangling until their timeouts.
	abortDone := make(chan struct{})
	defer close(abortDone)
	go func() {
		select {
		case <-ctx.Done():
			o.rejectThread(threadID, errThreadAborted)
		case <-abortDone:
		}
	}()

	slog.InfoContext(ctx, "thread execution started",
		slog.String("workflow_id", def.ID), slog.Int("steps", len(def.Steps)))
	start := time.Now()

	o.drain(ctx, def, st)

	st.OverallStatus = state.OverallStatus(st.StepResults)
	if err := o.states.Save(ctx, st); err != nil {
		slog.ErrorContext(ctx, "failed to save final state", slog.Any("error", err))
	}

	eventType := eventbus.EventWorkflowCompleted
	if st.OverallStatus == state.WorkflowAborted {
		eventType = eventbus.EventWorkflowAborted
	}
	o.bus.PublishNew(eventType, threadID, "", map[string]string{
		"status": string(st.OverallStatus),
	})

	durationMS := time.Since(start).Milliseconds()
	slog.InfoContext(ctx, "thread execution finished",
		slog.String("status", string(st.OverallStatus)),
		slog.Int64("duration_ms", durationMS))

	results := make(map[string]state.StepResult, len(st.StepResults))
	for id, r := range st.StepResults {
		results[id] = r
	}
	sessions := make(map[string]string, len(st.SessionIDs))
	for id, s := range st.SessionIDs {
		sessions[id] = s
	}

	return &Response{
		ThreadID:   threadID,
		SessionIDs: sessions,
		Results:    results,
		Status:     st.OverallStatus,
		Summary:    state.Summarize(st.StepResults, durationMS),
	}, nil
}

// prepareState loads or creates the thread state. On resume, results
// that are not success are cleared so those steps re-run; succeeded
// steps keep their results and are never re-scheduled.
func (o *Orchestrator) prepareState(ctx context.Context, req *Request) (*state.ExecutionState, error) {
	var st *state.ExecutionState
	threadID := req.ThreadID

	if threadID != "" {
		loaded, err := o.states.Load(ctx, threadID)
		switch {
		case err == nil:
			st = loaded
			for id, r := range st.StepResults {
				if r.Status != state.StatusSuccess {
					delete(st.StepResults, id)
					delete(st.StepOutputs, id)
				}
			}
		case errors.Is(err, storage.ErrNotFound):
			// fresh thread with a caller-chosen id
		default:
			return nil, err
		}
	} else {
		threadID = ulid.Make().String()
	}

	if st == nil {
		st = state.NewExecutionState(threadID)
	}
	st.WorkflowID = req.WorkflowID
	if req.ProjectID != "" {
		st.ProjectID = req.ProjectID
	}
	if req.StartNewConversation {
		st.SessionIDs = make(map[string]string)
	}
	st.OverallStatus = state.WorkflowRunning
	return st, nil
}

// drain repeatedly computes the ready set and fans each wave out until
// nothing more can be scheduled. A failure reaches dependents only
// through dependency satisfaction: the failed step's dependents are
// never ready, while unrelated branches keep draining. State is saved
// after every step transition.
func (o *Orchestrator) drain(ctx context.Context, def *workflow.Definition, st *state.ExecutionState) {
	var stMu sync.Mutex

	for {
		if ctx.Err() != nil {
			return
		}

		ready := graph.ReadySteps(def, st.StepResults)
		if len(ready) == 0 {
			return
		}

		limit := o.waveLimit(def, ready)
		p := pool.New()
		if limit > 0 {
			p = p.WithMaxGoroutines(limit)
		}

		stop := false
		for _, id := range ready {
			step := def.Step(id)
			p.Go(func() {
				stMu.Lock()
				data := stepData(st)
				priorSession := st.SessionIDs[step.ID]
				stMu.Unlock()

				result, sessionID := o.runStep(ctx, st.ThreadID, st.ProjectID, step, data, priorSession)

				stMu.Lock()
				st.RecordResult(step.ID, result)
				if sessionID != "" {
					st.SessionIDs[step.ID] = sessionID
				}
				if result.Status == state.StatusAborted {
					stop = true
				}
				if err := o.states.Save(ctx, st); err != nil {
					slog.ErrorContext(ctx, "failed to checkpoint state",
						slog.String("step_id", step.ID), slog.Any("error", err))
				}
				stMu.Unlock()

				o.bus.PublishNew(eventbus.EventStepCompleted, st.ThreadID, step.ID, map[string]string{
					"status": string(result.Status),
				})
			})
		}
		p.Wait()

		if stop {
			return
		}
	}
}

// waveLimit returns the fan-out bound for a wave: the engine-wide limit
// tightened by the smallest positive per-step parallel_limit in the
// wave. Zero means unbounded.
func (o *Orchestrator) waveLimit(def *workflow.Definition, ready []string) int {
	limit := o.cfg.ParallelLimit
	for _, id := range ready {
		s := def.Step(id)
		if s == nil || s.Config == nil || s.Config.ParallelLimit <= 0 {
			continue
		}
		if limit <= 0 || s.Config.ParallelLimit < limit {
			limit = s.Config.ParallelLimit
		}
	}
	return limit
}

// runStep executes one step end to end: conditional routing, template
// resolution, approval gating, tracked agent invocation with retries.
// It never returns an error; every outcome is a StepResult.
func (o *Orchestrator) runStep(
	ctx context.Context,
	threadID, projectID string,
	step *workflow.Step,
	data condition.StepData,
	priorSession string,
) (state.StepResult, string) {
	ctx = clog.ContextWithSlog(ctx)
	clog.AddThread(ctx, threadID)
	clog.AddStep(ctx, step.ID)

	start := time.Now()
	o.bus.PublishNew(eventbus.EventStepStarted, threadID, step.ID, nil)

	if step.Kind == workflow.KindConditional {
		return o.runConditional(ctx, step, data, start), ""
	}

	task := ResolveTemplates(step.Task, data)

	if step.RequiresApproval {
		if result, halted := o.awaitApproval(ctx, threadID, projectID, step, task, start); halted {
			return result, ""
		}
	}

	attempts := 1
	if step.Config != nil && step.Config.Retries > 0 {
		attempts += step.Config.Retries
	}

	var last state.StepResult
	var sessionID string
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return abortedResult(start), sessionID
		}
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying step",
				slog.Int("attempt", attempt+1), slog.String("error", last.Error))
		}
		last, sessionID = o.invokeOnce(ctx, threadID, projectID, step, task, priorSession)
		if sessionID != "" {
			priorSession = sessionID
		}
		if last.Status != state.StatusFailed {
			break
		}
	}
	last.DurationMS = time.Since(start).Milliseconds()
	return last, sessionID
}

// runConditional evaluates the step's condition payload. A true outcome
// records success, false records skipped; evaluation errors downgrade to
// skipped with the error attached rather than failing the thread.
func (o *Orchestrator) runConditional(ctx context.Context, step *workflow.Step, data condition.StepData, start time.Time) state.StepResult {
	outcome := o.evaluator.Evaluate(step.Condition, data)

	status := state.StatusSkipped
	if outcome.Result {
		status = state.StatusSuccess
	}
	if outcome.Err != "" {
		slog.WarnContext(ctx, "condition evaluation error", slog.String("error", outcome.Err))
	}
	slog.InfoContext(ctx, "conditional step routed",
		slog.Bool("result", outcome.Result), slog.String("status", string(status)))

	return state.StepResult{
		Status:     status,
		Response:   fmt.Sprintf("%t", outcome.Result),
		DurationMS: time.Since(start).Milliseconds(),
		Error:      outcome.Err,
	}
}

// awaitApproval requests a human decision and blocks until it resolves.
// Returns halted=true with the terminal result when the step must not
// proceed; granted approvals (approved or acknowledged) let it through.
func (o *Orchestrator) awaitApproval(
	ctx context.Context,
	threadID, projectID string,
	step *workflow.Step,
	task string,
	start time.Time,
) (state.StepResult, bool) {
	prompt := step.ApprovalPrompt
	if prompt == "" {
		prompt = task
	}
	risk := approval.RiskLevel(step.RiskLevel)
	if risk == "" {
		risk = approval.RiskMedium
	}

	a, err := o.gate.Request(ctx, threadID, step.ID, projectID, prompt, risk, o.cfg.ApprovalTimeout)
	if err != nil {
		return state.StepResult{
			Status:     state.StatusFailed,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      fmt.Sprintf("approval request failed: %s", err),
		}, true
	}

	slog.InfoContext(ctx, "awaiting approval", slog.String("approval_id", a.ID), slog.String("risk", string(risk)))

	resolved, err := o.gate.Await(ctx, a.ID)
	if err != nil {
		if ctx.Err() != nil {
			return abortedResult(start), true
		}
		return state.StepResult{
			Status:     state.StatusFailed,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      fmt.Sprintf("approval wait failed: %s", err),
		}, true
	}
	if !resolved.Granted() {
		slog.InfoContext(ctx, "step blocked by approval decision", slog.String("decision", string(resolved.Status)))
		return state.StepResult{
			Status:     state.StatusBlocked,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      fmt.Sprintf("approval %s", resolved.Status),
		}, true
	}
	return state.StepResult{}, false
}

// invokeOnce performs a single tracked agent invocation. The tracker
// future is the single settle point: the invoker goroutine resolves or
// rejects it, the per-entry response timeout rejects it, and an abort
// rejects it, whichever comes first.
func (o *Orchestrator) invokeOnce(
	ctx context.Context,
	threadID, projectID string,
	step *workflow.Step,
	task string,
	priorSession string,
) (state.StepResult, string) {
	stepTimeout := o.cfg.StepTimeout
	if step.Config != nil && step.Config.TimeoutMS > 0 {
		stepTimeout = time.Duration(step.Config.TimeoutMS) * time.Millisecond
	}
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	agentID := step.AgentRef.AgentID
	if agentID == "" {
		agentID = step.AgentRef.Role
	}

	corrID, future, err := o.tracker.Track(agentID, projectID, o.cfg.ResponseTimeout)
	if err != nil {
		return state.StepResult{
			Status: state.StatusFailed,
			Error:  fmt.Sprintf("response tracking rejected: %s", err),
		}, ""
	}
	o.addInflight(threadID, corrID)
	defer o.removeInflight(threadID, corrID)

	type invokeResult struct {
		res *agentcall.Result
		err error
	}
	resCh := make(chan invokeResult, 1)
	go func() {
		var res *agentcall.Result
		err := panicerr.SafeContext(func(ctx context.Context) error {
			var invokeErr error
			res, invokeErr = o.invoker.Invoke(ctx, step.AgentRef, task, priorSession)
			return invokeErr
		})(stepCtx)
		if err != nil {
			o.tracker.Reject(corrID, err)
		} else {
			o.tracker.Resolve(corrID, res.Output)
		}
		resCh <- invokeResult{res: res, err: err}
	}()

	var outcome correlation.Outcome
	select {
	case outcome = <-future:
	case <-stepCtx.Done():
		o.tracker.Reject(corrID, stepCtx.Err())
		outcome = <-future
	}

	var sessionID string
	select {
	case ir := <-resCh:
		if ir.res != nil {
			sessionID = ir.res.SessionID
		}
	default:
		// invoker still running after an external settle; cancel reaps it
	}

	if outcome.Err != nil {
		if ctx.Err() != nil || errors.Is(outcome.Err, errThreadAborted) {
			return state.StepResult{Status: state.StatusAborted, Error: outcome.Err.Error()}, sessionID
		}
		return state.StepResult{
			Status: state.StatusFailed,
			Error:  outcome.Err.Error(),
		}, sessionID
	}

	return state.StepResult{
		Status:   state.StatusSuccess,
		Response: outcome.Value,
	}, sessionID
}

// Status reports a thread's progress for callers deciding whether to
// resubmit the same thread id.
func (o *Orchestrator) Status(ctx context.Context, threadID string) (*StatusReport, error) {
	st, err := o.states.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]state.Status, len(st.StepResults))
	completed := 0
	for id := range st.StepResults {
		r := st.StepResults[id]
		statuses[id] = state.PublicStatus(&r)
		if r.Status == state.StatusSuccess {
			completed++
		}
	}

	canResume := st.OverallStatus == state.WorkflowRunning ||
		st.OverallStatus == state.WorkflowPartial ||
		st.OverallStatus == state.WorkflowFailed

	sessions := make(map[string]string, len(st.SessionIDs))
	for id, s := range st.SessionIDs {
		sessions[id] = s
	}

	return &StatusReport{
		ThreadID:       threadID,
		OverallStatus:  st.OverallStatus,
		StepStatuses:   statuses,
		CompletedSteps: completed,
		CanResume:      canResume,
		SessionIDs:     sessions,
	}, nil
}

func (o *Orchestrator) lockThread(threadID string) func() {
	o.mu.Lock()
	m, ok := o.threads[threadID]
	if !ok {
		m = &sync.Mutex{}
		o.threads[threadID] = m
	}
	o.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (o *Orchestrator) addInflight(threadID, corrID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, ok := o.inflight[threadID]
	if !ok {
		ids = make(map[string]struct{})
		o.inflight[threadID] = ids
	}
	ids[corrID] = struct{}{}
}

func (o *Orchestrator) removeInflight(threadID, corrID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ids, ok := o.inflight[threadID]; ok {
		delete(ids, corrID)
		if len(ids) == 0 {
			delete(o.inflight, threadID)
		}
	}
}

// rejectThread settles every pending correlation entry of a thread so
// aborted waits do not dangle until their response timeouts.
func (o *Orchestrator) rejectThread(threadID string, err error) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.inflight[threadID]))
	for id := range o.inflight[threadID] {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.tracker.Reject(id, err)
	}
}

func abortedResult(start time.Time) state.StepResult {
	return state.StepResult{
		Status:     state.StatusAborted,
		DurationMS: time.Since(start).Milliseconds(),
		Error:      "thread aborted",
	}
}

// stepData snapshots the thread state into the shape condition
// evaluation and template resolution consume.
func stepData(st *state.ExecutionState) condition.StepData {
	data := condition.StepData{
		Outputs:   make(map[string]string, len(st.StepOutputs)),
		Statuses:  make(map[string]string, len(st.StepResults)),
		Responses: make(map[string]string, len(st.StepResults)),
	}
	for id, out := range st.StepOutputs {
		data.Outputs[id] = out
	}
	for id := range st.StepResults {
		r := st.StepResults[id]
		data.Statuses[id] = string(state.PublicStatus(&r))
		data.Responses[id] = r.Response
	}
	return data
}
