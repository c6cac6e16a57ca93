package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/models"
	"github.com/ternarybob/igor/internal/session"
)

// Options configures the JobCenter.
type Options struct {
	SessionRoot      string
	CallbackURL      string // base URL the guest calls back on, e.g. http://10.0.0.1:8080
	WorkerTick       time.Duration
	WatchdogInterval time.Duration
	CleanupAge       time.Duration
	MaxCleanedJobs   int
}

// JobCenter owns all jobs and plans. It hands out cookies, queues jobs for
// the background worker, serializes hosts, and garbage collects ended jobs.
//
// Two locks: mu guards the center's own maps and queues, highMu serializes
// the compound state transitions of all jobs. mu is always taken before
// highMu, never the other way around.
type JobCenter struct {
	mu     sync.Mutex
	highMu sync.Mutex

	jobs       map[string]*Job
	pending    []string // cookies queued for start, FIFO
	ended      []*Job   // ended jobs awaiting GC, oldest first
	closed     []string // cookies of all ended jobs, survives GC
	hostsInUse map[string]bool

	runningPlans map[string]*PlanWorker
	planResults  map[string]*PlanStatus

	cookies  *common.CookieJar
	hooks    *HookRunner
	resolver models.PlanResolver
	worker   *common.PollingWorker
	opts     Options
	logger   arbor.ILogger
}

// NewJobCenter creates a stopped job center. Call Start to launch the
// background worker.
func NewJobCenter(opts Options, resolver models.PlanResolver, hooks *HookRunner, logger arbor.ILogger) *JobCenter {
	if opts.WorkerTick <= 0 {
		opts.WorkerTick = 10 * time.Second
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = 10 * time.Second
	}
	if opts.CleanupAge <= 0 {
		opts.CleanupAge = 5 * time.Minute
	}
	if opts.MaxCleanedJobs <= 0 {
		opts.MaxCleanedJobs = 10
	}

	jc := &JobCenter{
		jobs:         map[string]*Job{},
		hostsInUse:   map[string]bool{},
		runningPlans: map[string]*PlanWorker{},
		planResults:  map[string]*PlanStatus{},
		cookies:      common.NewCookieJar(),
		hooks:        hooks,
		resolver:     resolver,
		opts:         opts,
		logger:       logger,
	}
	jc.worker = common.NewPollingWorker("job-worker", opts.WorkerTick, logger, jc.tick)
	return jc
}

// Start launches the background job worker.
func (jc *JobCenter) Start() {
	jc.logger.Info().Msg("Starting job center")
	jc.worker.Start()
}

// Stop halts the background worker. Running jobs are left as they are.
func (jc *JobCenter) Stop() {
	jc.logger.Info().Msg("Stopping job center")
	jc.worker.Stop()
	jc.worker.Wait()
}

// Submit creates a job from a spec, mints its cookie and session, and
// returns the cookie. The job is not started; call StartJob to queue it.
func (jc *JobCenter) Submit(spec *models.JobSpec, preferredCookie string) (string, error) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.submitLocked(spec, preferredCookie)
}

func (jc *JobCenter) submitLocked(spec *models.JobSpec, preferredCookie string) (string, error) {
	cookie := jc.cookies.Mint(preferredCookie, func(c string) bool {
		_, taken := jc.jobs[c]
		return taken
	})

	sess, err := session.New(jc.opts.SessionRoot, cookie, jc.logger)
	if err != nil {
		return "", fmt.Errorf("create session for job %s: %w", cookie, err)
	}

	job := newJob(cookie, spec, sess, &jc.highMu, jc.opts.WatchdogInterval, jc.opts.CallbackURL, jc.hooks, jc.logger)
	jc.jobs[cookie] = job
	jc.logger.Info().Str("job", cookie).Str("testsuite", spec.Testsuite.Name).
		Str("profile", spec.Profile.Name()).Str("host", spec.Host.Name()).Msg("Job submitted")
	return cookie, nil
}

// StartJob queues a submitted job for the background worker. The worker
// starts it once its host is free.
func (jc *JobCenter) StartJob(cookie string) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()

	job, ok := jc.jobs[cookie]
	if !ok {
		return fmt.Errorf("no job %s: %w", cookie, ErrNotFound)
	}
	if s := job.State(); s != models.StateOpen {
		return fmt.Errorf("job %s was already started (%s): %w", cookie, s, ErrPrecondition)
	}
	for _, c := range jc.pending {
		if c == cookie {
			return nil
		}
	}
	jc.pending = append(jc.pending, cookie)
	jc.logger.Debug().Str("job", cookie).Int("queue", len(jc.pending)).Msg("Job queued for start")
	return nil
}

// GetJob returns a job by cookie.
func (jc *JobCenter) GetJob(cookie string) (*Job, error) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	job, ok := jc.jobs[cookie]
	if !ok {
		return nil, fmt.Errorf("no job %s: %w", cookie, ErrNotFound)
	}
	return job, nil
}

// Jobs snapshots all live jobs keyed by cookie.
func (jc *JobCenter) Jobs() map[string]*Job {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make(map[string]*Job, len(jc.jobs))
	for c, j := range jc.jobs {
		out[c] = j
	}
	return out
}

// ClosedJobs lists the cookies of all jobs that ended, including jobs the
// garbage collector has since dropped from the registry.
func (jc *JobCenter) ClosedJobs() []string {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make([]string, len(jc.closed))
	copy(out, jc.closed)
	return out
}

// FinishTestStep records the result of one step of a job.
func (jc *JobCenter) FinishTestStep(cookie string, n int, isSuccess bool, note string) error {
	job, err := jc.GetJob(cookie)
	if err != nil {
		return err
	}
	return job.FinishStep(n, isSuccess, note, false, false)
}

// SkipTestStep records a step as skipped. A skipped step is not a success,
// so it never satisfies the all-passed condition of the suite.
func (jc *JobCenter) SkipTestStep(cookie string, n int, note string) error {
	job, err := jc.GetJob(cookie)
	if err != nil {
		return err
	}
	return job.FinishStep(n, false, note, false, true)
}

// TestStepResult returns the result of a finished step.
func (jc *JobCenter) TestStepResult(cookie string, n int) (*models.StepResult, error) {
	job, err := jc.GetJob(cookie)
	if err != nil {
		return nil, err
	}
	return job.StepResult(n)
}

// AbortJob aborts a running job.
func (jc *JobCenter) AbortJob(cookie string) error {
	job, err := jc.GetJob(cookie)
	if err != nil {
		return err
	}
	return job.Abort()
}

// RemoveJob ends and cleans a job, then drops it from the registry. Only
// jobs in an endstate (or still open) can be removed.
func (jc *JobCenter) RemoveJob(cookie string) error {
	jc.mu.Lock()
	job, ok := jc.jobs[cookie]
	jc.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job %s: %w", cookie, ErrNotFound)
	}

	if s := job.State(); s != models.StateOpen && !s.IsEndState() {
		return fmt.Errorf("can not remove job %s while %s: %w", cookie, s, ErrPrecondition)
	}

	if ended, _ := job.Ended(); !ended {
		if err := job.End(); err != nil {
			return err
		}
	}
	if err := job.Clean(); err != nil {
		return err
	}

	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.dropLocked(job)
	delete(jc.jobs, cookie)
	jc.closeLocked(cookie)
	jc.logger.Info().Str("job", cookie).Msg("Job removed")
	return nil
}

// closeLocked records a cookie in the closed-jobs ledger exactly once.
func (jc *JobCenter) closeLocked(cookie string) {
	for _, c := range jc.closed {
		if c == cookie {
			return
		}
	}
	jc.closed = append(jc.closed, cookie)
}

// dropLocked erases a job from the pending queue, ended queue and host map.
func (jc *JobCenter) dropLocked(job *Job) {
	for i, c := range jc.pending {
		if c == job.Cookie {
			jc.pending = append(jc.pending[:i], jc.pending[i+1:]...)
			break
		}
	}
	for i, j := range jc.ended {
		if j == job {
			jc.ended = append(jc.ended[:i], jc.ended[i+1:]...)
			break
		}
	}
	delete(jc.hostsInUse, job.Host.Name())
}

// tick is one pass of the background worker: start pending jobs whose host
// is free, unwind jobs that reached an endstate, and garbage collect old
// ended jobs.
func (jc *JobCenter) tick() {
	jc.startPendingJobs()
	jc.endFinishedJobs()
	jc.collectGarbage()
}

func (jc *JobCenter) startPendingJobs() {
	jc.mu.Lock()
	var keep []string
	var starting []*Job
	for _, cookie := range jc.pending {
		job, ok := jc.jobs[cookie]
		if !ok {
			continue
		}
		hostname := job.Host.Name()
		if jc.hostsInUse[hostname] {
			jc.logger.Debug().Str("job", cookie).Str("host", hostname).Msg("Host busy, job stays queued")
			keep = append(keep, cookie)
			continue
		}
		jc.hostsInUse[hostname] = true
		starting = append(starting, job)
	}
	jc.pending = keep
	jc.mu.Unlock()

	for _, job := range starting {
		jc.hooks.Run(HookPreJob, job.Cookie)
		err := job.Setup()
		if err == nil {
			err = job.Start()
		}
		if err != nil {
			jc.logger.Error().Str("job", job.Cookie).Err(err).Msg("Failed to launch job")
			// The failed endstate sends the job down the regular unwind
			// path, which also frees the host again.
			job.failLaunch()
		}
	}
}

func (jc *JobCenter) endFinishedJobs() {
	jc.mu.Lock()
	var finishing []*Job
	for _, job := range jc.jobs {
		if ended, _ := job.Ended(); ended {
			continue
		}
		if job.ReachedEndstate() {
			finishing = append(finishing, job)
		}
	}
	jc.mu.Unlock()

	for _, job := range finishing {
		jc.hooks.Run(HookPostJob, job.Cookie)
		if err := job.End(); err != nil {
			jc.logger.Error().Str("job", job.Cookie).Err(err).Msg("Failed to end job")
			continue
		}
		jc.mu.Lock()
		delete(jc.hostsInUse, job.Host.Name())
		jc.ended = append(jc.ended, job)
		jc.closeLocked(job.Cookie)
		jc.mu.Unlock()
		jc.logger.Info().Str("job", job.Cookie).Str("result", job.Result()).Msg("Job ended")
	}
}

// collectGarbage cleans the oldest ended jobs while more than
// MaxCleanedJobs have ended, but only jobs whose end is older than
// CleanupAge. A job with a zero end time is never eligible.
func (jc *JobCenter) collectGarbage() {
	now := time.Now()
	for {
		jc.mu.Lock()
		if len(jc.ended) <= jc.opts.MaxCleanedJobs {
			jc.mu.Unlock()
			return
		}
		job := jc.ended[0]
		ended, endedAt := job.Ended()
		if !ended || endedAt.IsZero() || now.Sub(endedAt) < jc.opts.CleanupAge {
			jc.mu.Unlock()
			return
		}
		jc.ended = jc.ended[1:]
		delete(jc.jobs, job.Cookie)
		jc.mu.Unlock()

		jc.logger.Debug().Str("job", job.Cookie).Msg("Garbage collecting job")
		if err := job.Clean(); err != nil {
			jc.logger.Warn().Str("job", job.Cookie).Err(err).Msg("Failed to clean job")
		}
	}
}

// SessionsInUse lists the session directories of all live jobs. The orphan
// sweeper spares these.
func (jc *JobCenter) SessionsInUse() map[string]bool {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	dirs := make(map[string]bool, len(jc.jobs))
	for _, job := range jc.jobs {
		dirs[job.Session.Dirname] = true
	}
	return dirs
}

// SubmitPlan starts a plan in the background and returns once it is
// accepted. A plan name can only run once at a time. Substitution is
// checked up front so a broken plan is rejected before any job exists.
func (jc *JobCenter) SubmitPlan(plan *models.Testplan, variables map[string]string) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()

	if _, running := jc.runningPlans[plan.Name]; running {
		return fmt.Errorf("plan %s is already running: %w", plan.Name, ErrPrecondition)
	}

	if plan.Variables == nil {
		plan.Variables = map[string]string{}
	}
	for k, v := range variables {
		plan.Variables[k] = v
	}
	plan.EnsurePlanID()

	if err := plan.CheckSubstitution(); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), ErrPrecondition)
	}

	worker := newPlanWorker(plan, jc, jc.resolver, jc.logger)
	jc.runningPlans[plan.Name] = worker
	worker.run(func(status *PlanStatus) {
		jc.mu.Lock()
		defer jc.mu.Unlock()
		delete(jc.runningPlans, plan.Name)
		jc.planResults[plan.Name] = status
	})
	jc.logger.Info().Str("plan", plan.Name).Int("planid", plan.PlanID).Msg("Plan submitted")
	return nil
}

// StatusPlan returns the status of a running or finished plan.
func (jc *JobCenter) StatusPlan(name string) (*PlanStatus, error) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if worker, ok := jc.runningPlans[name]; ok {
		return worker.Status(), nil
	}
	if status, ok := jc.planResults[name]; ok {
		return status, nil
	}
	return nil, fmt.Errorf("no plan %s was run: %w", name, ErrNotFound)
}

// AbortPlan stops a running plan: the current job is aborted and no further
// layout is started.
func (jc *JobCenter) AbortPlan(name string) error {
	jc.mu.Lock()
	worker, ok := jc.runningPlans[name]
	jc.mu.Unlock()
	if !ok {
		return fmt.Errorf("plan %s is not running: %w", name, ErrPrecondition)
	}
	worker.Abort()
	return nil
}
