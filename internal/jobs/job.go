package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/interfaces"
	"github.com/ternarybob/igor/internal/models"
	"github.com/ternarybob/igor/internal/session"
)

// suppressedLog is recorded for steps that passed; the real log is only
// captured for failed steps.
const suppressedLog = "(log output suppressed, only for failed testcases)"

// Job is a single test run: a testsuite on a host provisioned with a
// profile. Lifecycle:
//
//	Setup()
//	Start()
//	FinishStep(...), [...] | Abort()
//	End()
//	Clean()
//
// All compound transitions serialize on the JobCenter's high-level lock so
// they are totally ordered; the state itself has its own lock inside the
// tracker.
type Job struct {
	Cookie          string
	Session         *session.TestSession
	Host            interfaces.Host
	Profile         interfaces.Profile
	Testsuite       *models.Testsuite
	AdditionalKargs string

	highMu *sync.Mutex
	state  *models.StateTracker

	mu          sync.Mutex // guards currentStep, results, artifacts, ended
	currentStep int
	results     []*models.StepResult
	artifacts   []string
	ended       bool
	endedAt     time.Time

	createdAt        time.Time
	watchdog         *common.PollingWorker
	watchdogInterval time.Duration
	callbackURL      string

	hooks  *HookRunner
	logger arbor.ILogger
}

// newJob constructs a job in state open. Only the JobCenter creates jobs.
func newJob(cookie string, spec *models.JobSpec, sess *session.TestSession, highMu *sync.Mutex,
	watchdogInterval time.Duration, callbackURL string, hooks *HookRunner, logger arbor.ILogger) *Job {

	j := &Job{
		Cookie:           cookie,
		Session:          sess,
		Host:             spec.Host,
		Profile:          spec.Profile,
		Testsuite:        spec.Testsuite,
		AdditionalKargs:  spec.AdditionalKargs,
		highMu:           highMu,
		state:            models.NewStateTracker(models.StateOpen),
		createdAt:        time.Now(),
		watchdogInterval: watchdogInterval,
		callbackURL:      callbackURL,
		hooks:            hooks,
		logger:           logger,
	}
	return j
}

// State returns the current lifecycle state.
func (j *Job) State() models.State {
	return j.state.Get()
}

// StateHistory returns the append-only state history.
func (j *Job) StateHistory() []models.StateChange {
	return j.state.History()
}

// ReachedEndstate reports whether the job is in a terminal state.
func (j *Job) ReachedEndstate() bool {
	return j.State().IsEndState()
}

// Wait blocks until the job reaches a terminal state.
func (j *Job) Wait() {
	j.state.Wait(func(s models.State) bool { return s.IsEndState() })
}

// Setup prepares the host, assigns the profile (with the callback kargs
// appended so the guest can call home) and transitions to prepared.
func (j *Job) Setup() error {
	j.highMu.Lock()
	defer j.highMu.Unlock()

	if s := j.State(); s != models.StateOpen {
		return fmt.Errorf("can not setup job %s in state %s: %w", j.Cookie, s, ErrPrecondition)
	}

	j.logger.Info().Str("job", j.Cookie).Msg("Setting up job")
	j.state.Set(models.StatePreparing)

	j.logger.Debug().Str("host", j.Host.Name()).Msg("Preparing host")
	if err := j.Host.Prepare(); err != nil {
		j.state.Set(models.StateOpen)
		return fmt.Errorf("prepare host %s: %w", j.Host.Name(), err)
	}

	kargs := j.AdditionalKargs
	if j.callbackURL != "" {
		if kargs != "" {
			kargs += " "
		}
		kargs += fmt.Sprintf("igor_cookie=%s testjob=%s/testjob/%s", j.Cookie, j.callbackURL, j.Cookie)
	}
	j.logger.Debug().Str("profile", j.Profile.Name()).Msg("Assigning profile")
	if err := j.Profile.AssignTo(j.Host, kargs); err != nil {
		j.state.Set(models.StateOpen)
		return fmt.Errorf("assign profile %s: %w", j.Profile.Name(), err)
	}

	j.state.Set(models.StatePrepared)
	j.hooks.Run(HookPostSetup, j.Cookie)
	return nil
}

// Start boots the host and arms the timeout watchdog. The testsuite is
// expected to be gathered by the host, i.e. the host calls in to fetch it.
func (j *Job) Start() error {
	j.highMu.Lock()
	defer j.highMu.Unlock()

	if s := j.State(); s != models.StatePrepared {
		return fmt.Errorf("can not start job %s in state %s: %w", j.Cookie, s, ErrPrecondition)
	}

	j.logger.Debug().Str("job", j.Cookie).Msg("Starting job")
	j.state.Set(models.StateRunning)
	if err := j.Host.Start(); err != nil {
		return fmt.Errorf("start host %s: %w", j.Host.Name(), err)
	}
	j.startWatchdog()
	j.hooks.Run(HookPostStart, j.Cookie)
	return nil
}

// startWatchdog arms the cooperative timeout poller. It transitions the job
// to timedout under the high-level lock and self-terminates; it also
// self-terminates when the job ends through another path.
func (j *Job) startWatchdog() {
	var w *common.PollingWorker
	w = common.NewPollingWorker("watchdog-"+j.Cookie, j.watchdogInterval, j.logger, func() {
		if j.ReachedEndstate() {
			w.Stop()
			return
		}
		j.logger.Debug().Str("job", j.Cookie).
			Float64("runtime", j.Runtime()).
			Int("allowed", j.AllowedTimeUpToCurrentTestcase()).
			Msg("Watchdog check")
		if !j.IsTimedOut() {
			return
		}
		j.highMu.Lock()
		if !j.ReachedEndstate() {
			j.logger.Debug().Str("job", j.Cookie).Msg("Watchdog: job timed out")
			j.state.Set(models.StateTimedout)
		}
		j.highMu.Unlock()
		w.Stop()
	})
	j.watchdog = w
	w.Start()
}

func (j *Job) stopWatchdog() {
	if j.watchdog != nil {
		j.watchdog.Stop()
	}
}

// FinishStep finishes one test step. n must equal the current step.
func (j *Job) FinishStep(n int, isSuccess bool, note string, isAbort, isSkipped bool) error {
	j.highMu.Lock()
	defer j.highMu.Unlock()
	return j.finishStepLocked(n, isSuccess, note, isAbort, isSkipped)
}

// finishStepLocked assumes the high-level lock is held. Abort goes through
// here as well, which is why the lock is taken one level up.
func (j *Job) finishStepLocked(n int, isSuccess bool, note string, isAbort, isSkipped bool) error {
	j.logger.Debug().Str("job", j.Cookie).Int("step", n).Bool("success", isSuccess).
		Str("note", note).Msg("Finishing step")

	if s := j.State(); s != models.StateRunning {
		return fmt.Errorf("can not finish step %d of job %s, it is not running anymore (%s): %w",
			n, j.Cookie, s, ErrPrecondition)
	}

	j.mu.Lock()
	current := j.currentStep
	j.mu.Unlock()

	if current != n {
		return fmt.Errorf("expected step %d to finish, not %d: %w", current, n, ErrPrecondition)
	}
	testcases := j.Testsuite.Testcases()
	if n >= len(testcases) {
		return fmt.Errorf("job %s has no step %d: %w", j.Cookie, n, ErrPrecondition)
	}

	lastTimestamp := j.createdAt
	j.mu.Lock()
	if len(j.results) > 0 {
		lastTimestamp = j.results[len(j.results)-1].CreatedAt
	}
	j.mu.Unlock()

	testcase := testcases[n]
	isPassed := isSuccess != testcase.ExpectFailure

	stepLog := suppressedLog
	if !isPassed {
		if data, err := j.GetArtifact(fmt.Sprintf("%d-log", n)); err == nil {
			stepLog = string(data)
		} else {
			stepLog = "(no log output)"
		}
	}

	annotations := ""
	if data, err := j.GetArtifact(fmt.Sprintf("%d-annotations.yaml", n)); err == nil {
		annotations = string(data)
	}

	now := time.Now()
	result := &models.StepResult{
		CreatedAt:   now,
		Testcase:    testcase,
		IsSuccess:   isSuccess,
		IsPassed:    isPassed,
		IsAbort:     isAbort,
		IsSkipped:   isSkipped,
		Note:        note,
		Runtime:     now.Sub(lastTimestamp).Seconds(),
		Log:         stepLog,
		Annotations: annotations,
	}
	j.mu.Lock()
	j.results = append(j.results, result)
	resultCount := len(j.results)
	j.mu.Unlock()

	switch {
	case isAbort:
		j.logger.Debug().Int("step", n).Str("testcase", testcase.Name).Msg("Aborting at step")
		j.state.Set(models.StateAborted)
	case isSkipped:
		j.logger.Debug().Int("step", n).Str("testcase", testcase.Name).Msg("Skipping step")
	case isSuccess:
		j.logger.Debug().Int("step", n).Str("testcase", testcase.Name).Msg("Finished step successfully")
	case testcase.ExpectFailure:
		j.logger.Info().Int("step", n).Str("testcase", testcase.Name).Msg("Finished step unsuccessful as expected")
	default:
		j.logger.Info().Int("step", n).Str("testcase", testcase.Name).Msg("Finished step unsuccessful")
		j.state.Set(models.StateFailed)
	}

	if resultCount == len(testcases) && isPassed && !j.ReachedEndstate() {
		j.state.Set(models.StatePassed)
	}

	if j.ReachedEndstate() {
		j.logger.Debug().Str("job", j.Cookie).Str("state", j.State().String()).Msg("Finished job")
		j.stopWatchdog()
	}

	j.hooks.Run(HookPostTestcase, j.Cookie)

	j.mu.Lock()
	j.currentStep++
	j.mu.Unlock()
	return nil
}

// failLaunch marks a job that could not be set up or started as failed, so
// the normal unwind path tears it down instead of leaving it stranded.
func (j *Job) failLaunch() {
	j.highMu.Lock()
	defer j.highMu.Unlock()
	if !j.ReachedEndstate() {
		j.state.Set(models.StateFailed)
	}
	j.stopWatchdog()
}

// Abort aborts a running test.
func (j *Job) Abort() error {
	j.highMu.Lock()
	defer j.highMu.Unlock()

	if s := j.State(); s != models.StateRunning {
		return fmt.Errorf("can not abort job %s, it is not running (%s): %w", j.Cookie, s, ErrPrecondition)
	}
	j.mu.Lock()
	current := j.currentStep
	j.mu.Unlock()
	return j.finishStepLocked(current, false, "aborted", true, false)
}

// Annotate appends a note to the annotations artifact of a step
// ("current" by default). Notes are stored as a YAML sequence.
func (j *Job) Annotate(note, step string, appendNote bool) error {
	filename := "annotations.yaml"
	switch step {
	case "current", "":
		j.mu.Lock()
		filename = fmt.Sprintf("%d-%s", j.currentStep, filename)
		j.mu.Unlock()
	default:
		filename = fmt.Sprintf("%s-%s", step, filename)
	}

	var notes []string
	if appendNote {
		if data, err := j.GetArtifact(filename); err == nil {
			if err := yaml.Unmarshal(data, &notes); err != nil {
				j.logger.Debug().Str("artifact", filename).Err(err).Msg("Starting new annotation list")
				notes = nil
			}
		}
	}
	notes = append(notes, note)

	data, err := yaml.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	if err := j.AddArtifact(filename, data); err != nil {
		return err
	}
	j.hooks.Run(HookPostAnnotate, j.Cookie)
	return nil
}

// End tears the job down: purge the host, revoke the profile, record the
// end time. Provider errors are logged, never propagated, so teardown
// always completes.
func (j *Job) End() error {
	j.highMu.Lock()
	defer j.highMu.Unlock()

	if s := j.State(); s != models.StateRunning && !s.IsEndState() {
		return fmt.Errorf("job %s can not yet be torn down (%s): %w", j.Cookie, s, ErrPrecondition)
	}

	j.logger.Debug().Str("job", j.Cookie).Msg("Tearing down job")
	j.stopWatchdog()

	if err := j.Host.Purge(); err != nil {
		j.logger.Error().Str("host", j.Host.Name()).Err(err).Msg("Host purge failed")
	}
	if err := j.Profile.RevokeFrom(j.Host); err != nil {
		j.logger.Error().Str("profile", j.Profile.Name()).Err(err).Msg("Profile revoke failed")
	}

	j.mu.Lock()
	j.ended = true
	j.endedAt = time.Now()
	j.mu.Unlock()

	j.hooks.Run(HookPostEnd, j.Cookie)
	return nil
}

// Ended reports whether End has completed, and when.
func (j *Job) Ended() (bool, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ended, j.endedAt
}

// Clean removes the session directory. Only legal after End.
func (j *Job) Clean() error {
	j.highMu.Lock()
	defer j.highMu.Unlock()

	j.mu.Lock()
	ended := j.ended
	j.mu.Unlock()
	if !ended {
		return fmt.Errorf("job %s was not ended yet: %w", j.Cookie, ErrPrecondition)
	}
	j.Session.Remove()
	return nil
}

// AddArtifact stores an artifact in the session and tracks its name.
func (j *Job) AddArtifact(name string, data []byte) error {
	if err := j.Session.AddArtifact(name, data); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), ErrPrecondition)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, a := range j.artifacts {
		if a == name {
			return nil
		}
	}
	j.artifacts = append(j.artifacts, name)
	return nil
}

// AddArtifactToCurrentStep stores an artifact under the current-step naming
// convention "<step>-<name>" and returns the scoped name.
func (j *Job) AddArtifactToCurrentStep(name string, data []byte) (string, error) {
	j.mu.Lock()
	scoped := fmt.Sprintf("%d-%s", j.currentStep, name)
	j.mu.Unlock()
	return scoped, j.AddArtifact(scoped, data)
}

// GetArtifact returns the content of an artifact.
func (j *Job) GetArtifact(name string) ([]byte, error) {
	return j.Session.Artifact(name)
}

// ListArtifacts returns the artifact names added so far.
func (j *Job) ListArtifacts() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.artifacts))
	copy(out, j.artifacts)
	return out
}

// ArtifactsArchive returns all tracked artifacts as a tar.bz2.
func (j *Job) ArtifactsArchive() ([]byte, error) {
	return j.Session.ArtifactsArchive(j.ListArtifacts())
}

// CurrentStep returns the index of the step awaiting a result.
func (j *Job) CurrentStep() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentStep
}

// Results returns the step results recorded so far.
func (j *Job) Results() []*models.StepResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.StepResult, len(j.results))
	copy(out, j.results)
	return out
}

// StepResult returns the result of one finished step.
func (j *Job) StepResult(n int) (*models.StepResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n < 0 || n >= len(j.results) {
		return nil, fmt.Errorf("job %s has no result for step %d: %w", j.Cookie, n, ErrPrecondition)
	}
	return j.results[n], nil
}

// Timeout is the maximum time the testing part of this job may consume, in
// seconds.
func (j *Job) Timeout() int {
	return j.Testsuite.Timeout()
}

// Runtime is the time the job ran or is running, in seconds. Before the job
// starts running it is 0.
func (j *Job) Runtime() float64 {
	started, ok := j.state.FirstEntered(models.StateRunning)
	if !ok {
		return 0
	}
	switch s := j.State(); {
	case s == models.StateRunning:
		return time.Since(started).Seconds()
	case s == models.StateTimedout, s == models.StateAborted:
		if ended, ok := j.state.FirstEntered(s); ok {
			return ended.Sub(started).Seconds()
		}
	case s.IsEndState():
		j.mu.Lock()
		defer j.mu.Unlock()
		if len(j.results) > 0 {
			return j.results[len(j.results)-1].CreatedAt.Sub(started).Seconds()
		}
	}
	return 0
}

// IsTimedOut reports whether more time has passed than the cumulative
// timeout budget up to and including the current testcase.
func (j *Job) IsTimedOut() bool {
	return j.Runtime() > float64(j.AllowedTimeUpToCurrentTestcase())
}

// AllowedTimeUpToCurrentTestcase is the sum of testcase timeouts from step
// 0 up to and including the current step, in seconds. This per-step
// cumulative budget is exactly what the watchdog enforces.
func (j *Job) AllowedTimeUpToCurrentTestcase() int {
	return timeoutForTestcases(j.Testsuite.Testcases(), j.CurrentStep())
}

// timeoutForTestcases sums the timeouts of testcases 0..cur inclusive.
func timeoutForTestcases(testcases []*models.Testcase, cur int) int {
	total := 0
	for i, tc := range testcases {
		if i > cur {
			break
		}
		total += tc.Timeout
	}
	return total
}

// Result derives the user-visible result label from the current state.
func (j *Job) Result() string {
	switch j.State() {
	case models.StatePassed:
		return "passed"
	case models.StateAborted:
		return "aborted"
	case models.StateTimedout:
		return "timedout"
	case models.StateFailed:
		return "failed"
	default:
		return "(no result, running)"
	}
}

// Snapshot is the serializable view of a job, rendered as JSON, XML or
// YAML by the HTTP layer.
type Snapshot struct {
	ID              string               `json:"id" yaml:"id"`
	Profile         string               `json:"profile" yaml:"profile"`
	Host            string               `json:"host" yaml:"host"`
	Testsuite       *models.Testsuite    `json:"testsuite" yaml:"testsuite"`
	State           models.State         `json:"state" yaml:"state"`
	IsEndstate      bool                 `json:"is_endstate" yaml:"is_endstate"`
	CurrentStep     int                  `json:"current_step" yaml:"current_step"`
	Results         []*models.StepResult `json:"results" yaml:"results"`
	Timeout         int                  `json:"timeout" yaml:"timeout"`
	Runtime         float64              `json:"runtime" yaml:"runtime"`
	CreatedAt       time.Time            `json:"created_at" yaml:"created_at"`
	Artifacts       []string             `json:"artifacts" yaml:"artifacts"`
	AdditionalKargs string               `json:"additional_kargs" yaml:"additional_kargs"`
}

// Snapshot captures the current job state for rendering.
func (j *Job) Snapshot() *Snapshot {
	state := j.State()
	return &Snapshot{
		ID:              j.Cookie,
		Profile:         j.Profile.Name(),
		Host:            j.Host.Name(),
		Testsuite:       j.Testsuite,
		State:           state,
		IsEndstate:      state.IsEndState(),
		CurrentStep:     j.CurrentStep(),
		Results:         j.Results(),
		Timeout:         j.Timeout(),
		Runtime:         j.Runtime(),
		CreatedAt:       j.createdAt,
		Artifacts:       j.ListArtifacts(),
		AdditionalKargs: j.AdditionalKargs,
	}
}
