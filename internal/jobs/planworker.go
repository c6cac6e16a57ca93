package jobs

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/models"
)

// PlanJobStatus is the outcome of one plan layout.
type PlanJobStatus struct {
	Cookie string       `json:"cookie" yaml:"cookie"`
	State  models.State `json:"state" yaml:"state"`
	Error  string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// PlanStatus is the serializable view of a plan run.
type PlanStatus struct {
	Name      string           `json:"name" yaml:"name"`
	PlanID    int              `json:"planid" yaml:"planid"`
	Status    string           `json:"status" yaml:"status"` // "running" or "stopped"
	Passed    bool             `json:"passed" yaml:"passed"`
	Jobs      []*PlanJobStatus `json:"jobs" yaml:"jobs"`
	CreatedAt time.Time        `json:"created_at" yaml:"created_at"`
}

// PlanWorker runs the layouts of one plan in sequence, each layout as one
// job. Layouts are resolved one at a time, right before their job is
// created, so later layouts see the world as earlier jobs left it.
type PlanWorker struct {
	plan     *models.Testplan
	center   *JobCenter
	resolver models.PlanResolver
	logger   arbor.ILogger

	mu        sync.Mutex
	stopped   bool
	current   string // cookie of the job currently running
	jobs      []*PlanJobStatus
	done      bool
	passed    bool
	createdAt time.Time
}

func newPlanWorker(plan *models.Testplan, center *JobCenter, resolver models.PlanResolver, logger arbor.ILogger) *PlanWorker {
	return &PlanWorker{
		plan:      plan,
		center:    center,
		resolver:  resolver,
		logger:    logger,
		createdAt: time.Now(),
	}
}

// run executes the plan in the background and calls finished with the final
// status once every layout ran or the plan was aborted.
func (w *PlanWorker) run(finished func(*PlanStatus)) {
	common.SafeGo(w.logger, "plan-"+w.plan.Name, func() {
		allPassed := true

		for n, layout := range w.plan.JobLayouts {
			if w.isStopped() {
				w.logger.Info().Str("plan", w.plan.Name).Int("layout", n).Msg("Plan stopped, remaining layouts skipped")
				allPassed = false
				break
			}

			status := &PlanJobStatus{}
			w.mu.Lock()
			w.jobs = append(w.jobs, status)
			w.mu.Unlock()

			spec, err := w.plan.SpecFromLayout(layout, w.resolver, w.logger)
			if err != nil {
				w.logger.Error().Str("plan", w.plan.Name).Int("layout", n).Err(err).Msg("Layout can not be resolved")
				w.setError(status, err.Error())
				allPassed = false
				break
			}

			cookie, err := w.center.Submit(spec, "")
			if err != nil {
				w.setError(status, err.Error())
				allPassed = false
				break
			}
			w.mu.Lock()
			status.Cookie = cookie
			w.current = cookie
			w.mu.Unlock()

			if err := w.center.StartJob(cookie); err != nil {
				w.setError(status, err.Error())
				allPassed = false
				break
			}

			job, err := w.center.GetJob(cookie)
			if err != nil {
				w.setError(status, err.Error())
				allPassed = false
				break
			}
			job.Wait()

			state := job.State()
			w.mu.Lock()
			status.State = state
			w.current = ""
			w.mu.Unlock()
			w.logger.Info().Str("plan", w.plan.Name).Str("job", cookie).
				Str("state", state.String()).Msg("Plan job finished")
			if state != models.StatePassed {
				allPassed = false
			}
		}

		w.mu.Lock()
		w.done = true
		w.passed = allPassed
		w.mu.Unlock()
		w.logger.Info().Str("plan", w.plan.Name).Bool("passed", allPassed).Msg("Plan finished")
		finished(w.Status())
	})
}

// Abort stops the plan. The currently running job is aborted; layouts not
// yet started stay that way.
func (w *PlanWorker) Abort() {
	w.mu.Lock()
	w.stopped = true
	current := w.current
	w.mu.Unlock()

	w.logger.Info().Str("plan", w.plan.Name).Msg("Aborting plan")
	if current != "" {
		if err := w.center.AbortJob(current); err != nil {
			w.logger.Warn().Str("plan", w.plan.Name).Str("job", current).Err(err).Msg("Failed to abort plan job")
		}
	}
}

func (w *PlanWorker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *PlanWorker) setError(status *PlanJobStatus, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	status.Error = msg
}

// Status snapshots the plan run.
func (w *PlanWorker) Status() *PlanStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := make([]*PlanJobStatus, 0, len(w.jobs))
	for _, j := range w.jobs {
		copied := *j
		jobs = append(jobs, &copied)
	}
	status := "running"
	if w.done {
		status = "stopped"
	}
	return &PlanStatus{
		Name:      w.plan.Name,
		PlanID:    w.plan.PlanID,
		Status:    status,
		Passed:    w.done && w.passed,
		Jobs:      jobs,
		CreatedAt: w.createdAt,
	}
}
