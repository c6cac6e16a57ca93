package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/models"
)

func basicLayout(host string) *models.JobLayout {
	return &models.JobLayout{
		Testsuite: models.LayoutField{Name: "basic"},
		Profile:   models.LayoutField{Name: "aprofile"},
		Host:      models.LayoutField{Name: host},
	}
}

// driveTicks runs the center worker loop until the test ends.
func driveTicks(t *testing.T, jc *JobCenter) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				jc.tick()
			}
		}
	}()
}

func planStopped(jc *JobCenter, name string) func() bool {
	return func() bool {
		status, err := jc.StatusPlan(name)
		return err == nil && status.Status == "stopped"
	}
}

func TestPlanRun(t *testing.T) {
	t.Run("empty plan finishes passed", func(t *testing.T) {
		jc := newTestCenter(t, Options{})
		plan := models.NewTestplan("empty")

		require.NoError(t, jc.SubmitPlan(plan, nil))
		waitFor(t, "plan to stop", planStopped(jc, "empty"))

		status, err := jc.StatusPlan("empty")
		require.NoError(t, err)
		assert.True(t, status.Passed)
		assert.Empty(t, status.Jobs)
	})

	t.Run("all layouts pass", func(t *testing.T) {
		jc := newTestCenter(t, Options{CleanupAge: time.Hour})
		driveTicks(t, jc)
		plan := models.NewTestplan("aplan", basicLayout("h1"), basicLayout("h2"))

		require.NoError(t, jc.SubmitPlan(plan, nil))

		// Play the guest for each job in turn.
		for finished := 0; finished < 2; finished++ {
			var cookie string
			waitFor(t, "next plan job to run", func() bool {
				for c, job := range jc.Jobs() {
					if job.State() == models.StateRunning {
						cookie = c
						return true
					}
				}
				return false
			})
			require.NoError(t, jc.FinishTestStep(cookie, 0, true, ""))
		}

		waitFor(t, "plan to stop", planStopped(jc, "aplan"))
		status, err := jc.StatusPlan("aplan")
		require.NoError(t, err)
		assert.True(t, status.Passed)
		require.Len(t, status.Jobs, 2)
		assert.Equal(t, models.StatePassed, status.Jobs[0].State)
		assert.Equal(t, models.StatePassed, status.Jobs[1].State)
		assert.GreaterOrEqual(t, status.PlanID, 100)
	})

	t.Run("failed job fails the plan but later layouts still run", func(t *testing.T) {
		jc := newTestCenter(t, Options{CleanupAge: time.Hour})
		driveTicks(t, jc)
		plan := models.NewTestplan("failing", basicLayout("h1"), basicLayout("h2"))

		require.NoError(t, jc.SubmitPlan(plan, nil))

		results := []bool{false, true}
		for _, success := range results {
			var cookie string
			waitFor(t, "next plan job to run", func() bool {
				for c, job := range jc.Jobs() {
					if job.State() == models.StateRunning {
						cookie = c
						return true
					}
				}
				return false
			})
			require.NoError(t, jc.FinishTestStep(cookie, 0, success, ""))
			waitFor(t, "plan job to end", func() bool {
				job, err := jc.GetJob(cookie)
				if err != nil {
					return false
				}
				ended, _ := job.Ended()
				return ended
			})
		}

		waitFor(t, "plan to stop", planStopped(jc, "failing"))
		status, err := jc.StatusPlan("failing")
		require.NoError(t, err)
		assert.False(t, status.Passed)
		require.Len(t, status.Jobs, 2)
		assert.Equal(t, models.StateFailed, status.Jobs[0].State)
		assert.Equal(t, models.StatePassed, status.Jobs[1].State)
	})
}

func TestPlanSubmitPreconditions(t *testing.T) {
	t.Run("one run per plan name", func(t *testing.T) {
		jc := newTestCenter(t, Options{})
		driveTicks(t, jc)
		plan := models.NewTestplan("solo", basicLayout("h1"))
		require.NoError(t, jc.SubmitPlan(plan, nil))

		err := jc.SubmitPlan(models.NewTestplan("solo", basicLayout("h1")), nil)
		assert.ErrorIs(t, err, ErrPrecondition)
	})

	t.Run("unresolved variables are rejected up front", func(t *testing.T) {
		jc := newTestCenter(t, Options{})
		plan := models.NewTestplan("broken", &models.JobLayout{
			Testsuite: models.LayoutField{Name: "{nosuchvar}"},
			Profile:   models.LayoutField{Name: "aprofile"},
			Host:      models.LayoutField{Name: "h1"},
		})
		err := jc.SubmitPlan(plan, nil)
		require.ErrorIs(t, err, ErrPrecondition)
		assert.Contains(t, err.Error(), "could not be substituted")

		// Nothing was queued and no job exists.
		assert.Empty(t, jc.Jobs())
		_, err = jc.StatusPlan("broken")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("submit variables reach the layouts", func(t *testing.T) {
		jc := newTestCenter(t, Options{})
		driveTicks(t, jc)
		plan := models.NewTestplan("vars", &models.JobLayout{
			Testsuite: models.LayoutField{Name: "{suite}"},
			Profile:   models.LayoutField{Name: "aprofile"},
			Host:      models.LayoutField{Name: "h1"},
		})
		require.NoError(t, jc.SubmitPlan(plan, map[string]string{"suite": "basic"}))

		var cookie string
		waitFor(t, "plan job to run", func() bool {
			for c, job := range jc.Jobs() {
				if job.State() == models.StateRunning {
					cookie = c
					return true
				}
			}
			return false
		})
		job, err := jc.GetJob(cookie)
		require.NoError(t, err)
		assert.Equal(t, "basic", job.Testsuite.Name)
		require.NoError(t, jc.FinishTestStep(cookie, 0, true, ""))
		waitFor(t, "plan to stop", planStopped(jc, "vars"))
	})
}

func TestPlanAbort(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		jc := newTestCenter(t, Options{})
		assert.ErrorIs(t, jc.AbortPlan("nosuch"), ErrPrecondition)
	})

	t.Run("aborts the current job and skips the rest", func(t *testing.T) {
		jc := newTestCenter(t, Options{CleanupAge: time.Hour})
		driveTicks(t, jc)
		plan := models.NewTestplan("abortme", basicLayout("h1"), basicLayout("h2"))

		require.NoError(t, jc.SubmitPlan(plan, nil))
		var cookie string
		waitFor(t, "first plan job to run", func() bool {
			for c, job := range jc.Jobs() {
				if job.State() == models.StateRunning {
					cookie = c
					return true
				}
			}
			return false
		})

		require.NoError(t, jc.AbortPlan("abortme"))
		waitFor(t, "plan to stop", planStopped(jc, "abortme"))

		status, err := jc.StatusPlan("abortme")
		require.NoError(t, err)
		assert.False(t, status.Passed)
		// Only the first layout produced a job.
		require.Len(t, status.Jobs, 1)
		assert.Equal(t, models.StateAborted, status.Jobs[0].State)

		job, err := jc.GetJob(cookie)
		require.NoError(t, err)
		assert.Equal(t, models.StateAborted, job.State())
	})
}
