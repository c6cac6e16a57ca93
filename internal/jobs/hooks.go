package jobs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/igor/internal/common"
)

// Hook names the daemon fires at lifecycle points.
const (
	HookPreJob       = "pre-job"
	HookPostJob      = "post-job"
	HookPostTestcase = "post-testcase"
	HookPostSetup    = "post-setup"
	HookPostStart    = "post-start"
	HookPostAnnotate = "post-annotate"
	HookPostEnd      = "post-end"
)

var allowedHooks = map[string]bool{
	HookPreJob:       true,
	HookPostJob:      true,
	HookPostTestcase: true,
	HookPostSetup:    true,
	HookPostStart:    true,
	HookPostAnnotate: true,
	HookPostEnd:      true,
}

// EventPublisher receives every lifecycle hook event for broadcast to
// subscribers.
type EventPublisher interface {
	Publish(hook, cookie string)
}

// HookRunner invokes external scripts at lifecycle points. Every file in
// the hooks directory is executed with two arguments: the hook name and the
// job cookie. Hook failures are logged and swallowed; they never change job
// state. Spawning is rate limited so a hot loop cannot fork-bomb the box.
type HookRunner struct {
	path      string
	limiter   *rate.Limiter
	spawnWait time.Duration
	publisher EventPublisher
	logger    arbor.ILogger
}

// NewHookRunner creates a runner for the given hooks directory. An empty
// path disables script execution; events are still published.
func NewHookRunner(path string, spawnsPerSec float64, burst int, spawnWait time.Duration, publisher EventPublisher, logger arbor.ILogger) *HookRunner {
	if spawnsPerSec <= 0 {
		spawnsPerSec = 10
	}
	if burst <= 0 {
		burst = 20
	}
	if spawnWait <= 0 {
		spawnWait = 5 * time.Second
	}
	return &HookRunner{
		path:      path,
		limiter:   rate.NewLimiter(rate.Limit(spawnsPerSec), burst),
		spawnWait: spawnWait,
		publisher: publisher,
		logger:    logger,
	}
}

// Run fires one lifecycle hook. Unknown hook names log a warning and do
// nothing.
func (h *HookRunner) Run(hook, cookie string) {
	if !allowedHooks[hook] {
		h.logger.Warn().Str("hook", hook).Msg("Unknown hook")
		return
	}

	if h.publisher != nil {
		h.publisher.Publish(hook, cookie)
	}

	if h.path == "" {
		return
	}
	entries, err := os.ReadDir(h.path)
	if err != nil {
		h.logger.Debug().Str("path", h.path).Err(err).Msg("Hooks directory not readable")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		script := filepath.Join(h.path, entry.Name())
		common.SafeGo(h.logger, "hook-"+hook, func() {
			h.spawn(script, hook, cookie)
		})
	}
}

func (h *HookRunner) spawn(script, hook, cookie string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.spawnWait)
	defer cancel()
	if err := h.limiter.Wait(ctx); err != nil {
		h.logger.Warn().Str("hook", hook).Str("script", script).Msg("Hook spawn rate limited, dropped")
		return
	}

	h.logger.Debug().Str("hook", hook).Str("script", script).Str("cookie", cookie).Msg("Running hook")
	cmd := exec.Command(script, hook, cookie)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.logger.Warn().Str("hook", hook).Str("script", script).Err(err).
			Str("output", string(out)).Msg("Hook failed")
	}
}
