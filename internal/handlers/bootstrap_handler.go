package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/jobs"
)

// clientBootstrap is the shell script a freshly booted guest fetches and
// runs. It pulls the testsuite archive, runs the testcases in order and
// reports each step back. The ${igor_*} tokens are substituted per job.
const clientBootstrap = `#!/bin/sh
# Boot-time test runner, fetched from the daemon by the booted guest.

set -u

IGOR_COOKIE="${igor_cookie}"
IGOR_CURRENT_STEP="${igor_current_step}"
IGOR_TESTSUITE="${igor_testsuite}"
APIURL="${igor_base_url}"

WORKDIR="$(mktemp -d /tmp/igor-XXXXXX)"
cd "$WORKDIR"

api() {
    curl --silent --fail "$APIURL/$1"
}

put_artifact() {
    curl --silent --fail --upload-file "$2" "$APIURL/jobs/$IGOR_COOKIE/artifacts/$1"
}

api "jobs/$IGOR_COOKIE/testsuite" > testsuite.tar.bz2
tar xjf testsuite.tar.bz2

step=$IGOR_CURRENT_STEP
for testcase in testcases/$step-*
do
    [ -f "$testcase" ] || continue
    logfile="$WORKDIR/$step.log"

    sh "$testcase" > "$logfile" 2>&1
    result=$?

    put_artifact "log" "$logfile"
    if [ $result -eq 0 ]
    then
        api "jobs/$IGOR_COOKIE/step/$step/success"
    else
        api "jobs/$IGOR_COOKIE/step/$step/failed"
    fi
    step=$((step + 1))
done
`

// BootstrapHandler serves /testjob/<cookie>: the per-job bootstrap script.
// Serving the script disables PXE for the host first so the next reboot
// comes up from disk.
type BootstrapHandler struct {
	center  *jobs.JobCenter
	baseURL string
	logger  arbor.ILogger
}

// NewBootstrapHandler creates the bootstrap handler. baseURL is the address
// the guest reaches the daemon on.
func NewBootstrapHandler(center *jobs.JobCenter, baseURL string, logger arbor.ILogger) *BootstrapHandler {
	return &BootstrapHandler{center: center, baseURL: baseURL, logger: logger}
}

// Handle dispatches /testjob/<cookie>.
func (h *BootstrapHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path)[1:] // strip leading "testjob"
	if len(parts) != 1 {
		WriteError(w, http.StatusBadRequest, "expected testjob/<cookie>")
		return
	}

	job, err := h.center.GetJob(parts[0])
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := job.Profile.EnablePXE(job.Host, false); err != nil {
		h.logger.Warn().Str("job", job.Cookie).Err(err).Msg("Failed to disable PXE")
	}

	script := strings.NewReplacer(
		"${igor_cookie}", job.Cookie,
		"${igor_current_step}", strconv.Itoa(job.CurrentStep()),
		"${igor_testsuite}", job.Testsuite.Name,
		"${igor_base_url}", h.baseURL,
	).Replace(clientBootstrap)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(script))
}
