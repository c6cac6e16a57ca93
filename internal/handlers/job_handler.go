package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/inventory"
	"github.com/ternarybob/igor/internal/jobs"
	"github.com/ternarybob/igor/internal/models"
	"github.com/ternarybob/igor/internal/reports"
)

// maxArtifactBytes bounds artifact uploads.
const maxArtifactBytes = 32 << 20

// JobHandler serves everything under /jobs/.
type JobHandler struct {
	center *jobs.JobCenter
	inv    *inventory.Inventory
	logger arbor.ILogger
}

// NewJobHandler creates the job handler.
func NewJobHandler(center *jobs.JobCenter, inv *inventory.Inventory, logger arbor.ILogger) *JobHandler {
	return &JobHandler{center: center, inv: inv, logger: logger}
}

// Handle dispatches /jobs requests by path segments.
func (h *JobHandler) Handle(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path)[1:] // strip leading "jobs"

	switch {
	case len(parts) == 0:
		h.handleList(w, r)
	case parts[0] == "submit":
		h.handleSubmit(w, r, parts[1:])
	default:
		h.handleJob(w, r, parts[0], parts[1:])
	}
}

func (h *JobHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	all := map[string]*jobs.Snapshot{}
	for cookie, job := range h.center.Jobs() {
		all[cookie] = job.Snapshot()
	}
	RenderResponse(w, r, map[string]interface{}{
		"all":    all,
		"closed": h.center.ClosedJobs(),
	})
}

// handleSubmit serves /jobs/submit/<suite>/with/<profile>/on/<host>[/<cookie>].
func (h *JobHandler) handleSubmit(w http.ResponseWriter, r *http.Request, parts []string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if len(parts) < 5 || len(parts) > 6 || parts[1] != "with" || parts[3] != "on" {
		WriteError(w, http.StatusBadRequest, "expected submit/<testsuite>/with/<profile>/on/<host>")
		return
	}
	suiteName, profileName, hostName := parts[0], parts[2], parts[4]
	preferredCookie := ""
	if len(parts) == 6 {
		preferredCookie = parts[5]
	}

	suite, err := h.inv.ResolveTestsuite(suiteName)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	profile, err := h.inv.ResolveProfile(profileName)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	host, err := h.inv.ResolveHost(hostName)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	spec := &models.JobSpec{
		Testsuite:       suite,
		Profile:         profile,
		Host:            host,
		AdditionalKargs: r.URL.Query().Get("additional_kargs"),
	}
	cookie, err := h.center.Submit(spec, preferredCookie)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	job, err := h.center.GetJob(cookie)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, map[string]interface{}{
		"cookie": cookie,
		"job":    job.Snapshot(),
	})
}

func (h *JobHandler) handleJob(w http.ResponseWriter, r *http.Request, cookie string, parts []string) {
	job, err := h.center.GetJob(cookie)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodDelete:
			h.abort(w, r, job)
		case http.MethodGet:
			RenderResponse(w, r, job.Snapshot())
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[0] {
	case "start":
		if err := h.center.StartJob(job.Cookie); err != nil {
			WriteServiceError(w, err)
			return
		}
		RenderResponse(w, r, map[string]string{"status": "queued", "cookie": job.Cookie})
	case "status":
		RenderResponse(w, r, job.Snapshot())
	case "report":
		h.handleReport(w, r, job, parts[1:])
	case "step":
		h.handleStep(w, r, job, parts[1:])
	case "abort":
		h.abort(w, r, job)
	case "testsuite":
		archive, err := job.Testsuite.Archive(h.logger)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/x-bzip2")
		w.Write(archive)
	case "artifacts":
		h.handleArtifacts(w, r, job, parts[1:])
	case "archive":
		archive, err := job.ArtifactsArchive()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/x-bzip2")
		w.Write(archive)
	case "set":
		h.handleSet(w, r, job, parts[1:])
	default:
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown job operation: %s", parts[0]))
	}
}

func (h *JobHandler) abort(w http.ResponseWriter, r *http.Request, job *jobs.Job) {
	if err := job.Abort(); err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, map[string]string{"status": "aborted", "cookie": job.Cookie})
}

func (h *JobHandler) handleReport(w http.ResponseWriter, r *http.Request, job *jobs.Job, parts []string) {
	if len(parts) == 1 && parts[0] == "junit" {
		report, err := reports.JobJUnit(job.Snapshot())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write(report)
		return
	}
	report, err := reports.JobReport(job.Snapshot())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, report)
}

// handleStep serves step/<n>/{skip,success,failed,result} and
// step/current/annotate.
func (h *JobHandler) handleStep(w http.ResponseWriter, r *http.Request, job *jobs.Job, parts []string) {
	if len(parts) != 2 {
		WriteError(w, http.StatusBadRequest, "expected step/<n>/<operation>")
		return
	}

	if parts[0] == "current" && parts[1] == "annotate" {
		h.handleAnnotate(w, r, job)
		return
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("not a step number: %s", parts[0]))
		return
	}

	note := r.URL.Query().Get("note")
	switch parts[1] {
	case "skip":
		err = h.center.SkipTestStep(job.Cookie, n, note)
	case "success":
		err = h.center.FinishTestStep(job.Cookie, n, true, note)
	case "failed":
		err = h.center.FinishTestStep(job.Cookie, n, false, note)
	case "result":
		result, rerr := h.center.TestStepResult(job.Cookie, n)
		if rerr != nil {
			WriteServiceError(w, rerr)
			return
		}
		RenderResponse(w, r, result)
		return
	default:
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown step operation: %s", parts[1]))
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, job.Snapshot())
}

func (h *JobHandler) handleAnnotate(w http.ResponseWriter, r *http.Request, job *jobs.Job) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxArtifactBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := job.Annotate(string(body), "current", true); err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, map[string]string{"status": "annotated"})
}

func (h *JobHandler) handleArtifacts(w http.ResponseWriter, r *http.Request, job *jobs.Job, parts []string) {
	switch len(parts) {
	case 0:
		RenderResponse(w, r, job.ListArtifacts())
	case 1:
		name := parts[0]
		switch r.Method {
		case http.MethodPut:
			data, err := io.ReadAll(io.LimitReader(r.Body, maxArtifactBytes))
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			scoped, err := job.AddArtifactToCurrentStep(name, data)
			if err != nil {
				WriteServiceError(w, err)
				return
			}
			RenderResponse(w, r, map[string]string{"name": scoped})
		case http.MethodGet:
			data, err := job.GetArtifact(name)
			if err != nil {
				WriteError(w, http.StatusNotFound, err.Error())
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write(data)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		WriteError(w, http.StatusBadRequest, "expected artifacts[/<name>]")
	}
}

// handleSet serves set/enable_pxe/<bool> and set/kernelargs/<args>.
func (h *JobHandler) handleSet(w http.ResponseWriter, r *http.Request, job *jobs.Job, parts []string) {
	if len(parts) != 2 {
		WriteError(w, http.StatusBadRequest, "expected set/<property>/<value>")
		return
	}
	switch parts[0] {
	case "enable_pxe":
		enable, err := strconv.ParseBool(parts[1])
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("not a bool: %s", parts[1]))
			return
		}
		if err := job.Profile.EnablePXE(job.Host, enable); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		RenderResponse(w, r, map[string]bool{"pxe": enable})
	case "kernelargs":
		kargs, err := url.PathUnescape(parts[1])
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		current, err := job.Profile.Kargs(kargs)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		RenderResponse(w, r, map[string]string{"kargs": current})
	default:
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown property: %s", parts[0]))
	}
}
