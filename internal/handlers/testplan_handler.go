package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/inventory"
	"github.com/ternarybob/igor/internal/jobs"
	"github.com/ternarybob/igor/internal/models"
	"github.com/ternarybob/igor/internal/reports"
)

// TestplanHandler serves /testplans.
type TestplanHandler struct {
	center *jobs.JobCenter
	inv    *inventory.Inventory
	logger arbor.ILogger
}

// NewTestplanHandler creates the testplan handler.
func NewTestplanHandler(center *jobs.JobCenter, inv *inventory.Inventory, logger arbor.ILogger) *TestplanHandler {
	return &TestplanHandler{center: center, inv: inv, logger: logger}
}

// Handle dispatches /testplans requests.
func (h *TestplanHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path)[1:] // strip leading "testplans"

	switch {
	case len(parts) == 0:
		h.handleList(w, r)
	case len(parts) == 1:
		h.handleEntity(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "submit":
		h.handleSubmit(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "abort":
		h.handleAbort(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		h.handleStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "report":
		h.handleReport(w, r, parts[0], false)
	case len(parts) == 3 && parts[1] == "report" && parts[2] == "junit":
		h.handleReport(w, r, parts[0], true)
	default:
		WriteError(w, http.StatusNotFound, "unknown testplan operation")
	}
}

func (h *TestplanHandler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.inv.Items(inventory.CategoryPlans)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RenderResponse(w, r, items)
}

func (h *TestplanHandler) lookup(name string) (*models.Testplan, error) {
	plan, err := h.inv.Testplan(name)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("unknown plan: %s", name)
	}
	return plan, nil
}

func (h *TestplanHandler) handleEntity(w http.ResponseWriter, r *http.Request, name string) {
	plan, err := h.lookup(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	RenderResponse(w, r, plan)
}

// handleSubmit starts a plan run. Query parameters become plan variables.
func (h *TestplanHandler) handleSubmit(w http.ResponseWriter, r *http.Request, name string) {
	plan, err := h.lookup(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	variables := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			variables[k] = vs[0]
		}
	}
	delete(variables, "format")

	if err := h.center.SubmitPlan(plan, variables); err != nil {
		WriteServiceError(w, err)
		return
	}
	status, err := h.center.StatusPlan(name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, status)
}

func (h *TestplanHandler) handleAbort(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.center.AbortPlan(name); err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, map[string]string{"status": "aborting", "plan": name})
}

func (h *TestplanHandler) handleStatus(w http.ResponseWriter, r *http.Request, name string) {
	status, err := h.center.StatusPlan(name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	RenderResponse(w, r, status)
}

func (h *TestplanHandler) handleReport(w http.ResponseWriter, r *http.Request, name string, junit bool) {
	status, err := h.center.StatusPlan(name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	if junit {
		var snapshots []*jobs.Snapshot
		for _, planJob := range status.Jobs {
			if planJob.Cookie == "" {
				continue
			}
			if job, err := h.center.GetJob(planJob.Cookie); err == nil {
				snapshots = append(snapshots, job.Snapshot())
			}
		}
		report, err := reports.PlanJUnit(status, snapshots)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write(report)
		return
	}

	report, err := reports.PlanReport(status)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, report)
}
