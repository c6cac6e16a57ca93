package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/inventory"
	"github.com/ternarybob/igor/internal/models"
)

// TestsuiteHandler serves /testsuites and the testcase source route.
type TestsuiteHandler struct {
	inv    *inventory.Inventory
	logger arbor.ILogger
}

// NewTestsuiteHandler creates the testsuite handler.
func NewTestsuiteHandler(inv *inventory.Inventory, logger arbor.ILogger) *TestsuiteHandler {
	return &TestsuiteHandler{inv: inv, logger: logger}
}

// Handle dispatches /testsuites requests.
func (h *TestsuiteHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path)[1:] // strip leading "testsuites"

	switch {
	case len(parts) == 0:
		h.handleList(w, r)
	case len(parts) == 1 && parts[0] == "validate":
		h.handleValidate(w, r)
	case len(parts) == 2 && parts[1] == "summary":
		h.handleSummary(w, r, parts[0])
	case (len(parts) == 2 || len(parts) == 3) && parts[1] == "download":
		h.handleDownload(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "unknown testsuite operation")
	}
}

func (h *TestsuiteHandler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.inv.Items(inventory.CategoryTestsuites)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RenderResponse(w, r, items)
}

func (h *TestsuiteHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	items, err := h.inv.Items(inventory.CategoryTestsuites)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := map[string]bool{}
	for name, item := range items {
		suite, ok := item.(*models.Testsuite)
		results[name] = ok && suite.Validate()
	}
	RenderResponse(w, r, results)
}

func (h *TestsuiteHandler) handleSummary(w http.ResponseWriter, r *http.Request, name string) {
	suite, err := h.lookup(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	RenderResponse(w, r, suite)
}

func (h *TestsuiteHandler) handleDownload(w http.ResponseWriter, r *http.Request, name string) {
	suite, err := h.lookup(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	archive, err := suite.Archive(h.logger)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-tar; charset=binary")
	w.Write(archive)
}

func (h *TestsuiteHandler) lookup(name string) (*models.Testsuite, error) {
	suite, err := h.inv.Testsuite(name)
	if err != nil {
		return nil, err
	}
	if suite == nil {
		return nil, fmt.Errorf("unknown testsuite: %s", name)
	}
	return suite, nil
}

// HandleTestcaseSource serves /testcases/<suite>/<set>/<case>/source: the
// raw script body of one testcase.
func (h *TestsuiteHandler) HandleTestcaseSource(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path)[1:] // strip leading "testcases"
	if len(parts) != 4 || parts[3] != "source" {
		WriteError(w, http.StatusBadRequest, "expected testcases/<suite>/<set>/<case>/source")
		return
	}
	suiteName, setName, caseName := parts[0], parts[1], parts[2]

	suite, err := h.lookup(suiteName)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	for _, set := range suite.Testsets {
		if set.Name != setName {
			continue
		}
		for _, testcase := range set.Testcases {
			if testcase.Name != caseName {
				continue
			}
			source, err := testcase.Source()
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write(source)
			return
		}
	}
	WriteError(w, http.StatusNotFound,
		fmt.Sprintf("unknown testcase: %s/%s/%s", suiteName, setName, caseName))
}
