package server

import (
	"net/http"

	"github.com/ternarybob/igor/internal/handlers"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", handlers.HandleIndex)

	// Job lifecycle and the guest-facing callback surface
	mux.HandleFunc("/jobs", s.handlers.Jobs.Handle)
	mux.HandleFunc("/jobs/", s.handlers.Jobs.Handle)
	mux.HandleFunc("/testjob/", s.handlers.Bootstrap.Handle)

	// Inventory entities
	mux.HandleFunc("/testsuites", s.handlers.Testsuites.Handle)
	mux.HandleFunc("/testsuites/", s.handlers.Testsuites.Handle)
	mux.HandleFunc("/testcases/", s.handlers.Testsuites.HandleTestcaseSource)
	mux.HandleFunc("/testplans", s.handlers.Testplans.Handle)
	mux.HandleFunc("/testplans/", s.handlers.Testplans.Handle)
	mux.HandleFunc("/profiles", s.handlers.Profiles.Handle)
	mux.HandleFunc("/profiles/", s.handlers.Profiles.Handle)
	mux.HandleFunc("/hosts", s.handlers.Profiles.HandleHosts)

	// Lifecycle event stream over websocket
	if s.handlers.Events != nil {
		mux.Handle("/events", s.handlers.Events)
	}

	return mux
}
