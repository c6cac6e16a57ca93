package handlers

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/inventory"
)

// maxBundleBytes bounds a PUT profile bundle.
const maxBundleBytes = 512 << 20

// ProfileHandler serves /profiles and /hosts.
type ProfileHandler struct {
	inv    *inventory.Inventory
	logger arbor.ILogger
}

// NewProfileHandler creates the profile handler.
func NewProfileHandler(inv *inventory.Inventory, logger arbor.ILogger) *ProfileHandler {
	return &ProfileHandler{inv: inv, logger: logger}
}

// Handle dispatches /profiles requests.
func (h *ProfileHandler) Handle(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path)[1:] // strip leading "profiles"

	switch {
	case len(parts) == 0:
		h.handleList(w, r)
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPut:
			h.handleCreate(w, r, parts[0])
		case http.MethodDelete:
			h.handleDelete(w, r, parts[0])
		case http.MethodGet:
			h.handleEntity(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "kargs":
		h.handleKargs(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "unknown profile operation")
	}
}

// HandleHosts serves GET /hosts.
func (h *ProfileHandler) HandleHosts(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	items, err := h.inv.Items(inventory.CategoryHosts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	RenderResponse(w, r, names)
}

func (h *ProfileHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	items, err := h.inv.Items(inventory.CategoryProfiles)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	RenderResponse(w, r, names)
}

func (h *ProfileHandler) handleEntity(w http.ResponseWriter, r *http.Request, name string) {
	profile, err := h.inv.Profile(name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown profile: %s", name))
		return
	}
	kargs, _ := profile.Kargs("")
	RenderResponse(w, r, map[string]string{"name": profile.Name(), "kargs": kargs})
}

// handleCreate accepts a tar bundle holding kernel, initrd and kargs files
// and creates the profile from it. A bundle missing one of the three is a
// failed precondition.
func (h *ProfileHandler) handleCreate(w http.ResponseWriter, r *http.Request, name string) {
	files := map[string][]byte{}
	tr := tar.NewReader(io.LimitReader(r.Body, maxBundleBytes))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("read bundle: %v", err))
			return
		}
		base := path.Base(strings.TrimSuffix(hdr.Name, "/"))
		if base != hdr.Name {
			WriteError(w, http.StatusPreconditionFailed, "no paths allowed in bundle")
			return
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("read bundle entry %s: %v", hdr.Name, err))
			return
		}
		files[base] = data
	}

	for _, required := range []string{"kernel", "initrd", "kargs"} {
		if _, ok := files[required]; !ok {
			WriteError(w, http.StatusPreconditionFailed,
				"expecting kernel, initrd and kargs files in bundle")
			return
		}
	}

	if err := h.inv.CreateProfile(name, files["kernel"], files["initrd"], files["kargs"]); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Str("profile", name).Msg("Profile created from bundle")
	RenderResponse(w, r, map[string]string{"status": "created", "profile": name})
}

func (h *ProfileHandler) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	profile, err := h.inv.Profile(name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown profile: %s", name))
		return
	}
	if err := profile.Delete(); err != nil {
		h.logger.Warn().Str("profile", name).Err(err).Msg("Error while removing profile")
	}
	RenderResponse(w, r, map[string]string{"status": "deleted", "profile": name})
}

// handleKargs gets or replaces a profile's kernel arguments. New kargs must
// carry the {igor_cookie} placeholder so the guest can call back.
func (h *ProfileHandler) handleKargs(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	profile, err := h.inv.Profile(name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown profile: %s", name))
		return
	}

	kargs := r.FormValue("kargs")
	if kargs != "" && !strings.Contains(kargs, "{igor_cookie}") {
		WriteError(w, http.StatusPreconditionFailed,
			"{igor_cookie} not found in kargs, this is needed to initiate the callback, "+
				"e.g. boot_trigger=igor/testjob/{igor_cookie}")
		return
	}

	current, err := profile.Kargs(kargs)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, current)
}
