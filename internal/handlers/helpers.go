package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/igor/internal/jobs"
)

const xmlStylesheet = "<?xml-stylesheet type='text/xsl' href='/ui/index.xsl' ?>"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps typed job errors to their status codes: not-found
// to 404, failed preconditions to 412, anything else to 500.
func WriteServiceError(w http.ResponseWriter, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrPrecondition):
		status = http.StatusPreconditionFailed
	}
	return WriteError(w, status, err.Error())
}

// RenderResponse writes data as JSON, or as XML/YAML when the request asks
// for it with ?format=xml or ?format=yaml. The XML rendering carries a
// stylesheet header so a browser can format it.
func RenderResponse(w http.ResponseWriter, r *http.Request, data interface{}) error {
	switch r.URL.Query().Get("format") {
	case "xml":
		w.Header().Set("Content-Type", "text/xml")
		body, err := obj2xml("status", data)
		if err != nil {
			return WriteError(w, http.StatusInternalServerError, err.Error())
		}
		fmt.Fprintf(w, "<?xml version=\"1.0\"?>\n%s\n%s", xmlStylesheet, body)
		return nil
	case "yaml":
		w.Header().Set("Content-Type", "text/yaml")
		body, err := yaml.Marshal(data)
		if err != nil {
			return WriteError(w, http.StatusInternalServerError, err.Error())
		}
		_, err = w.Write(body)
		return err
	default:
		return WriteJSON(w, http.StatusOK, data)
	}
}

// obj2xml renders an arbitrary value as nested XML elements. The value is
// normalized through JSON first so only maps, slices and scalars remain.
func obj2xml(root string, data interface{}) (string, error) {
	normalized, err := normalize(data)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeXML(&b, root, normalized)
	return b.String(), nil
}

func normalize(data interface{}) (interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalize for xml: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize for xml: %w", err)
	}
	return out, nil
}

func writeXML(b *strings.Builder, tag string, value interface{}) {
	tag = sanitizeTag(tag)
	switch v := value.(type) {
	case map[string]interface{}:
		fmt.Fprintf(b, "<%s>", tag)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeXML(b, k, v[k])
		}
		fmt.Fprintf(b, "</%s>", tag)
	case []interface{}:
		fmt.Fprintf(b, "<%s>", tag)
		for _, item := range v {
			writeXML(b, "item", item)
		}
		fmt.Fprintf(b, "</%s>", tag)
	case nil:
		fmt.Fprintf(b, "<%s/>", tag)
	default:
		fmt.Fprintf(b, "<%s>%s</%s>", tag, escapeXML(fmt.Sprintf("%v", v)), tag)
	}
}

func sanitizeTag(tag string) string {
	tag = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, tag)
	if tag == "" || (tag[0] >= '0' && tag[0] <= '9') {
		tag = "_" + tag
	}
	return tag
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}

// pathParts splits a request path into its non-empty segments.
func pathParts(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
