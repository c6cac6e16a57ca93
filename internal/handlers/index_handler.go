package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/igor/internal/common"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>igord</title></head>
<body>
<h1>igord %s</h1>
<p>Continuous OS image testing daemon.</p>
<ul>
<li><a href="/jobs">/jobs</a></li>
<li><a href="/testsuites">/testsuites</a></li>
<li><a href="/testplans">/testplans</a></li>
<li><a href="/profiles">/profiles</a></li>
<li><a href="/hosts">/hosts</a></li>
</ul>
</body>
</html>
`

// HandleIndex serves the HTML stub at /.
func HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("no such route: %s", r.URL.Path))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML, common.GetVersion())
}
