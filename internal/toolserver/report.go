package toolserver

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"
)

// handleDebugReport renders a small markdown diagnostics page (queue
// snapshot + health) to HTML for operators eyeballing a running
// instance in a browser, rather than scraping /metrics by hand.
func (s *Server) handleDebugReport(c echo.Context) error {
	executing, queued := s.dispatcher.List()

	var md bytes.Buffer
	fmt.Fprintf(&md, "# dbgtoolsrv status\n\n")

	healthy := s.health == nil || s.health.IsHealthy()
	fmt.Fprintf(&md, "- **session healthy**: %v\n", healthy)
	fmt.Fprintf(&md, "- **queued commands**: %d\n\n", len(queued))

	if executing != nil {
		fmt.Fprintf(&md, "## Executing\n\n- `%s` — %s (elapsed %s)\n\n", executing.ID, executing.Text, executing.Elapsed)
	} else {
		fmt.Fprintf(&md, "## Executing\n\n_nothing currently executing_\n\n")
	}

	fmt.Fprintf(&md, "## Queued\n\n")
	if len(queued) == 0 {
		fmt.Fprintf(&md, "_queue is empty_\n")
	}
	for _, q := range queued {
		fmt.Fprintf(&md, "%d. `%s` — %s (position %d, waiting %s)\n", q.Position+1, q.ID, q.Text, q.Position, q.Elapsed)
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		return c.String(http.StatusInternalServerError, "failed to render report")
	}
	return c.HTMLBlob(http.StatusOK, html.Bytes())
}
