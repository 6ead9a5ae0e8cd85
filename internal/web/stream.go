package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dev-sys-do/sealboard/internal/pipeline"
	"github.com/dev-sys-do/sealboard/internal/query"
)

// handleDashboardStream pushes the re-rendered pipeline grid every time the
// list query is polled.
func (s *Server) handleDashboardStream(c echo.Context) error {
	sub := s.pipelinesQuery().Poll(s.config.Interval)
	return streamUpdates(s, c, sub, func(res query.Result[[]pipeline.Pipeline]) (string, error) {
		return renderFragment(s.dashboardTmpl, "content", dashboardContent(res, s.config.ListVerbose))
	})
}

// handlePipelineStream pushes the re-rendered detail panel for one pipeline.
func (s *Server) handlePipelineStream(c echo.Context) error {
	id := c.Param("id")
	if !validID(id) {
		return echo.ErrNotFound
	}
	sub := s.pipelineQuery(id).Poll(s.config.Interval)
	return streamUpdates(s, c, sub, func(res query.Result[*pipeline.Pipeline]) (string, error) {
		return renderFragment(s.pipelineTmpl, "content", pipelineContent(id, res, s.config.DetailVerbose))
	})
}

// streamUpdates serves sub as Server-Sent Events until the client goes away,
// the server stops, or the cache is closed. The subscription is always
// cancelled on return, so polling stops with the view.
func streamUpdates[T any](s *Server, c echo.Context, sub *query.Subscription[T], render func(query.Result[T]) (string, error)) error {
	defer sub.Cancel()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.streams.Done():
			writeEvent(w, "done", "server stopping")
			return nil
		case res, ok := <-sub.Updates():
			if !ok {
				writeEvent(w, "done", "server stopping")
				return nil
			}
			html, err := render(res)
			if err != nil {
				s.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("render stream fragment")
				return nil
			}
			writeEvent(w, "update", html)
		}
	}
}

// writeEvent sends one SSE message. Multi-line payloads are split into
// several data lines, which the client joins with newlines.
func writeEvent(w *echo.Response, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	w.Flush()
}

func renderFragment(tmpl *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
