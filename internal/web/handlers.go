package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/dev-sys-do/sealboard/internal/controller"
	"github.com/dev-sys-do/sealboard/internal/pipeline"
	"github.com/dev-sys-do/sealboard/internal/query"
)

// ---- view models ----

// Page is the layout data shared by every page.
type Page struct {
	Title     string
	Endpoint  string
	StreamURL string
}

type DashboardData struct {
	Page
	Content DashboardContent
}

// DashboardContent is the live part of the dashboard, re-rendered on every
// stream update.
type DashboardContent struct {
	Cards      []PipelineCard
	Summary    []StatusCount
	Error      string
	IsPending  bool
	UpdatedAgo string
}

// PipelineCard is one pipeline in the grid. Status and ActionCount are only
// set when StatusKnown, i.e. the list was fetched with its actions.
type PipelineCard struct {
	ID            int
	Name          string
	RepositoryURL string
	StatusKnown   bool
	Status        pipeline.Status
	ActionCount   int
}

type StatusCount struct {
	Status pipeline.Status
	Count  int
}

type PipelineDetailData struct {
	Page
	ID      string
	Content PipelineContent
}

// PipelineContent is the live part of the detail page.
type PipelineContent struct {
	ID          string
	Pipeline    *pipeline.Pipeline
	StatusKnown bool
	Status      pipeline.Status
	Actions     []ActionView
	Error       string
	IsPending   bool
	UpdatedAgo  string
}

type ActionView struct {
	ID           int
	Name         string
	Type         string
	KnownType    bool
	ContainerURI string
	Status       pipeline.Status
	Commands     []string
	Logs         []string
	HasLogs      bool
}

// ---- helpers ----

func relTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// validID reports whether id looks like a controller pipeline id.
func validID(id string) bool {
	n, err := strconv.Atoi(id)
	return err == nil && n >= 0
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// awaitFirst returns the slot state, waiting a bounded time for the first
// fetch when nothing has arrived yet. refresh forces a new request.
func awaitFirst[T any](ctx context.Context, wait time.Duration, q *query.Query[T], refresh bool) (query.Result[T], error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		res query.Result[T]
		err error
	)
	if refresh {
		res, err = q.Invalidate(ctx)
	} else {
		res, err = q.Ensure(ctx)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Render the placeholder; the stream fills it in.
		return res, nil
	}
	return res, err
}

// dashboardContent builds the grid. Without verbose data the pipelines carry
// no actions, so no status is derived for them.
func dashboardContent(res query.Result[[]pipeline.Pipeline], verbose bool) DashboardContent {
	content := DashboardContent{
		Error:      errText(res.Err),
		IsPending:  res.IsPending,
		UpdatedAgo: relTime(res.UpdatedAt),
	}
	if !res.HasData {
		return content
	}
	content.Cards = lo.Map(res.Data, func(p pipeline.Pipeline, _ int) PipelineCard {
		card := PipelineCard{
			ID:            p.ID,
			Name:          p.Name,
			RepositoryURL: p.RepositoryURL,
		}
		if verbose {
			card.StatusKnown = true
			card.Status = p.Status()
			card.ActionCount = len(p.Actions)
		}
		return card
	})
	if !verbose {
		return content
	}
	counts := pipeline.Counts(res.Data)
	content.Summary = lo.FilterMap(pipeline.AllStatuses, func(s pipeline.Status, _ int) (StatusCount, bool) {
		n := counts[s]
		return StatusCount{Status: s, Count: n}, n > 0
	})
	return content
}

func pipelineContent(id string, res query.Result[*pipeline.Pipeline], verbose bool) PipelineContent {
	content := PipelineContent{
		ID:         id,
		Error:      errText(res.Err),
		IsPending:  res.IsPending,
		UpdatedAgo: relTime(res.UpdatedAt),
	}
	if !res.HasData || res.Data == nil {
		return content
	}
	p := res.Data
	content.Pipeline = p
	if !verbose {
		return content
	}
	content.StatusKnown = true
	content.Status = p.Status()
	content.Actions = lo.Map(p.Actions, func(a pipeline.Action, _ int) ActionView {
		return ActionView{
			ID:           a.ID,
			Name:         a.Name,
			Type:         string(a.Type),
			KnownType:    a.Type.Known(),
			ContainerURI: a.ContainerURI,
			Status:       a.Status,
			Commands:     a.Commands,
			Logs:         a.Logs,
			HasLogs:      len(a.Logs) > 0,
		}
	})
	return content
}

func (s *Server) queryFailed(c echo.Context, err error) error {
	if errors.Is(err, query.ErrClosed) {
		return c.String(http.StatusServiceUnavailable, "shutting down")
	}
	return err
}

// ---- pages ----

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleDashboard(c echo.Context) error {
	q := s.pipelinesQuery()
	res, err := awaitFirst(c.Request().Context(), s.config.RenderWait, q, c.QueryParam("refresh") != "")
	if err != nil {
		return s.queryFailed(c, err)
	}

	data := DashboardData{
		Page: Page{
			Title:     "All pipelines",
			Endpoint:  s.config.Endpoint,
			StreamURL: "/stream",
		},
		Content: dashboardContent(res, s.config.ListVerbose),
	}
	return c.Render(http.StatusOK, "dashboard", data)
}

func (s *Server) handlePipelineDetail(c echo.Context) error {
	id := c.Param("id")
	if !validID(id) {
		return echo.ErrNotFound
	}
	q := s.pipelineQuery(id)
	res, err := awaitFirst(c.Request().Context(), s.config.RenderWait, q, c.QueryParam("refresh") != "")
	if err != nil {
		return s.queryFailed(c, err)
	}

	status := http.StatusOK
	if !res.HasData && controller.StatusCode(res.Err) == http.StatusNotFound {
		status = http.StatusNotFound
	}
	data := PipelineDetailData{
		Page: Page{
			Title:     "Pipeline #" + id,
			Endpoint:  s.config.Endpoint,
			StreamURL: "/pipeline/" + id + "/stream",
		},
		ID:      id,
		Content: pipelineContent(id, res, s.config.DetailVerbose),
	}
	return c.Render(status, "pipeline", data)
}

// ---- JSON API ----

// apiPipeline adds the aggregate status, left out when the pipeline was
// fetched without its actions.
type apiPipeline struct {
	pipeline.Pipeline
	Status *pipeline.Status `json:"status,omitempty"`
}

type apiResult[T any] struct {
	Data      T          `json:"data"`
	Error     string     `json:"error,omitempty"`
	Pending   bool       `json:"pending"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func toAPIPipeline(p pipeline.Pipeline, verbose bool) apiPipeline {
	out := apiPipeline{Pipeline: p}
	if verbose {
		st := p.Status()
		out.Status = &st
	}
	return out
}

func updatedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleAPIPipelines(c echo.Context) error {
	res, err := s.pipelinesQuery().Refetch(c.Request().Context())
	if err != nil {
		return s.queryFailed(c, err)
	}
	out := apiResult[[]apiPipeline]{
		Data: lo.Map(res.Data, func(p pipeline.Pipeline, _ int) apiPipeline {
			return toAPIPipeline(p, s.config.ListVerbose)
		}),
		Error:     errText(res.Err),
		Pending:   res.IsPending,
		UpdatedAt: updatedAt(res.UpdatedAt),
	}
	status := http.StatusOK
	if !res.HasData && res.Err != nil {
		status = http.StatusBadGateway
	}
	return c.JSON(status, out)
}

func (s *Server) handleAPIPipeline(c echo.Context) error {
	id := c.Param("id")
	if !validID(id) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid pipeline id"})
	}
	res, err := s.pipelineQuery(id).Refetch(c.Request().Context())
	if err != nil {
		return s.queryFailed(c, err)
	}
	out := apiResult[*apiPipeline]{
		Error:     errText(res.Err),
		Pending:   res.IsPending,
		UpdatedAt: updatedAt(res.UpdatedAt),
	}
	if res.HasData && res.Data != nil {
		p := toAPIPipeline(*res.Data, s.config.DetailVerbose)
		out.Data = &p
	}
	status := http.StatusOK
	switch {
	case res.HasData:
	case controller.StatusCode(res.Err) == http.StatusNotFound:
		status = http.StatusNotFound
	case res.Err != nil:
		status = http.StatusBadGateway
	}
	return c.JSON(status, out)
}
