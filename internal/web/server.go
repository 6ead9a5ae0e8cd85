package web

import (
	"context"
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dev-sys-do/sealboard/internal/controller"
	"github.com/dev-sys-do/sealboard/internal/pipeline"
	"github.com/dev-sys-do/sealboard/internal/query"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(s pipeline.Status) string {
		return "badge badge-" + s.Tone()
	},
	"dotClass": func(s pipeline.Status) string {
		return "dot dot-" + s.Tone()
	},
	"statusLabel": func(s pipeline.Status) string {
		return s.Label()
	},
}

// Config wires the dashboard to its data sources.
type Config struct {
	Addr   string
	Source controller.Source
	Cache  *query.Cache
	Logger zerolog.Logger

	// Endpoint is shown in the page footer.
	Endpoint string
	// Interval is the polling cadence of live streams.
	Interval      time.Duration
	ListVerbose   bool
	DetailVerbose bool
	// RenderWait bounds how long a page waits for a first fetch before
	// rendering the placeholder. Zero uses defaultRenderWait.
	RenderWait time.Duration
}

const defaultRenderWait = 3 * time.Second

// Server is the read-only dashboard.
type Server struct {
	e      *echo.Echo
	config Config
	log    zerolog.Logger

	// streams is cancelled by Stop so open SSE connections end before the
	// listener drains.
	streams      context.Context
	cancelStream context.CancelFunc

	dashboardTmpl *template.Template
	pipelineTmpl  *template.Template
}

// NewServer builds the echo app and registers routes.
func NewServer(config Config) *Server {
	if config.Interval <= 0 {
		config.Interval = query.DefaultInterval
	}
	if config.RenderWait <= 0 {
		config.RenderWait = defaultRenderWait
	}

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogRemoteIP:  true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			config.Logger.Info().
				Str("remote_ip", v.RemoteIP).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("handled request")
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			config.Logger.Error().Err(err).Bytes("stack", stack).Send()
			return err
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		e:             e,
		config:        config,
		log:           config.Logger,
		streams:       ctx,
		cancelStream:  cancel,
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
		pipelineTmpl:  mustParseTmpl("base.html", "pipeline.html"),
	}
	e.Renderer = s
	s.registerRoutes()
	return s
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.handleHealth)
	s.e.GET("/", s.handleDashboard)
	s.e.GET("/stream", s.handleDashboardStream)
	s.e.GET("/pipeline/:id", s.handlePipelineDetail)
	s.e.GET("/pipeline/:id/stream", s.handlePipelineStream)
	s.e.GET("/:id", s.handlePipelineDetail)

	api := s.e.Group("/api")
	api.GET("/pipelines", s.handleAPIPipelines)
	api.GET("/pipelines/:id", s.handleAPIPipeline)
}

// Render implements echo.Renderer. name selects the page template set and
// the "base" layout is executed.
func (s *Server) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, err := s.page(name)
	if err != nil {
		return err
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

func (s *Server) page(name string) (*template.Template, error) {
	switch name {
	case "dashboard":
		return s.dashboardTmpl, nil
	case "pipeline":
		return s.pipelineTmpl, nil
	}
	return nil, errors.Errorf("unknown page %q", name)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() *echo.Echo {
	return s.e
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.config.Addr).Str("controller", s.config.Endpoint).Msg("starting dashboard")
	return s.e.Start(s.config.Addr)
}

// Stop ends live streams and shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelStream()
	return s.e.Shutdown(ctx)
}

func (s *Server) pipelinesQuery() *query.Query[[]pipeline.Pipeline] {
	return controller.PipelinesQuery(s.config.Cache, s.config.Source, s.config.ListVerbose)
}

func (s *Server) pipelineQuery(id string) *query.Query[*pipeline.Pipeline] {
	return controller.PipelineQuery(s.config.Cache, s.config.Source, id, s.config.DetailVerbose)
}
