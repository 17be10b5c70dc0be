// Package dashboard serves a read-only view of the creation loops a bot is
// running: a JSON snapshot, a live event stream and a health check.
package dashboard

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/creation"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Registry  *creation.Registry
	Port      int
	Platform  string // shown on the index page
	PulseCron string // optional 5-field cron; logs loop counts when it fires
	Logger    *zap.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Registry == nil {
		return fmt.Errorf("dashboard: registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PulseCron != "" {
		if _, err := cronParser.Parse(opts.PulseCron); err != nil {
			return fmt.Errorf("dashboard: pulse cron %q: %w", opts.PulseCron, err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := newRouter(opts)
	if err != nil {
		return err
	}

	// The pulse and the shutdown watcher end with Start, including on a
	// listen failure.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.PulseCron != "" {
		go runPulse(ctx, opts.PulseCron, opts.Registry, opts.Logger)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info("dashboard running", zap.String("url", fmt.Sprintf("http://localhost:%d", opts.Port)))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine serving every dashboard route.
func newRouter(opts StartOpts) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, opts.Registry, opts.Platform)
	return router, nil
}

// parseTemplates loads the index page template.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("index.html").Parse(indexHTML)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>edenbot</title></head>
<body>
<h1>edenbot{{if .Platform}} on {{.Platform}}{{end}}</h1>
<p>{{len .Loops}} creation(s) in flight</p>
<table>
<tr><th>Started</th><th>Mode</th><th>Phase</th><th>Header</th><th>Status</th></tr>
{{range .Loops}}<tr><td>{{.StartedAt.Format "15:04:05"}}</td><td>{{.Mode}}</td><td>{{.Phase}}</td><td>{{.Header}}</td><td>{{.Status}}</td></tr>
{{end}}</table>
</body>
</html>
`
