package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"campusevents/internal/auth"
	"campusevents/internal/classify"
	"campusevents/internal/config"
	"campusevents/internal/ics"
	"campusevents/internal/ingest"
	appLog "campusevents/internal/log"
	"campusevents/internal/metrics"
	"campusevents/internal/model"
	"campusevents/internal/scrape"
	"campusevents/internal/store"
	"campusevents/internal/web"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "campusevents",
		Usage:   "Aggregate campus events and serve them to signed-in students.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "./config.yaml",
				Usage:   "Path to config file (created with defaults if missing)",
				EnvVars: []string{"CAMPUSEVENTS_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			scrapeCommand(),
			exportCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		appLog.Error("campusevents failed", err)
		os.Exit(1)
	}
}

// app bundles what every command needs.
type app struct {
	cfg        *config.Config
	store      *store.Store
	classifier *classify.Classifier
}

func setup(c *cli.Context) (*app, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	classifier, err := classify.Load(cfg.ClassifierRules)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"database", cfg.Database,
		"allowed_domain", cfg.AllowedDomain,
		"scrape_cron", cfg.ScrapeCron,
		"source_count", len(cfg.Sources),
	)
	return &app{cfg: cfg, store: st, classifier: classifier}, nil
}

func (a *app) runner() *scrape.Runner {
	return &scrape.Runner{
		Store:      a.store,
		Normalizer: ingest.Normalizer{Classifier: a.classifier, Location: a.cfg.Location()},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web server and the scheduled scraper.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
			&cli.BoolFlag{Name: "no-scrape", Usage: "Do not schedule scraping"},
			&cli.BoolFlag{Name: "scrape-now", Usage: "Run one scrape at startup"},
			&cli.BoolFlag{Name: "dev-auth", Usage: "Allow the development e-mail sign-in when no Google client is configured"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.store.Close()
			if l := c.String("listen"); l != "" {
				a.cfg.Listen = l
			}
			if c.Bool("dev-auth") {
				a.cfg.DevSignIn = true
			}
			if err := a.cfg.ValidateAuth(); err != nil {
				return err
			}
			return a.serve(c.Context, c.Bool("no-scrape"), c.Bool("scrape-now"))
		},
	}
}

func (a *app) provider() auth.Provider {
	if a.cfg.HasGoogle() {
		return auth.NewGoogleProvider(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret,
			a.cfg.BaseURL+"/auth/callback", a.cfg.AllowedDomain)
	}
	appLog.Warn("development sign-in enabled; any address in the allowed domain can sign in without a password",
		"allowed_domain", a.cfg.AllowedDomain)
	return auth.DevProvider{}
}

func (a *app) serve(parent context.Context, noScrape, scrapeNow bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := auth.NewSessions(a.cfg.SessionTTL())
	gate := &auth.Gate{
		Policy:   auth.DomainPolicy{Domain: a.cfg.AllowedDomain},
		Sessions: sessions,
		Profiles: a.store,
	}
	go auth.Watch(ctx, sessions.Changes(), gate)

	srv := web.NewServer(web.Options{
		Config:     a.cfg,
		Store:      a.store,
		Provider:   a.provider(),
		Gate:       gate,
		Sessions:   sessions,
		Classifier: a.classifier,
		Registry:   metrics.NewRegistry(),
	})

	var sched *cron.Cron
	if !noScrape {
		sources, err := scrape.FromConfig(a.cfg)
		if err != nil {
			return err
		}
		runner := a.runner()
		job := func() {
			results, err := runner.TryRun(ctx, sources)
			if errors.Is(err, scrape.ErrAlreadyRunning) {
				appLog.Warn("scrape skipped: previous run still active")
				return
			}
			srv.InvalidateEvents()
			logResults(results)
		}
		sched = cron.New(
			cron.WithLocation(a.cfg.Location()),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		)
		if _, err := sched.AddFunc(a.cfg.ScrapeCron, job); err != nil {
			return fmt.Errorf("scrape_cron %q: %w", a.cfg.ScrapeCron, err)
		}
		sched.Start()
		if scrapeNow {
			go job()
		}
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		appLog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			appLog.Warn("scrape still running at shutdown")
		}
	}
	appLog.Info("campusevents exiting")
	return nil
}

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "Scrape every configured source once and print per-source results.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "source", Usage: "Only scrape these source ids"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.store.Close()

			sources, err := scrape.FromConfig(a.cfg)
			if err != nil {
				return err
			}
			if only := c.StringSlice("source"); len(only) > 0 {
				sources = filterSources(sources, only)
				if len(sources) == 0 {
					return fmt.Errorf("no configured source matches %v", only)
				}
			}
			results := a.runner().Run(c.Context, sources)
			logResults(results)

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

func filterSources(sources []scrape.Source, ids []string) []scrape.Source {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := sources[:0:0]
	for _, s := range sources {
		if want[s.Info().ID] {
			out = append(out, s)
		}
	}
	return out
}

func logResults(results []scrape.Result) {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	appLog.Info("scrape finished", "sources", len(results), "failed", failed)
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write events as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
			&cli.StringSliceFlag{Name: "event", Usage: "Event ids to export (default: all active events)"},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			defer a.store.Close()

			var evs []model.Event
			if ids := c.StringSlice("event"); len(ids) > 0 {
				evs, err = a.store.GetEvents(c.Context, ids)
			} else {
				evs, err = a.store.ListActiveEvents(c.Context, a.cfg.QueryLimit)
			}
			if err != nil {
				return err
			}

			var w io.Writer = c.App.Writer
			if out := c.String("out"); out != "" {
				f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			appLog.Info("exporting events", "count", len(evs))
			return ics.ExportEvents(w, evs, ics.ExportOptions{UIDDomain: a.cfg.UIDDomain})
		},
	}
}

// cronLogger routes scheduler logs through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
