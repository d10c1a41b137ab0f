package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agendacomic/internal/auth"
	"agendacomic/internal/cache"
	"agendacomic/internal/capture"
	"agendacomic/internal/config"
	"agendacomic/internal/enrich"
	"agendacomic/internal/events"
	"agendacomic/internal/ics"
	appLog "agendacomic/internal/log"
	"agendacomic/internal/notify"
	"agendacomic/internal/scheduler"
	"agendacomic/internal/store"
	"agendacomic/internal/telemetry"
	"agendacomic/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath   string
	listen       string
	dataFile     string
	importOnce   bool
	graphOnce    bool
	hashPassword string
}

func main() {
	flags := parseFlags()

	if flags.hashPassword != "" {
		hash, err := auth.HashPassword(flags.hashPassword)
		if err != nil {
			appLog.Error("failed to hash password", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to read .env", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dataFile != "" {
		conf.DataFile = flags.dataFile
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("agendacomic starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"data_file", conf.DataFile,
		"timezone", conf.Timezone,
		"cache_ttl", conf.CacheTTL,
		"users", len(conf.Auth.Users),
		"ics_count", len(conf.ICS),
		"import_cron", conf.ImportCron,
		"enrich", conf.Enrich.Enabled,
		"notify", conf.Notify.Enabled,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("agendacomic failed", err)
		os.Exit(1)
	}
	appLog.Info("agendacomic exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "agendacomic",
		ServiceVersion: version,
		Stdout:         conf.Tracing.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			appLog.Warn("tracer shutdown failed", err)
		}
	}()

	loc := conf.Location()

	fs := store.New(conf.DataFile)
	if err := fs.EnsureExists(ctx); err != nil {
		return err
	}
	eventCache := cache.New(fs, conf.CacheTTLDuration())
	svc := events.NewService(fs, eventCache)

	users := make([]auth.User, 0, len(conf.Auth.Users))
	for _, u := range conf.Auth.Users {
		users = append(users, auth.User{Username: u.Username, PasswordHash: u.PasswordHash})
	}
	authn := auth.New(users, conf.Auth.TokenSecret, conf.TokenTTLDuration())

	importer, err := newImporter(conf, svc, loc)
	if err != nil {
		return err
	}

	if flags.importOnce {
		_, err := importer.Run(ctx)
		return err
	}

	srv := web.NewServer(web.Deps{
		Reader:   eventCache,
		Writer:   svc,
		Store:    fs,
		Auth:     authn,
		Location: loc,
	})

	if flags.graphOnce {
		return captureGraph(ctx, conf, srv)
	}

	sched := scheduler.New(ctx, loc)
	if conf.ImportCron != "" && len(conf.ICS) > 0 {
		err := sched.Add("ics-import", conf.ImportCron, func(ctx context.Context) error {
			_, err := importer.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	if conf.Notify.Enabled {
		if err := addNotifier(ctx, sched, conf, eventCache); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	return srv.ListenAndServe(ctx, conf.Listen)
}

func newImporter(conf *config.Config, sink ics.Sink, loc *time.Location) (*ics.Importer, error) {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL, DefaultType: c.DefaultType})
	}
	im := &ics.Importer{
		Fetcher:  ics.NewFetcher(""),
		Sources:  sources,
		Sink:     sink,
		Location: loc,
	}
	if conf.Enrich.Enabled {
		if conf.Enrich.APIKey == "" {
			return nil, fmt.Errorf("enrich is enabled but %s is not set", config.EnvOpenAIKey)
		}
		llm, err := enrich.NewOpenAI(conf.Enrich.APIKey, conf.Enrich.Model)
		if err != nil {
			return nil, err
		}
		im.Enricher = enrich.New(llm)
	}
	return im, nil
}

// addNotifier schedules the notification cycle and starts the preference bot
// in the background; the bot stops with ctx.
func addNotifier(ctx context.Context, sched *scheduler.Scheduler, conf *config.Config, reader notify.Reader) error {
	if conf.Notify.TelegramToken == "" {
		return fmt.Errorf("notify is enabled but %s is not set", config.EnvTelegramToken)
	}
	tg, err := notify.NewTelegram(conf.Notify.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}

	prefs := notify.NewPrefs(conf.Notify.PreferencesFile)
	if _, err := prefs.Seed(conf.Notify.Subscriptions); err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}
	appLog.Info("telegram bot authorized", "bot", tg.Username(), "preferences", conf.Notify.PreferencesFile)

	bot := notify.NewBot(tg, prefs)
	go func() {
		if err := bot.Run(ctx, tg.Updates(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("telegram bot stopped", err)
		}
	}()

	n := notify.New(reader, tg, conf.Notify.StateFile, prefs)
	return sched.Add("notify", conf.Notify.Cron, func(ctx context.Context) error {
		_, err := n.Run(ctx)
		return err
	})
}

// captureGraph serves the API just long enough for Chromium to render the
// statistics page.
func captureGraph(ctx context.Context, conf *config.Config, srv *web.Server) error {
	sctx, stop := context.WithCancel(ctx)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(sctx, conf.Listen) }()

	if err := waitHealthy(sctx, "http://"+conf.Listen+"/health"); err != nil {
		stop()
		<-errCh
		return err
	}

	capErr := capture.GraphPNG(ctx, capture.Options{
		URL:        "http://" + conf.Listen + "/stats/graph",
		OutputPath: conf.Graph.Output,
		Width:      conf.Graph.Width,
		Height:     conf.Graph.Height,
	})
	stop()
	if err := <-errCh; err != nil {
		return errors.Join(capErr, err)
	}
	return capErr
}

func waitHealthy(ctx context.Context, url string) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(10 * time.Second)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s did not become ready", url)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataFile, "data", "", "Events JSON file (overrides config if set)")
	flag.BoolVar(&cfg.importOnce, "import", false, "Run one ICS import cycle and exit")
	flag.BoolVar(&cfg.graphOnce, "graph", false, "Render the statistics graph to PNG and exit")
	flag.StringVar(&cfg.hashPassword, "hash-password", "", "Print a bcrypt hash of the given password and exit")

	flag.Parse()

	return cfg
}
