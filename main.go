package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"skyfare/config"
	"skyfare/gateway"
	"skyfare/httputil"
	"skyfare/logging"
	"skyfare/metrics"
	"skyfare/models"
	"skyfare/scheduler"
	"skyfare/search"
	"skyfare/storage"
	"skyfare/tracker"
	"skyfare/vpn"
)

var (
	searchRoute = flag.String("search", "", "Run one search (ORIGIN-DEST) and exit")
	streamFlag  = flag.Bool("stream", false, "With -search: emit provider results as they arrive")
	searchDate  = flag.String("date", "", "Departure date for -search (YYYY-MM-DD)")
	trackNow    = flag.Bool("track", false, "Run one tracking cycle and exit")
	sessionsNow = flag.Bool("sessions", false, "Print recent tracking sessions and stats, then exit")
	sessionID   = flag.String("session", "", "Print one tracking session by id, then exit")
	initRoutes  = flag.Bool("init-routes", false, "Seed the route table and exit")
	enqueueCmd  = flag.String("cmd", "", "Enqueue a control command (pause|resume|stop|track_all|track_route|init_routes) and exit")
	cmdOrigin   = flag.String("origin", "", "Origin airport for -cmd track_route")
	cmdDest     = flag.String("destination", "", "Destination airport for -cmd track_route")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	logger.Infow("starting skyfare", "providers", len(cfg.Providers))
	for id, p := range cfg.Providers {
		logger.Infow("provider loaded", "id", id, "name", p.Name, "enabled", p.Enabled)
	}

	// Command enqueue needs only SQLite; handle it before the heavy wiring.
	if *enqueueCmd != "" {
		if err := enqueue(cfg, *enqueueCmd, *cmdOrigin, *cmdDest); err != nil {
			logger.Fatalw("command not enqueued", "error", err)
		}
		logger.Infow("command enqueued", "command", *enqueueCmd)
		return
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatalw("postgres connection failed", "error", err)
	}
	defer pgStore.Close()
	logger.Infow("connected to postgres", "url", maskConnectionString(cfg.Postgres.URL))

	if *sessionID != "" {
		id, err := uuid.Parse(*sessionID)
		if err != nil {
			logger.Fatalw("bad session id", "error", err)
		}
		sess, err := pgStore.GetSession(ctx, id)
		if err != nil {
			logger.Fatalw("session lookup failed", "error", err)
		}
		if sess == nil {
			logger.Fatalw("no such session", "id", id)
		}
		printJSON(sess)
		return
	}

	if *sessionsNow {
		stats, err := pgStore.SessionStats(ctx)
		if err != nil {
			logger.Fatalw("session stats failed", "error", err)
		}
		recent, err := pgStore.RecentSessions(ctx, 10)
		if err != nil {
			logger.Fatalw("recent sessions failed", "error", err)
		}
		printJSON(map[string]any{"stats": stats, "recent": recent})
		return
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Listen(cfg.Metrics.Addr); err != nil {
				logger.Warnw("metrics listener died", "error", err)
			}
		}()
		logger.Infow("metrics listening", "addr", cfg.Metrics.Addr)
	}

	var uploader storage.Uploader = storage.NoOpUploader{}
	if cfg.Archive.Enabled {
		s3, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			logger.Fatalw("archive uploader failed", "error", err)
		}
		uploader = s3
		logger.Infow("raw payload archiving enabled", "bucket", cfg.Archive.Bucket)
	}

	clients := httputil.NewClients(&cfg.Proxy)
	providers, err := gateway.BuildProviders(cfg, gateway.NewClient(clients.Provider, uploader, logger))
	if err != nil {
		logger.Fatalw("provider setup failed", "error", err)
	}
	gw := gateway.New(providers, cfg.Tracker.ProviderTimeout, m, logger)

	tr := tracker.New(pgStore, cfg.Tracker.FreshnessWindow, m, logger)
	aggregator := search.NewAggregator(gw, tr, m, logger)

	// One-shot search modes.
	if *searchRoute != "" {
		q, err := parseSearchFlags(*searchRoute, *searchDate)
		if err != nil {
			logger.Fatalw("bad search arguments", "error", err)
		}
		if *streamFlag {
			runStream(ctx, search.NewStreamer(gw, logger), q)
		} else {
			printJSON(aggregator.Search(ctx, q))
		}
		return
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatalw("sqlite open failed", "error", err)
	}
	defer sqliteStore.Close()
	logger.Infow("command queue ready", "path", cfg.DBPath)

	ledger := scheduler.NewLedger(pgStore, logger)
	sched := scheduler.New(cfg, gw, tr, pgStore, ledger, sqliteStore, m, logger)

	if cfg.ExpressVPN.AutoConnect {
		sched.SetRotator(vpn.NewExpressVPN(&vpn.Config{
			ActivationCode: cfg.ExpressVPN.ActivationCode,
			AutoConnect:    cfg.ExpressVPN.AutoConnect,
			Region:         cfg.ExpressVPN.Region,
		}))
		logger.Infow("vpn rotation enabled", "region", cfg.ExpressVPN.Region)
	}

	if *initRoutes {
		n, err := sched.InitRoutes(ctx)
		if err != nil {
			logger.Fatalw("route seeding failed", "error", err)
		}
		logger.Infow("routes seeded", "count", n)
		return
	}

	if *trackNow {
		if err := sched.RunCycle(ctx, models.TriggerManual); err != nil {
			logger.Fatalw("tracking cycle failed", "error", err)
		}
		return
	}

	// Daemon mode.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatalw("scheduler start failed", "error", err)
	}
	logger.Infow("daemon running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutting down")
	cancel()
	sched.Stop()
}

func enqueue(cfg *config.Config, command, origin, destination string) error {
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var params *models.CommandParams
	if origin != "" || destination != "" {
		params = &models.CommandParams{Origin: origin, Destination: destination}
	}
	_, err = store.EnqueueCommand(models.CommandType(command), params)
	return err
}

func parseSearchFlags(route, date string) (models.SearchQuery, error) {
	var q models.SearchQuery
	var ok bool
	if q.Origin, q.Destination, ok = splitRoute(route); !ok {
		return q, fmt.Errorf("route must be ORIGIN-DEST, got %q", route)
	}
	if date == "" {
		return q, fmt.Errorf("-date is required with -search")
	}
	q.DepartureDate = date
	return q, nil
}

func splitRoute(route string) (origin, destination string, ok bool) {
	for i := 0; i < len(route); i++ {
		if route[i] == '-' {
			return route[:i], route[i+1:], i > 0 && i < len(route)-1
		}
	}
	return "", "", false
}

func runStream(ctx context.Context, st *search.Streamer, q models.SearchQuery) {
	for ev := range st.Search(ctx, q) {
		printJSON(ev)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode output: %v", err)
	}
	fmt.Println(string(out))
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
