// Command fieldclient is the field reporter's terminal client. Reports are
// written to a local queue first and delivered to the dispatch server when
// it is reachable.
//
// Usage:
//
//	fieldclient [-config client.toml] <command> [flags]
//
// Commands:
//
//	submit   queue an incident report (-type, -details, optional -photo)
//	sos      queue the one-tap emergency beacon
//	sync     drain the queue once if the server is reachable
//	status   print connectivity, queue depth and sync indicator
//	history  list reports previously filed by the configured user
//	run      stay resident: watch connectivity and sync automatically
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/apiclient"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/objectstore"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/sqlite"
	"github.com/couchcryptid/resqnet-dispatch/internal/config"
	"github.com/couchcryptid/resqnet-dispatch/internal/connectivity"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/couchcryptid/resqnet-dispatch/internal/submission"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()

	global := flag.NewFlagSet("fieldclient", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv("RESQNET_CONFIG"), "path to TOML client config")
	global.Usage = func() {
		fmt.Fprintln(global.Output(), "usage: fieldclient [-config file] submit|sos|sync|status|history|run [flags]")
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "submit":
		return app.submit(ctx, rest, out)
	case "sos":
		return app.sos(ctx, out)
	case "sync":
		return app.sync(ctx, out)
	case "status":
		return app.status(ctx, out)
	case "history":
		return app.history(ctx, out)
	case "run":
		return app.runResident(ctx)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app holds the adapters shared by every command.
type app struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	queue    *sqlite.Queue
	api      *apiclient.Client
	uploader submission.Uploader
	prober   *connectivity.HTTPProber
}

func newApp(cfg *config.ClientConfig) (*app, error) {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	queue, err := sqlite.OpenQueue(cfg.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		queue:   queue,
		api:     apiclient.New(cfg.ServerURL, cfg.RequestTimeout.Duration),
		prober:  connectivity.NewHTTPProber(cfg.ServerURL, cfg.ProbeTimeout.Duration),
	}
	if cfg.Storage.URL != "" {
		a.uploader = objectstore.NewUploader(cfg.Storage.URL, cfg.Storage.Bucket, cfg.Storage.Token,
			cfg.Storage.Timeout.Duration, a.metrics, logger)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Error("queue close error", "error", err)
	}
}

func (a *app) coordinator(conn submission.Connectivity) *submission.Coordinator {
	return submission.New(a.queue, a.api, a.uploader, conn, submission.Config{
		RetryInitial: a.cfg.RetryInitial.Duration,
		RetryMax:     a.cfg.RetryMax.Duration,
	}, a.logger, a.metrics)
}

// probeOnce takes a single reachability sample for the one-shot commands.
func (a *app) probeOnce(ctx context.Context) connectivity.Fixed {
	if err := a.prober.Probe(ctx); err != nil {
		a.logger.Debug("server unreachable", "error", err)
		return connectivity.Fixed(domain.Offline)
	}
	return connectivity.Fixed(domain.Online)
}

func (a *app) coords() domain.Coordinates {
	return domain.Coordinates{Lat: a.cfg.Latitude, Lon: a.cfg.Longitude}
}

func (a *app) submit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	incidentType := fs.String("type", "", "incident type, e.g. Fire, Flood, Medical")
	details := fs.String("details", "", "short description of the situation")
	photo := fs.String("photo", "", "optional path to a photo to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := domain.NewIncidentReport(*incidentType, *details, a.coords(), a.cfg.User)
	return a.enqueueAndTry(ctx, report, *photo, out)
}

func (a *app) sos(ctx context.Context, out io.Writer) error {
	return a.enqueueAndTry(ctx, domain.NewSOSReport(a.cfg.User, a.coords()), "", out)
}

func (a *app) enqueueAndTry(ctx context.Context, report domain.IncidentReport, photo string, out io.Writer) error {
	conn := a.probeOnce(ctx)
	coord := a.coordinator(conn)

	entry, err := coord.Submit(ctx, report, photo)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued %s (%s)\n", entry.Report.ID, entry.Report.Type)

	if conn.State() != domain.Online {
		fmt.Fprintln(out, "offline: report will be sent when the connection returns")
		return nil
	}
	return runPass(ctx, coord, out)
}

func (a *app) sync(ctx context.Context, out io.Writer) error {
	conn := a.probeOnce(ctx)
	if conn.State() != domain.Online {
		n, err := a.queue.Len(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "offline: %d report(s) waiting\n", n)
		return nil
	}
	return runPass(ctx, a.coordinator(conn), out)
}

// runPass drains once. A drain already running in another process will
// pick up whatever this one would have sent.
func runPass(ctx context.Context, coord *submission.Coordinator, out io.Writer) error {
	res, err := coord.PassOnce(ctx)
	if errors.Is(err, submission.ErrPassInProgress) {
		fmt.Fprintln(out, "another client is syncing this queue; reports stay queued for it")
		return nil
	}
	if err != nil {
		return err
	}
	printPass(out, res)
	return nil
}

func (a *app) status(ctx context.Context, out io.Writer) error {
	conn := a.probeOnce(ctx)
	indicator, err := a.coordinator(conn).Indicator(ctx)
	if err != nil {
		return err
	}
	entries, err := a.queue.ListAll(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "connectivity: %s\nqueued: %d\nsync: %s\n", conn.State(), len(entries), indicator)
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-8s attempts=%d", e.Report.ID, e.Report.Type, e.AttemptCount)
		if e.LastError != "" {
			line += "  last_error=" + e.LastError
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func (a *app) history(ctx context.Context, out io.Writer) error {
	user := a.cfg.User
	if user == "" {
		user = domain.AnonymousIdentity
	}
	reports, err := a.api.History(ctx, user)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "no reports filed")
		return nil
	}
	for _, r := range reports {
		fmt.Fprintf(out, "%s  %-8s %-8s %s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Type, r.Status, r.ID, r.Details)
	}
	return nil
}

// runResident keeps a connectivity monitor and the coordinator running so
// queued reports go out as soon as the server is reachable. Reports queued
// by other invocations are noticed by watching the queue depth.
func (a *app) runResident(ctx context.Context) error {
	monitor := connectivity.NewMonitor(a.prober, a.cfg.ProbeInterval.Duration, a.cfg.DebounceSamples, a.logger, a.metrics)
	coord := a.coordinator(monitor)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := monitor.Run(ctx); err != nil {
			a.logger.Error("connectivity monitor error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		a.watchQueue(ctx, monitor, coord)
	}()

	err := coord.Run(ctx)
	wg.Wait()
	return err
}

func (a *app) watchQueue(ctx context.Context, conn submission.Connectivity, coord *submission.Coordinator) {
	ticker := time.NewTicker(a.cfg.ProbeInterval.Duration)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.queue.Len(ctx)
			if err != nil {
				a.logger.Warn("queue depth check failed", "error", err)
				continue
			}
			if n > last && last >= 0 && conn.State() == domain.Online {
				coord.SyncAll()
			}
			last = n
		}
	}
}

func printPass(out io.Writer, res submission.PassResult) {
	fmt.Fprintf(out, "sync: delivered=%d failed=%d remaining=%d\n", res.Delivered, res.Failed, res.Remaining)
}
