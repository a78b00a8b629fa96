// sosdesk is an emergency desk for a residential society. It turns alarm
// device signals into incidents, pushes them to staff via ntfy, and serves a
// dashboard API for tracking each incident until it is attended.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/setevik/sosdesk/internal/api"
	"github.com/setevik/sosdesk/internal/config"
	"github.com/setevik/sosdesk/internal/dashboard"
	"github.com/setevik/sosdesk/internal/desk"
	"github.com/setevik/sosdesk/internal/directory"
	"github.com/setevik/sosdesk/internal/format"
	"github.com/setevik/sosdesk/internal/incident"
	"github.com/setevik/sosdesk/internal/intake"
	"github.com/setevik/sosdesk/internal/notifier"
	"github.com/setevik/sosdesk/internal/scheduler"
	"github.com/setevik/sosdesk/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "list":
			runList(os.Args[2:])
			return
		case "stats":
			runStats(os.Args[2:])
			return
		case "show":
			runShow(os.Args[2:])
			return
		case "raise":
			runRaise(os.Args[2:])
			return
		case "advance":
			runAdvance(os.Args[2:])
			return
		case "residents":
			runResidents(os.Args[2:])
			return
		case "staff":
			runStaff(os.Args[2:])
			return
		case "digest":
			runDigest(os.Args[2:])
			return
		case "test-ntfy":
			runTestNtfyCmd(os.Args[2:])
			return
		case "version":
			fmt.Println("sosdesk", version)
			return
		}
	}

	// Default: serve.
	runServe(os.Args[1:])
}

// --- serve ---

func runServe(args []string) {
	fs := flag.NewFlagSet("sosdesk", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	stdin := fs.Bool("stdin", false, "read device signals from stdin instead of the intake command")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println("sosdesk", version)
		os.Exit(0)
	}

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg.Log.Level)

	slog.Info("sosdesk starting",
		"version", version,
		"society", cfg.Society.ID,
		"timezone", cfg.Society.Timezone,
	)

	if err := serve(cfg, *stdin); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, useStdin bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening incident database: %w", err)
	}
	defer db.Close()
	slog.Info("incident database opened", "path", cfg.DBPath())

	dir, err := directory.Load(cfg.Directory.Path)
	if err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}
	stats := dir.ResidentStats()
	slog.Info("directory loaded", "society", dir.Society().Name, "residents", stats.Total, "active", stats.Active)

	d, err := desk.New(cfg, db, dir, notifier.NewNtfy(cfg))
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg, db)
	if err != nil {
		return err
	}

	// Run retention purge on startup.
	if cfg.DB.Retention.Duration > 0 {
		if err := sched.Purge(ctx); err != nil {
			slog.Warn("failed to purge old incidents", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if src := intakeSource(cfg, useStdin); src != nil {
		g.Go(func() error {
			err := d.Consume(ctx, src)
			if useStdin && errors.Is(err, intake.ErrClosed) {
				slog.Info("stdin closed, intake finished")
				return nil
			}
			return err
		})
	} else {
		slog.Info("no intake configured, incidents can only be raised via the API")
	}

	g.Go(func() error {
		return api.New(d).ListenAndServe(ctx, cfg.Server.Listen, cfg.Server.ShutdownTimeout.Duration)
	})

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		runWatchdog(ctx)
		return nil
	})

	// Notify systemd we are ready (sd_notify).
	sdNotify("READY=1")
	slog.Info("desk started")

	<-ctx.Done()
	slog.Info("shutting down")
	sdNotify("STOPPING=1")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func intakeSource(cfg *config.Config, useStdin bool) intake.Source {
	if useStdin {
		return intake.NewReaderSource(os.Stdin)
	}
	if cfg.Intake.Command == "" {
		return nil
	}
	slog.Info("starting intake bridge", "command", cfg.Intake.Command, "args", cfg.Intake.Args)
	return intake.NewSupervisedSource(
		func() intake.Source {
			return intake.NewPipeSource(cfg.Intake.Command, cfg.Intake.Args...)
		},
		cfg.Intake.RestartWait.Duration,
		cfg.Intake.MaxFailures,
	)
}

// --- list / stats / show ---

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	date := fs.String("date", "", "calendar day YYYY-MM-DD (default today)")
	status := fs.String("status", "all", "filter by status (all, yet_to_attend, attending, attended)")
	typ := fs.String("type", "all", "filter by incident type (all, sos, fire_alarm, smoke_detector, gas_leak, fall_detection)")
	fs.Parse(args)

	d, db := mustOpenDesk(*configPath, nil)
	defer db.Close()

	st, err := incident.ParseStatusFilter(*status)
	exitOnErr(err)
	t, err := incident.ParseTypeFilter(*typ)
	exitOnErr(err)
	day, err := d.ParseDate(*date)
	exitOnErr(err)

	incs, err := d.List(dashboard.Filter{Status: st, Type: t, Date: day})
	exitOnErr(err)

	if len(incs) == 0 {
		fmt.Printf("No incidents on %s.\n", day.Format(desk.DateLayout))
		return
	}
	printIncidents(d, incs)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	date := fs.String("date", "", "calendar day YYYY-MM-DD (default today)")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	setupLogging("error")
	d, db := openDesk(cfg, nil)
	defer db.Close()

	day, err := d.ParseDate(*date)
	exitOnErr(err)
	s, err := d.Stats(day)
	exitOnErr(err)

	fmt.Printf("Society:       %s\n", cfg.Society.Name)
	fmt.Printf("Date:          %s\n", day.Format(desk.DateLayout))
	fmt.Printf("Yet to attend: %d\n", s.YetToAttend)
	fmt.Printf("Attending:     %d\n", s.Attending)
	fmt.Printf("Attended:      %d\n", s.Attended)
	fmt.Printf("Total:         %d\n", s.Total)

	if last, err := db.Query(store.QueryFilter{Limit: 1}); err == nil && len(last) > 0 {
		inc := last[0]
		fmt.Printf("Last incident: [%s] %s %s, %s ago\n", inc.FlatNumber, inc.Type.Label(),
			inc.Status.Label(), format.Ago(time.Since(inc.Timestamp).Truncate(time.Second)))
	}
	if n, err := db.Count(); err == nil {
		fmt.Printf("DB incidents:  %d total\n", n)
	}
	fmt.Printf("DB path:       %s\n", cfg.DBPath())
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sosdesk show [--config path] <incident-id>")
		os.Exit(2)
	}

	d, db := mustOpenDesk(*configPath, nil)
	defer db.Close()

	inc, hist, err := d.Get(fs.Arg(0))
	exitOnErr(err)

	loc := d.Location()
	fmt.Printf("ID:          %s\n", inc.ID)
	fmt.Printf("Type:        %s\n", inc.Type.Label())
	fmt.Printf("Status:      %s\n", inc.Status.Label())
	fmt.Printf("Flat:        %s\n", inc.FlatNumber)
	fmt.Printf("Resident:    %s\n", inc.ResidentName)
	if uri := incident.TelURI(inc.PhoneNumber); uri != "" {
		fmt.Printf("Phone:       %s (%s)\n", inc.PhoneNumber, uri)
	}
	if uri := incident.TelURI(inc.NOKPhone); uri != "" {
		fmt.Printf("NOK:         %s (%s)\n", inc.NOKPhone, uri)
	}
	fmt.Printf("Raised:      %s\n", inc.Timestamp.In(loc).Format("2006-01-02 15:04:05"))
	if inc.DeviceTag != "" {
		fmt.Printf("Device:      %s\n", inc.DeviceTag)
	}
	if inc.Description != "" {
		fmt.Printf("Description: %s\n", inc.Description)
	}

	fmt.Println("\nHistory:")
	for _, h := range hist {
		fmt.Printf("  %s  %-24s by %s\n", h.At.In(loc).Format("2006-01-02 15:04:05"), h.Action, h.Actor)
	}
}

func printIncidents(d *desk.Desk, incs []*incident.Incident) {
	loc := d.Location()
	for _, inc := range incs {
		ts := inc.Timestamp.In(loc).Format("15:04:05")
		fmt.Printf("%s  %-8s %-15s %-14s %s\n", ts, inc.FlatNumber, inc.Type.Label(), inc.Status.Label(), inc.ResidentName)
		fmt.Printf("          id: %s\n", inc.ID)
		if inc.Description != "" {
			lines := strings.SplitN(inc.Description, "\n", 2)
			fmt.Printf("          %s\n", lines[0])
		}
		fmt.Println()
	}
	fmt.Printf("Total: %d incident(s)\n", len(incs))
}

// --- raise / advance ---

func runRaise(args []string) {
	fs := flag.NewFlagSet("raise", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	typ := fs.String("type", "sos", "incident type")
	flat := fs.String("flat", "", "flat number")
	description := fs.String("description", "", "what happened")
	fs.Parse(args)

	if strings.TrimSpace(*flat) == "" {
		fmt.Fprintln(os.Stderr, "error: --flat is required")
		os.Exit(2)
	}
	t, err := incident.ParseType(*typ)
	exitOnErr(err)

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg.Log.Level)
	d, db := openDesk(cfg, notifier.NewNtfy(cfg))
	defer db.Close()

	inc := incident.New(t, strings.TrimSpace(*flat), d.Now())
	inc.Description = *description

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	exitOnErr(d.Raise(ctx, inc))

	fmt.Printf("Raised %s for %s (%s): %s\n", inc.Type.Label(), inc.FlatNumber, inc.ResidentName, inc.ID)
}

func runAdvance(args []string) {
	fs := flag.NewFlagSet("advance", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	to := fs.String("to", "", "target status (default: next status)")
	actor := fs.String("actor", "", "who is attending")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sosdesk advance [--to status] [--actor name] <incident-id>")
		os.Exit(2)
	}

	var target incident.Status
	if *to != "" {
		var err error
		target, err = incident.ParseStatus(*to)
		exitOnErr(err)
	}

	d, db := mustOpenDesk(*configPath, nil)
	defer db.Close()

	inc, err := d.Advance(fs.Arg(0), target, *actor)
	exitOnErr(err)
	fmt.Printf("%s [%s] is now %s.\n", inc.Type.Label(), inc.FlatNumber, inc.Status.Label())
}

// --- directory ---

func runResidents(args []string) {
	fs := flag.NewFlagSet("residents", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	q := fs.String("q", "", "search by name or flat number")
	phones := fs.Bool("phones", false, "show full phone numbers")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	setupLogging("error")
	dir, err := directory.Load(cfg.Directory.Path)
	exitOnErr(err)

	show := format.MaskPhone
	if *phones {
		show = func(s string) string { return s }
	}

	residents := dir.SearchResidents(*q)
	for _, r := range residents {
		status := strings.ToLower(r.Status)
		if status == "" {
			status = "active"
		}
		fmt.Printf("%-8s %-24s %-9s phone %-16s nok %s\n", r.FlatNumber, r.Name, status, show(r.PhoneNumber), show(r.NOKPhone))
		for _, c := range r.EmergencyContacts {
			fmt.Printf("         contact: %s (%s) %s\n", c.Name, c.Relation, show(c.Phone))
		}
	}

	s := dir.ResidentStats()
	fmt.Printf("\nShown: %d  Total: %d  Active: %d  Inactive: %d\n", len(residents), s.Total, s.Active, s.Inactive)
}

func runStaff(args []string) {
	fs := flag.NewFlagSet("staff", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	setupLogging("error")
	dir, err := directory.Load(cfg.Directory.Path)
	exitOnErr(err)

	soc := dir.Society()
	fmt.Printf("%s\n%s\n\n", soc.Name, soc.Address)
	for _, st := range dir.Staff() {
		fmt.Printf("%-20s %-18s %-6s %-9s %s\n", st.Name, st.Role, st.Shift, st.Status, incident.TelURI(st.PhoneNumber))
	}
}

// --- digest ---

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	send := fs.Bool("send", false, "send digest via ntfy (otherwise print to stdout)")
	last := fs.String("last", "7d", "time window for digest")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	setupLogging("error")

	window, err := format.ParseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value %q: %v\n", *last, err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	loc, err := cfg.Location()
	exitOnErr(err)

	until := time.Now().In(loc)
	since := until.Add(-window)
	incs, err := db.Query(store.QueryFilter{Since: since, Until: until})
	exitOnErr(err)

	digest := notifier.BuildDigest(cfg.Society.Name, incs, since, until)
	digest.Location = loc
	body := notifier.FormatDigest(digest)

	if !*send {
		fmt.Print(body)
		return
	}

	topic := cfg.DigestTopic()
	if topic == "" {
		fmt.Fprintln(os.Stderr, "error: no ntfy URL configured for digest")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := notifier.SendDigest(ctx, topic, notifier.FormatDigestTitle(digest), body); err != nil {
		fmt.Fprintf(os.Stderr, "error sending digest: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Digest sent successfully.")
}

// --- test-ntfy ---

func runTestNtfyCmd(args []string) {
	fs := flag.NewFlagSet("test-ntfy", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg.Log.Level)

	if cfg.Ntfy.URL == "" {
		fmt.Fprintln(os.Stderr, "error: ntfy.url not configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sent, err := notifier.NewNtfy(cfg).Report(ctx, notifier.TestIncident(cfg.Society.Name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error sending test notification: %v\n", err)
		os.Exit(1)
	}
	if !sent {
		fmt.Fprintln(os.Stderr, "error: sos is not in ntfy.alert_types, nothing sent")
		os.Exit(1)
	}
	fmt.Println("Test notification sent successfully.")
}

// --- sd_notify support ---

// sdNotify sends a notification to systemd via the NOTIFY_SOCKET.
func sdNotify(state string) {
	socketAddr := os.Getenv("NOTIFY_SOCKET")
	if socketAddr == "" {
		return
	}

	conn, err := net.Dial("unixgram", socketAddr)
	if err != nil {
		slog.Debug("sd_notify: failed to connect", "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		slog.Debug("sd_notify: failed to send", "error", err)
	}
}

// runWatchdog pings the systemd watchdog at half its interval until ctx ends.
func runWatchdog(ctx context.Context) {
	interval := watchdogInterval()
	if interval <= 0 {
		return
	}
	slog.Info("systemd watchdog enabled", "interval", interval)

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sdNotify("WATCHDOG=1")
		case <-ctx.Done():
			return
		}
	}
}

// watchdogInterval reads WATCHDOG_USEC from the environment and returns the
// watchdog interval as a time.Duration. Returns 0 if not set.
func watchdogInterval() time.Duration {
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return 0
	}
	var usec int64
	if _, err := fmt.Sscanf(usecStr, "%d", &usec); err != nil {
		return 0
	}
	return time.Duration(usec) * time.Microsecond
}

// --- utilities ---

func mustLoadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// mustOpenDesk loads config quietly and opens the desk for a one-shot command.
func mustOpenDesk(configPath string, ntf desk.Notifier) (*desk.Desk, *store.DB) {
	cfg := mustLoadConfig(configPath)
	setupLogging("error") // quiet for CLI output
	return openDesk(cfg, ntf)
}

func openDesk(cfg *config.Config, ntf desk.Notifier) (*desk.Desk, *store.DB) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	dir, err := directory.Load(cfg.Directory.Path)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "error loading directory: %v\n", err)
		os.Exit(1)
	}
	d, err := desk.New(cfg, db, dir, ntf)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return d, db
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
