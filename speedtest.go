package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"github.com/osmc/speedtest-osmc/speedtest"
	"github.com/osmc/speedtest-osmc/speedtest/control"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

func main() {
	var flags options
	app := newApp(&flags)
	set, err := parseArgs(app, os.Args[1:])
	if err != nil {
		os.Exit(usageError(err))
	}

	file, err := loadFileConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedtest-osmc: %v\n", err)
		os.Exit(exitUsage)
	}
	opts := mergeOptions(flags, file, set)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	if opts.Schedule != "" {
		code = runScheduled(ctx, opts)
	} else {
		code = run(ctx, opts, os.Stdout)
	}
	stop()
	os.Exit(code)
}

// runScheduled runs a fresh session on every tick of opts.Schedule until
// ctx is done. A tick is skipped while the previous run is still going.
func runScheduled(ctx context.Context, opts options) int {
	var logger cron.Logger = cron.DiscardLogger
	if opts.Debug {
		logger = cron.VerbosePrintfLogger(log.New(os.Stderr, "[CRON]", log.LstdFlags))
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	if _, err := c.AddFunc(opts.Schedule, func() {
		if code := run(ctx, opts, os.Stdout); code != exitOK && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "speedtest-osmc: scheduled run exited with %d\n", code)
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "speedtest-osmc: invalid schedule %q: %v\n", opts.Schedule, err)
		return exitUsage
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return exitInterrupt
}

// run performs one complete test session and returns the process exit code.
func run(ctx context.Context, opts options, stdout io.Writer) int {
	if opts.Debug {
		speedtest.EnableDebug(os.Stderr)
	}

	unit, err := opts.unitType()
	if err != nil {
		return usageError(err)
	}
	delimiter, err := opts.delimiter()
	if err != nil {
		return usageError(err)
	}
	if opts.CityList {
		for _, loc := range speedtest.CityList() {
			fmt.Fprintf(stdout, "%-15s %s %s\n", loc.Name, strings.ToUpper(loc.CC), loc.Coordinate)
		}
		return exitOK
	}
	if opts.CSVHeader {
		header, err := speedtest.CSVHeader(delimiter)
		if err != nil {
			return usageError(err)
		}
		_, _ = stdout.Write(header)
		return exitOK
	}

	sessionOpts, err := sessionOptions(opts)
	if err != nil {
		return usageError(err)
	}
	client := speedtest.New(sessionOpts...)

	quiet := opts.JSON || opts.CSV || opts.List
	tm := InitTaskManager(stdout, quiet, opts.Unix || !isTerminal(stdout))
	defer tm.Stop()

	var (
		target *speedtest.Server
		cfg    *speedtest.TestConfig
	)
	if opts.URL != "" {
		target = speedtest.CustomServer(opts.URL)
		cfg = speedtest.OverrideConfig().WithDownload(opts.Threads, opts.Duration)
		tm.Println(fmt.Sprintf("Testing from %s (%s)", cfg.Client.ISP, cfg.Client.IP))
		tm.Println(fmt.Sprintf("Testing against %s", target.URL))
	} else {
		candidates, err := discover(ctx, client, tm, opts.Limit)
		if err != nil {
			return exitCode(ctx, err)
		}
		if opts.List {
			return listServers(stdout, candidates, opts.JSON)
		}
		if target, err = selectBest(ctx, client, tm, candidates); err != nil {
			return exitCode(ctx, err)
		}
		cfg = client.Config().WithDownload(opts.Threads, opts.Duration)
	}

	var result speedtest.SpeedResult
	err = tm.Run("Testing download speed", func(task *Task) error {
		if opts.mode() == control.ModeConcurrent {
			reporter := speedtest.NewReporter(opts.ProgressEvery, unit, func(p speedtest.Progress) {
				task.Updatef("Download: %s", p)
			})
			r, err := client.Meter().DownloadConcurrent(ctx, target, cfg, reporter)
			if err != nil {
				return err
			}
			result = r
		} else {
			r, err := client.Meter().DownloadSequential(ctx, target, cfg)
			if err != nil {
				return err
			}
			if r.UploadThreads > 0 {
				cfg = cfg.WithUploadThreads(r.UploadThreads)
			}
			result = r.SpeedResult
		}
		task.Printf("Download: %s", result.Rate().Format(unit))
		return nil
	})
	if err != nil {
		return exitCode(ctx, err)
	}
	if opts.Debug {
		log.Printf("Download: %d bytes in %v, next upload pass would use %d workers", result.Bytes, result.Elapsed, cfg.Threads.Upload)
	}

	if err = writeReport(stdout, client.Report(cfg, target, result), opts, delimiter); err != nil {
		return exitCode(ctx, err)
	}
	if ctx.Err() != nil {
		return exitInterrupt
	}
	return exitOK
}

func sessionOptions(opts options) ([]speedtest.Option, error) {
	sessionOpts := []speedtest.Option{speedtest.WithProbeConcurrency(opts.ProbeConcurrency)}

	if opts.Proxy != "" {
		transport, err := speedtest.NewProxyTransport(opts.Proxy)
		if err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, speedtest.WithDoer(&http.Client{Transport: transport}))
	}
	if opts.Location != "" {
		loc, err := speedtest.LookupLocation(opts.Location)
		if err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, speedtest.WithLocation(loc))
	}
	if len(opts.ServerIDs) > 0 {
		ids, err := speedtest.ParseServerIDs(opts.ServerIDs)
		if err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, speedtest.WithServerIDs(ids...))
	}
	return sessionOpts, nil
}

// discover fetches the configuration and the closest servers. An empty
// server list only becomes an error when no candidate is left.
func discover(ctx context.Context, client *speedtest.Speedtest, tm *TaskManager, limit int) (speedtest.Servers, error) {
	err := tm.Run("Retrieving speedtest.net configuration", func(task *Task) error {
		cfg, err := client.FetchConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Client.Location != "" {
			task.Printf("Testing from %s (%s) at %s %s", cfg.Client.ISP, cfg.Client.IP, cfg.Client.Location, cfg.Client.Coordinate)
			return nil
		}
		task.Printf("Testing from %s (%s)", cfg.Client.ISP, cfg.Client.IP)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var candidates speedtest.Servers
	err = tm.Run("Retrieving speedtest.net server list", func(task *Task) error {
		servers, err := client.ClosestServers(ctx, limit)
		if len(servers) == 0 {
			if err == nil {
				err = errNoServers
			}
			return err
		}
		if err != nil && !errors.Is(err, speedtest.ErrServerListUnavailable) {
			return err
		}
		candidates = servers
		task.Printf("Found %d servers", len(servers))
		return nil
	})
	return candidates, err
}

var errNoServers = errors.New("no servers match the current filters")

func selectBest(ctx context.Context, client *speedtest.Speedtest, tm *TaskManager, candidates speedtest.Servers) (*speedtest.Server, error) {
	var best *speedtest.Server
	err := tm.Run("Selecting best server based on ping", func(task *Task) error {
		var err error
		best, err = client.SelectBestServer(ctx, candidates, func(s *speedtest.Server, attempt int, o speedtest.ProbeOutcome) {
			task.Updatef("Pinging %s (%d)", s.Host, attempt+1)
		})
		if err != nil {
			return err
		}
		task.Printf("Hosted by %s (%s) [%.2f km]: %.3f ms", best.Sponsor, best.Name, best.Distance, *best.Latency)
		return nil
	})
	return best, err
}

func listServers(w io.Writer, servers speedtest.Servers, asJSON bool) int {
	if asJSON {
		b, err := json.Marshal(servers)
		if err != nil {
			return failure(err)
		}
		fmt.Fprintf(w, "%s\n", b)
		return exitOK
	}
	if _, err := io.WriteString(w, servers.String()); err != nil {
		return failure(err)
	}
	return exitOK
}

func writeReport(w io.Writer, report *speedtest.Report, opts options, delimiter rune) error {
	var (
		b   []byte
		err error
	)
	switch {
	case opts.JSON:
		if b, err = report.JSON(); err == nil {
			b = append(b, '\n')
		}
	case opts.CSV:
		b, err = report.CSV(delimiter)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func usageError(err error) int {
	fmt.Fprintf(os.Stderr, "speedtest-osmc: %v\n", err)
	return exitUsage
}

func failure(err error) int {
	fmt.Fprintf(os.Stderr, "speedtest-osmc: %v\n", err)
	return exitFailure
}

// exitCode maps a failed step to the exit code, treating cancellation as an
// interrupt rather than a failure.
func exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitInterrupt
	}
	return failure(err)
}
