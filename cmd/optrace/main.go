// optrace runs a demo host around the operation tracer: it drives a
// synthetic workload through a Tracker and serves the live log and
// notification stream over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/unixtransport/unixproxy"

	"github.com/opview/optrace"
	"github.com/opview/optrace/internal/optracepubsub"
	"github.com/opview/optrace/optraceweb"
)

func main() {
	var (
		ctx    = context.Background()
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	stdout io.Writer
	stderr io.Writer

	listenAddr     string
	logBufferSize  int
	cleanStep      int
	eventDisplay   time.Duration
	writeToConsole bool
	logLevel       string

	info, debug *log.Logger
}

func (cfg *config) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "listen-addr",
		Value:       ffval.NewValueDefault(&cfg.listenAddr, "localhost:8040"),
		Usage:       "HTTP listen address (host:port, or unix socket URI)",
		Placeholder: "ADDR",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "log-buffer",
		Value:       ffval.NewValueDefault(&cfg.logBufferSize, optrace.DefaultLogBufferSize),
		Usage:       "max entries in the log buffer",
		Placeholder: "N",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "clean-step",
		Value:       ffval.NewValueDefault(&cfg.cleanStep, optrace.DefaultLogBufferCleanStep),
		Usage:       "entries removed per trim",
		Placeholder: "N",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName:    "event-display",
		Value:       ffval.NewValueDefault(&cfg.eventDisplay, optrace.DefaultEventDisplayDuration),
		Usage:       "how long events stay on the active stack",
		Placeholder: "DUR",
	})
	fs.AddFlag(ff.FlagConfig{
		LongName: "write-to-console",
		Value:    ffval.NewValueDefault(&cfg.writeToConsole, false),
		Usage:    "echo every log line to stderr",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "none", "n"),
		Usage:       "log level: i/info, d/debug, n/none",
		Placeholder: "LEVEL",
	})
}

func exec(ctx context.Context, stdout, stderr io.Writer, args []string) (err error) {
	cfg := &config{
		stdout: stdout,
		stderr: stderr,
	}

	flags := ff.NewFlagSet("optrace")
	cfg.register(flags)

	command := &ff.Command{
		Name:      "optrace",
		ShortHelp: "run a demo workload behind the operation tracer",
		Flags:     flags,
		Exec:      cfg.exec,
	}

	defer func() {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(command))
			err = nil
		}
	}()

	if err := command.Parse(args, ff.WithEnvVarPrefix("OPTRACE")); err != nil {
		return err
	}

	var infodst, debugdst io.Writer
	switch cfg.logLevel {
	case "n", "none":
		infodst, debugdst = io.Discard, io.Discard
	case "i", "info":
		infodst, debugdst = stderr, io.Discard
	case "d", "debug":
		infodst, debugdst = stderr, stderr
	default:
		return fmt.Errorf("invalid log level %q", cfg.logLevel)
	}
	cfg.info = log.New(infodst, "", 0)
	cfg.debug = log.New(debugdst, "[DEBUG] ", log.Lmsgprefix)

	return command.Run(ctx)
}

func (cfg *config) exec(ctx context.Context, args []string) error {
	tracker := optrace.NewTracker(optrace.TrackerConfig{
		WriteToConsole:       cfg.writeToConsole,
		LogBufferSize:        cfg.logBufferSize,
		LogBufferCleanStep:   cfg.cleanStep,
		EventDisplayDuration: cfg.eventDisplay,
		Console:              optrace.NewWriterConsole(cfg.stderr),
	})

	cfg.info.Printf("session %s", tracker.SessionID())

	broker := optracepubsub.NewBroker[optrace.Notification]()
	tracker.AddListener(optrace.NewBrokerListener(broker))

	// Ambient logging flows through the tracer as well.
	logCapture := optrace.NewLoggerCapture(tracker, cfg.debug)
	defer logCapture.Cancel()

	errCapture := optrace.NewErrorCapture(tracker, nil)
	defer errCapture.Cancel()

	mux := http.NewServeMux()
	mux.Handle("/log", optraceweb.NewLogServer(tracker))
	mux.Handle("/stream", optraceweb.NewStreamServer(broker))

	ln, err := unixproxy.ListenURI(ctx, cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	cfg.info.Printf("listening on %s", cfg.listenAddr)

	var g run.Group

	{
		server := &http.Server{Handler: mux}
		g.Add(func() error {
			return server.Serve(ln)
		}, func(error) {
			server.Close()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return runWorkload(ctx, tracker, errCapture, cfg.debug)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	return g.Run()
}
