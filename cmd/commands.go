package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lavamon/internal/model"
	"lavamon/pkg/logger"

	"github.com/spf13/pflag"
	"github.com/tidwall/pretty"
)

// command is one lavamon subcommand
type command struct {
	name  string
	usage string
	run   func(args []string, stdout io.Writer) error
}

var errUsage = errors.New("usage")

func commands() []command {
	return []command{
		{"serve", "run the sampling daemon and query API", serveCommand},
		{"sample", "sample entity classes once", sampleCommand},
		{"resource", "sample job resource usage on this host once", resourceCommand},
		{"monitor", "report finished jobs once", monitorCommand},
		{"tables", "list the tables of a class store or print one table", tablesCommand},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		args = []string{"serve"}
	}
	for _, cmd := range commands() {
		if cmd.name != args[0] {
			continue
		}
		err := cmd.run(args[1:], stdout)
		switch {
		case err == nil:
			return 0
		case errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintln(stderr, err)
			return 2
		default:
			fmt.Fprintf(stderr, "lavamon %s: %v\n", cmd.name, err)
			return 1
		}
	}
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: lavamon <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.usage)
	}
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")
	return fs, configPath
}

// oneShot initializes the application for a single pass and returns a
// context cancelled on SIGINT/SIGTERM, which rolls back the pass in flight
func oneShot(configPath string) (*Application, context.Context, func(), error) {
	app := NewApplication(configPath)
	if err := app.InitializeOneShot(); err != nil {
		app.Cleanup()
		return nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(logger.WithTraceID(app.ctx), syscall.SIGINT, syscall.SIGTERM)
	return app, ctx, func() {
		stop()
		app.Cleanup()
	}, nil
}

func serveCommand(args []string, _ io.Writer) error {
	fs, configPath := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app := NewApplication(*configPath)
	if err := app.Initialize(); err != nil {
		app.Cleanup()
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	// Wait for exit signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.InfoCtx(app.ctx, "Received exit signal: %v", sig)

	// Graceful shutdown (30 seconds timeout)
	if err := app.Shutdown(30 * time.Second); err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "Application safely exited")
	return nil
}

func sampleCommand(args []string, stdout io.Writer) error {
	fs, configPath := newFlagSet("sample")
	job := fs.BoolP("job", "j", false, "sample running jobs")
	queue := fs.BoolP("queue", "q", false, "sample queues")
	host := fs.BoolP("host", "H", false, "sample hosts")
	load := fs.BoolP("load", "l", false, "sample host load")
	user := fs.BoolP("user", "u", false, "sample users")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, ctx, done, err := oneShot(*configPath)
	if err != nil {
		return err
	}
	defer done()

	classes, err := selectedClasses(map[model.Class]bool{
		model.ClassJob:   *job,
		model.ClassQueue: *queue,
		model.ClassHost:  *host,
		model.ClassLoad:  *load,
		model.ClassUser:  *user,
	}, app.config.Sampling.Classes)
	if err != nil {
		return err
	}

	results, err := app.samplingService.Sample(ctx, classes)
	for _, r := range results {
		state := "ok"
		switch {
		case r.Err != nil:
			state = "error: " + r.Err.Error()
		case r.Skipped:
			state = "skipped: store locked"
		}
		fmt.Fprintf(stdout, "%-6s %4d entities %4d written %4d failed  %s\n", r.Class, r.Entries, r.Written, r.Failed, state)
	}
	return err
}

// selectedClasses returns the flagged classes in sampling order, or the
// configured classes when no flag is set
func selectedClasses(flags map[model.Class]bool, configured []string) ([]model.Class, error) {
	var classes []model.Class
	for _, c := range model.AllClasses {
		if flags[c] {
			classes = append(classes, c)
		}
	}
	if len(classes) > 0 {
		return classes, nil
	}
	return model.ParseClasses(configured)
}

func resourceCommand(args []string, stdout io.Writer) error {
	fs, configPath := newFlagSet("resource")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, ctx, done, err := oneShot(*configPath)
	if err != nil {
		return err
	}
	defer done()

	usages, err := app.resourceService.Sample(ctx)
	for _, u := range usages {
		fmt.Fprintf(stdout, "%-12s cpu %-8v mem %vG pids %v\n", u.Job, u.CPU, u.Memory, u.PIDs)
	}
	return err
}

func monitorCommand(args []string, _ io.Writer) error {
	fs, configPath := newFlagSet("monitor")
	jobIDs := fs.StringSliceP("jobs", "j", nil, "report these jobs instead of the ones finished since the last pass")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, ctx, done, err := oneShot(*configPath)
	if err != nil {
		return err
	}
	defer done()

	// The report table goes to stdout through the service
	_, err = app.finishedJobService.Monitor(ctx, *jobIDs)
	return err
}

func tablesCommand(args []string, stdout io.Writer) error {
	fs, configPath := newFlagSet("tables")
	keys := fs.StringSliceP("keys", "k", nil, "columns to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("%w: lavamon tables <class> [table] [--keys a,b]", errUsage)
	}
	class, err := model.ParseClass(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	app, ctx, done, err := oneShot(*configPath)
	if err != nil {
		return err
	}
	defer done()

	var result any
	if fs.NArg() == 1 {
		result, err = app.storeService.Tables(ctx, class)
	} else {
		result, err = app.storeService.Table(ctx, class, fs.Arg(1), *keys)
	}
	if err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = stdout.Write(pretty.Pretty(data))
	return err
}
