package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/gmsas95/chronosage/internal/api"
	"github.com/gmsas95/chronosage/internal/assistant"
	"github.com/gmsas95/chronosage/internal/auth"
	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/cron"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/interpreter"
	"github.com/gmsas95/chronosage/internal/llm"
	"github.com/gmsas95/chronosage/internal/metrics"
	"github.com/gmsas95/chronosage/internal/scheduler"
	"github.com/gmsas95/chronosage/internal/store"
)

type App struct {
	Config     *config.Config
	Store      *store.Store
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	CronRunner *cron.Runner
	Version    string

	// CalendarOptions replace the OAuth token source when set, e.g. to
	// point the calendar client at a test server.
	CalendarOptions []option.ClientOption
	// LLMOptions are passed to the LLM client.
	LLMOptions []llm.Option
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: metrics.New(),
		Version: version,
	}
}

// Auth loads the OAuth client for the configured credentials file
func (app *App) Auth() (*auth.Manager, error) {
	c := app.Config.Calendar
	return auth.Load(c.CredentialsFile, c.TokenFile, c.Scopes)
}

// NewFinder builds the slot finder from the scheduler settings
func (app *App) NewFinder() *scheduler.Finder {
	sc := app.Config.Scheduler
	f := scheduler.NewFinder(sc.WorkingHours, app.Config.Location())
	f.MaxSuggestions = sc.MaxSuggestions
	if sc.Scorer == "preference" {
		f.Scorer = scheduler.PreferenceScorer()
	}
	return f
}

func (app *App) calendarOptions(ctx context.Context) ([]option.ClientOption, error) {
	if len(app.CalendarOptions) > 0 {
		return app.CalendarOptions, nil
	}
	am, err := app.Auth()
	if err != nil {
		return nil, err
	}
	ts, err := am.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

// NewAssistant wires the LLM client, calendar service, and store into an
// assistant.
func (app *App) NewAssistant(ctx context.Context) (*assistant.Manager, error) {
	cfg := app.Config
	loc := cfg.Location()

	llmOpts := append([]llm.Option{llm.WithMetrics(app.Metrics), llm.WithLogger(app.Logger)}, app.LLMOptions...)
	client, err := llm.NewClient(cfg.LLM, llmOpts...)
	if err != nil {
		return nil, err
	}

	clientOpts, err := app.calendarOptions(ctx)
	if err != nil {
		return nil, err
	}

	calOpts := calendar.Options{
		CalendarID: cfg.Calendar.CalendarID,
		Location:   loc,
		LookAhead:  cfg.LookAhead(),
		CacheTTL:   cfg.BusyCacheTTL(),
		Metrics:    app.Metrics,
		Logger:     app.Logger,
	}
	opts := assistant.Options{
		Interpreter:     interpreter.New(client, loc, nil),
		Finder:          app.NewFinder(),
		Metrics:         app.Metrics,
		Logger:          app.Logger,
		Location:        loc,
		PrimaryCalendar: cfg.Calendar.CalendarID,
		MaxEvents:       cfg.Calendar.MaxEvents,
		MaxDaysAhead:    cfg.Calendar.MaxDaysAhead,
		DefaultDuration: time.Duration(cfg.Scheduler.DefaultDuration) * time.Minute,
	}
	if app.Store != nil {
		calOpts.Cache = app.Store
		opts.Activity = app.Store
	}

	svc, err := calendar.New(ctx, calOpts, clientOpts...)
	if err != nil {
		return nil, err
	}
	opts.Calendar = svc

	return assistant.New(opts), nil
}

// StartMaintenance schedules the store maintenance jobs
func (app *App) StartMaintenance() error {
	if app.Store == nil {
		return nil
	}
	app.CronRunner = cron.NewRunner(app.Config.Location(), app.Logger)
	if err := cron.RegisterMaintenance(app.CronRunner, app.Store, app.Config.Jobs, app.Logger); err != nil {
		return err
	}
	return app.CronRunner.Start()
}

// RunServer serves the HTTP API until SIGINT or SIGTERM
func (app *App) RunServer() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx); err != nil {
		app.Logger.Fatal("Server error", zap.Error(err))
	}
}

// Serve runs the HTTP API and maintenance jobs until ctx is done
func (app *App) Serve(ctx context.Context) error {
	asst, err := app.NewAssistant(ctx)
	if err != nil {
		return fmt.Errorf("failed to build assistant: %w", err)
	}

	if err := app.StartMaintenance(); err != nil {
		app.Logger.Error("Failed to start maintenance jobs", zap.Error(err))
	}

	opts := api.Options{
		Assistant: asst,
		Metrics:   app.Metrics,
		Logger:    app.Logger,
		Version:   app.Version,
	}
	if app.Store != nil {
		opts.Store = app.Store
	}
	server := api.New(app.Config, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
		zap.String("timezone", app.Config.App.Timezone),
	)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		app.Logger.Info("Shutting down...")
	}

	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}
	if shutdownErr := server.Shutdown(); shutdownErr != nil {
		app.Logger.Error("Server shutdown error", zap.Error(shutdownErr))
	}
	return err
}

// RunCLI schedules message, or starts the interactive prompt when message
// is empty.
func (app *App) RunCLI(message string) {
	ctx := context.Background()
	asst, err := app.NewAssistant(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errors.UserMessage(err))
		app.Logger.Fatal("Failed to create assistant", zap.Error(err))
	}

	if message != "" {
		if err := OneShot(ctx, asst, message, os.Stdout); err != nil {
			app.Logger.Error("Request failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	Interactive(ctx, asst, os.Stdin, os.Stdout, app.Logger)
}

// OneShot schedules a single request
func OneShot(ctx context.Context, asst *assistant.Manager, msg string, out io.Writer) error {
	ev, err := asst.Schedule(ctx, msg)
	if err != nil {
		fmt.Fprintf(out, "Error: %s\n", errors.UserMessage(err))
		return err
	}
	fmt.Fprintf(out, "Event created: %s\n", asst.FormatEvent(*ev))
	if ev.HTMLLink != "" {
		fmt.Fprintf(out, "Link: %s\n", ev.HTMLLink)
	}
	return nil
}

// Interactive reads requests line by line. Lines starting with "edit" or
// "cancel" change an existing event; anything else creates one.
func Interactive(ctx context.Context, asst *assistant.Manager, in io.Reader, out io.Writer, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fmt.Fprintln(out, "ChronoSage - Interactive Mode")
	fmt.Fprintln(out, "Type 'exit' or 'quit' to exit, 'help' for commands")
	fmt.Fprintln(out)

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "> ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			fmt.Fprintln(out)
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch cmd := strings.ToLower(input); {
		case cmd == "exit" || cmd == "quit" || cmd == "q":
			fmt.Fprintln(out, "Goodbye!")
			return
		case cmd == "help" || cmd == "h":
			PrintInteractiveHelp(out)
		case cmd == "upcoming" || cmd == "list":
			printUpcoming(ctx, asst, out, logger)
		case strings.HasPrefix(cmd, "edit "):
			runEdit(ctx, asst, strings.TrimSpace(input[len("edit "):]), reader, out, logger)
		case strings.HasPrefix(cmd, "cancel "):
			runEdit(ctx, asst, input, reader, out, logger)
		default:
			if err := OneShot(ctx, asst, input, out); err != nil {
				logger.Warn("Request failed", zap.Error(err))
			}
		}
		fmt.Fprintln(out)
	}
}

func printUpcoming(ctx context.Context, asst *assistant.Manager, out io.Writer, logger *zap.Logger) {
	lines, err := asst.Upcoming(ctx)
	if err != nil {
		logger.Warn("Listing events failed", zap.Error(err))
		fmt.Fprintf(out, "Error: %s\n", errors.UserMessage(err))
		return
	}
	if len(lines) == 0 {
		fmt.Fprintln(out, "No upcoming events found.")
		return
	}
	for _, l := range lines {
		fmt.Fprintln(out, "  "+l)
	}
}

func runEdit(ctx context.Context, asst *assistant.Manager, request string, reader *bufio.Reader, out io.Writer, logger *zap.Logger) {
	res, err := asst.Edit(ctx, request, PromptChooser(reader, out, asst.FormatEvent))
	if err != nil {
		logger.Warn("Edit failed", zap.Error(err))
		fmt.Fprintf(out, "Error: %s\n", errors.UserMessage(err))
		return
	}
	if res.Cancelled() {
		fmt.Fprintf(out, "Event cancelled: %s\n", res.Event.Summary)
		return
	}
	fmt.Fprintf(out, "Event updated: %s\n", asst.FormatEvent(res.Event))
}

// PromptChooser lists the matching events and reads a 1-based choice. A
// single match is taken without asking.
func PromptChooser(reader *bufio.Reader, out io.Writer, format func(calendar.Event) string) assistant.Chooser {
	return func(_ context.Context, matches []calendar.Event) (calendar.Event, error) {
		if len(matches) == 1 {
			return matches[0], nil
		}
		fmt.Fprintln(out, "Several events match:")
		for i, ev := range matches {
			fmt.Fprintf(out, "  %d. %s\n", i+1, format(ev))
		}
		fmt.Fprintf(out, "Which one? [1-%d]: ", len(matches))

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return calendar.Event{}, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("no selection: %w", err))
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(matches) {
			return calendar.Event{}, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("invalid selection %q", strings.TrimSpace(line)))
		}
		return matches[n-1], nil
	}
}

func PrintInteractiveHelp(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Interactive Commands:")
	fmt.Fprintln(out, "  <request>        - Create an event, e.g. 'lunch with Sam tomorrow at noon'")
	fmt.Fprintln(out, "  edit <request>   - Change an event, e.g. 'edit move dentist to friday'")
	fmt.Fprintln(out, "  cancel <event>   - Cancel an event")
	fmt.Fprintln(out, "  upcoming, list   - Show upcoming events")
	fmt.Fprintln(out, "  help, h          - Show this help")
	fmt.Fprintln(out, "  exit, quit       - Exit the program")
	fmt.Fprintln(out)
}
