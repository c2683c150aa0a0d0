package cli

import (
	"bufio"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gmsas95/chronosage/internal/app"
	"github.com/gmsas95/chronosage/internal/assistant"
	"github.com/gmsas95/chronosage/internal/auth"
	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/interpreter"
	"github.com/gmsas95/chronosage/internal/store"
)

var Version = "dev"

// exitOnError reports err the way users see it and exits
func exitOnError(application *app.App, err error) {
	if err == nil {
		return
	}
	if application != nil {
		application.Logger.Debug("Command failed", zap.Error(err))
	}
	printError(os.Stderr, describe(err))
	os.Exit(1)
}

// describe is the user-facing text for err. Usage errors keep their own
// message; anything else gets the generic one.
func describe(err error) string {
	var amb *assistant.AmbiguousError
	switch {
	case stderrors.As(err, &amb):
		return fmt.Sprintf("%d events match; be more specific.", len(amb.Matches))
	case errors.GetCode(err) == errors.ErrBadRequest.Code:
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Cause != nil {
			return appErr.Cause.Error()
		}
	case errors.GetCode(err) == errors.ErrTokenMissing.Code:
		return errors.UserMessage(err) + " Run 'chronosage auth' first."
	}
	return errors.UserMessage(err)
}

func newAssistant(application *app.App) *assistant.Manager {
	asst, err := application.NewAssistant(context.Background())
	exitOnError(application, err)
	return asst
}

func usageError(format string, args ...any) error {
	return errors.WrapAs(errors.ErrBadRequest, fmt.Errorf(format, args...))
}

func HandleScheduleCommand(args []string, application *app.App) {
	if len(args) == 0 {
		fmt.Println("Usage: chronosage schedule <request>")
		fmt.Println(`Example: chronosage schedule "dentist next tuesday at 3pm for 45 minutes"`)
		os.Exit(1)
	}
	asst := newAssistant(application)
	exitOnError(application, runSchedule(context.Background(), asst, strings.Join(args, " "), os.Stdout))
}

func runSchedule(ctx context.Context, asst *assistant.Manager, request string, out io.Writer) error {
	ev, err := asst.Schedule(ctx, request)
	if err != nil {
		return err
	}
	printSuccess(out, "Event created: %s", asst.FormatEvent(*ev))
	if ev.HTMLLink != "" {
		fmt.Fprintln(out, dimStyle.Render("  "+ev.HTMLLink))
	}
	return nil
}

func HandleEditCommand(args []string, application *app.App) {
	if len(args) == 0 {
		fmt.Println("Usage: chronosage edit <request>")
		fmt.Println(`Example: chronosage edit "move the dentist to friday at 10"`)
		os.Exit(1)
	}
	asst := newAssistant(application)

	var choose assistant.Chooser
	if term.IsTerminal(int(os.Stdin.Fd())) {
		choose = app.PromptChooser(bufio.NewReader(os.Stdin), os.Stdout, asst.FormatEvent)
	}
	exitOnError(application, runEdit(context.Background(), asst, strings.Join(args, " "), choose, os.Stdout))
}

// runEdit applies request. Without a chooser, several matches are listed
// and the edit is refused.
func runEdit(ctx context.Context, asst *assistant.Manager, request string, choose assistant.Chooser, out io.Writer) error {
	res, err := asst.Edit(ctx, request, choose)
	var amb *assistant.AmbiguousError
	if stderrors.As(err, &amb) {
		fmt.Fprintln(out, "Several events match:")
		for _, ev := range amb.Matches {
			fmt.Fprintln(out, "  "+asst.FormatEvent(ev))
		}
	}
	if err != nil {
		return err
	}

	if res.Cancelled() {
		printSuccess(out, "Event cancelled: %s", res.Event.Summary)
		return nil
	}
	printSuccess(out, "Event updated: %s", asst.FormatEvent(res.Event))
	return nil
}

func HandleUpcomingCommand(application *app.App) {
	asst := newAssistant(application)
	exitOnError(application, runUpcoming(context.Background(), asst, os.Stdout))
}

func runUpcoming(ctx context.Context, asst *assistant.Manager, out io.Writer) error {
	lines, err := asst.Upcoming(ctx)
	if err != nil {
		return err
	}
	printTitle(out, "Upcoming events")
	if len(lines) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No upcoming events found."))
		return nil
	}
	for _, l := range lines {
		fmt.Fprintln(out, "  "+l)
	}
	return nil
}

func HandleSuggestCommand(args []string, application *app.App) {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help") {
		PrintSuggestHelp()
		return
	}
	asst := newAssistant(application)
	exitOnError(application, runSuggest(context.Background(), asst, args, asst.Now(), os.Stdout))
}

func parseSuggestArgs(args []string, loc *time.Location, now time.Time) (assistant.SuggestRequest, error) {
	fs := flag.NewFlagSet("suggest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	attendees := fs.String("attendees", "", "")
	from := fs.String("from", "", "")
	to := fs.String("to", "", "")
	duration := fs.Int("duration", 0, "")
	ranked := fs.Bool("ranked", false, "")
	if err := fs.Parse(args); err != nil {
		return assistant.SuggestRequest{}, usageError("%v", err)
	}

	req := assistant.SuggestRequest{
		StartDate: now.In(loc),
		Duration:  time.Duration(*duration) * time.Minute,
		Ranked:    *ranked,
	}
	for _, a := range strings.Split(*attendees, ",") {
		if a = strings.TrimSpace(a); a != "" {
			req.Attendees = append(req.Attendees, a)
		}
	}
	if *from != "" {
		t, err := time.ParseInLocation(interpreter.DateLayout, *from, loc)
		if err != nil {
			return req, usageError("-from must be YYYY-MM-DD")
		}
		req.StartDate = t
	}
	req.EndDate = req.StartDate
	if *to != "" {
		t, err := time.ParseInLocation(interpreter.DateLayout, *to, loc)
		if err != nil {
			return req, usageError("-to must be YYYY-MM-DD")
		}
		req.EndDate = t
	}
	return req, nil
}

func runSuggest(ctx context.Context, asst *assistant.Manager, args []string, now time.Time, out io.Writer) error {
	req, err := parseSuggestArgs(args, asst.Location(), now)
	if err != nil {
		return err
	}
	slots, err := asst.SuggestMeetingTimes(ctx, req)
	if err != nil {
		return err
	}
	printTitle(out, "Suggested times")
	renderSlots(out, slots)
	return nil
}

func HandleExportCommand(args []string, application *app.App) {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		PrintExportHelp()
		return
	}
	asst := newAssistant(application)
	exitOnError(application, runExport(context.Background(), asst, args, os.Stdout))
}

func runExport(ctx context.Context, asst *assistant.Manager, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	output := fs.String("o", "", "")
	var opts assistant.ExportOptions
	fs.StringVar(&opts.Location, "location", "", "")
	fs.StringVar(&opts.Organizer, "organizer", "", "")
	fs.StringVar(&opts.Category, "category", "", "")
	fs.IntVar(&opts.ReminderMinutes, "reminder", 15, "")
	if err := fs.Parse(args); err != nil {
		return usageError("%v", err)
	}
	if fs.NArg() == 0 {
		return usageError("a request is required")
	}

	details, err := asst.Interpret(ctx, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	data, err := asst.ExportICal(ctx, details, opts)
	if err != nil {
		return err
	}

	if *output == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return errors.WrapAs(errors.ErrInternal, err)
	}
	printSuccess(out, "Wrote %s (%s)", *output, details.Title)
	return nil
}

func HandleHistoryCommand(args []string, application *app.App) {
	exitOnError(application, runHistory(context.Background(), application.Store, args, os.Stdout))
}

type activityLister interface {
	ListActivity(ctx context.Context, limit int) ([]store.Activity, error)
}

func runHistory(ctx context.Context, st activityLister, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "")
	if err := fs.Parse(args); err != nil {
		return usageError("%v", err)
	}

	items, err := st.ListActivity(ctx, *limit)
	if err != nil {
		return errors.WrapAs(errors.ErrInternal, err)
	}
	printTitle(out, "Recent activity")
	renderActivity(out, items)
	return nil
}

func HandleAuthCommand(args []string, application *app.App) {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help") {
		PrintAuthHelp()
		return
	}

	am, err := application.Auth()
	if err != nil {
		fmt.Printf("Download OAuth client credentials from the Google Cloud console and save them as %s\n",
			application.Config.Calendar.CredentialsFile)
		exitOnError(application, err)
	}

	if len(args) > 0 && args[0] == "status" {
		runAuthStatus(am, application.Config.Calendar.TokenFile, os.Stdout)
		return
	}
	exitOnError(application, runAuth(context.Background(), am, os.Stdin, os.Stdout))
}

func runAuthStatus(am *auth.Manager, tokenFile string, out io.Writer) {
	if am.HasToken() {
		printSuccess(out, "Authorised (token: %s)", tokenFile)
		return
	}
	fmt.Fprintln(out, "Not authorised. Run 'chronosage auth'.")
}

func runAuth(ctx context.Context, am *auth.Manager, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Open this URL in a browser and grant calendar access:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+am.AuthURL(uuid.NewString()))
	fmt.Fprintln(out)
	fmt.Fprint(out, "Authorisation code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	code = strings.TrimSpace(code)
	if code == "" {
		if err != nil {
			return usageError("no authorisation code: %v", err)
		}
		return usageError("no authorisation code")
	}

	if _, err := am.Exchange(ctx, code); err != nil {
		return err
	}
	printSuccess(out, "Calendar access authorised")
	return nil
}

// HandleConfigCommand manages the config file. configPath and dataDir are
// the global flags and may be empty.
func HandleConfigCommand(args []string, configPath, dataDir string) {
	if len(args) == 0 {
		PrintConfigHelp()
		return
	}
	if err := runConfig(args, configPath, dataDir, os.Stdout); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func resolveConfigPath(configPath string, cfg *config.Config) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(cfg.Storage.DataDir, "chronosage.yaml")
}

func runConfig(args []string, configPath, dataDir string, out io.Writer) error {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	path := resolveConfigPath(configPath, cfg)

	switch args[0] {
	case "init":
		force := len(args) > 1 && (args[1] == "-f" || args[1] == "--force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteTemplate(path, cfg); err != nil {
			return err
		}
		printSuccess(out, "Wrote %s", path)

	case "path":
		fmt.Fprintln(out, path)

	case "show", "view":
		printConfig(out, cfg, path)

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: chronosage config get <key>")
		}
		v, ok := configValue(cfg, args[1])
		if !ok {
			return fmt.Errorf("unknown key %q (available: %s)", args[1], strings.Join(configKeys, ", "))
		}
		fmt.Fprintln(out, v)

	default:
		return fmt.Errorf("unknown config command %q", args[0])
	}
	return nil
}

var configKeys = []string{
	"app.timezone", "server.address", "server.port", "llm.model", "llm.base_url",
	"calendar.calendar_id", "calendar.credentials_file", "calendar.token_file",
	"scheduler.scorer", "storage.data_dir",
}

func configValue(cfg *config.Config, key string) (string, bool) {
	switch key {
	case "app.timezone":
		return cfg.App.Timezone, true
	case "server.address":
		return cfg.Server.Address, true
	case "server.port":
		return fmt.Sprint(cfg.Server.Port), true
	case "llm.model":
		return cfg.LLM.Model, true
	case "llm.base_url":
		return cfg.LLM.BaseURL, true
	case "calendar.calendar_id":
		return cfg.Calendar.CalendarID, true
	case "calendar.credentials_file":
		return cfg.Calendar.CredentialsFile, true
	case "calendar.token_file":
		return cfg.Calendar.TokenFile, true
	case "scheduler.scorer":
		return cfg.Scheduler.Scorer, true
	case "storage.data_dir":
		return cfg.Storage.DataDir, true
	}
	return "", false
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	printTitle(out, "ChronoSage configuration")
	fmt.Fprintf(out, "File:          %s\n", path)
	fmt.Fprintf(out, "Timezone:      %s\n", cfg.App.Timezone)
	fmt.Fprintf(out, "Server:        %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Fprintf(out, "LLM:           %s at %s\n", cfg.LLM.Model, cfg.LLM.BaseURL)
	fmt.Fprintf(out, "LLM API key:   %s\n", maskToken(cfg.LLM.APIKey))
	fmt.Fprintf(out, "Calendar:      %s\n", cfg.Calendar.CalendarID)
	fmt.Fprintf(out, "Credentials:   %s\n", cfg.Calendar.CredentialsFile)
	fmt.Fprintf(out, "Working hours: %02d:00-%02d:00\n", cfg.Scheduler.WorkingHours.StartHour, cfg.Scheduler.WorkingHours.EndHour)
	fmt.Fprintf(out, "Scorer:        %s\n", cfg.Scheduler.Scorer)
	fmt.Fprintf(out, "Admin auth:    %s\n", enabledStatus(cfg.Security.AdminPassword != ""))
	fmt.Fprintf(out, "Data:          %s\n", cfg.Storage.DataDir)
}

func enabledStatus(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
