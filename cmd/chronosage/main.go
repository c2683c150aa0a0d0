package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/app"
	"github.com/gmsas95/chronosage/internal/cli"
	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	cliMode    = flag.Bool("cli", false, "Run in CLI mode (one-shot or interactive)")
	message    = flag.String("m", "", "Request to schedule (CLI mode)")
	debug      = flag.Bool("debug", false, "Enable development logging")
	version    = "dev"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env: %v", err)
	}
	cli.Version = version

	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		runCommand(args[0], args[1:])
		return
	}

	application, cleanup := initApp()
	defer cleanup()

	if *cliMode || *message != "" {
		application.RunCLI(*message)
		return
	}

	application.RunServer()
}

func runCommand(name string, args []string) {
	switch name {
	case "help", "--help", "-h":
		cli.PrintExtendedHelp()
		return
	case "version", "--version", "-v":
		fmt.Printf("ChronoSage version %s\n", version)
		return
	case "config":
		cli.HandleConfigCommand(args, *configPath, *dataDir)
		return
	}

	application, cleanup := initApp()
	defer cleanup()

	switch name {
	case "serve", "server":
		application.RunServer()
	case "schedule", "add":
		cli.HandleScheduleCommand(args, application)
	case "edit":
		cli.HandleEditCommand(args, application)
	case "upcoming", "list":
		cli.HandleUpcomingCommand(application)
	case "suggest":
		cli.HandleSuggestCommand(args, application)
	case "export":
		cli.HandleExportCommand(args, application)
	case "history":
		cli.HandleHistoryCommand(args, application)
	case "batch":
		cli.HandleBatchCommand(args, application)
	case "auth":
		cli.HandleAuthCommand(args, application)
	default:
		fmt.Printf("Unknown command: %s\n\n", name)
		cli.PrintExtendedHelp()
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if *debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func initApp() (*app.App, func()) {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.App.Debug && !*debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	logger.Info("Starting ChronoSage",
		zap.String("version", version),
		zap.String("mode", getMode()),
		zap.String("timezone", cfg.App.Timezone),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
		logger.Sync()
	}
	return app.New(cfg, st, logger, version), cleanup
}

func getMode() string {
	switch {
	case flag.NArg() > 0:
		return flag.Arg(0)
	case *cliMode || *message != "":
		return "cli"
	}
	return "server"
}
