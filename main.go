package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"battery_dashboard_etl/config"
	"battery_dashboard_etl/database"
	"battery_dashboard_etl/generator"
	"battery_dashboard_etl/logger"
	"battery_dashboard_etl/metrics"
	"battery_dashboard_etl/modelpool"
	"battery_dashboard_etl/models"
	"battery_dashboard_etl/pipeline"
	"battery_dashboard_etl/storage"
)

func main() {
	os.Exit(run())
}

// run executes the command and returns the exit code, so deferred cleanup
// always runs before the process exits.
func run() int {
	if len(os.Args) < 2 {
		showHelp()
		return 0
	}

	command := os.Args[1]

	// Initialize logging only for commands that need it
	if needsLogging(command) {
		cfg := loadConfig()
		if err := logger.Init(cfg); err != nil {
			log.Fatalf("Failed to initialize logging: %v", err)
		}
		defer func() {
			if err := logger.Close(); err != nil {
				log.Printf("Failed to close logging: %v", err)
			}
		}()
		logger.LogCommand(os.Args)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Errorf("Failed to close database: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "connect":
		connectCommand()
	case "migrate":
		migrateCommand()
	case "migrate:status":
		migrationStatusCommand()
	case "db:info":
		dbInfoCommand()
	case "models:seed":
		if len(os.Args) < 3 {
			fmt.Println("Error: at least one model name required")
			fmt.Println("Usage: battery-etl models:seed <name> [name...]")
			return 1
		}
		seedModelsCommand(ctx, os.Args[2:])
	case "models:list":
		listModelsCommand(ctx)
	case "process":
		if len(os.Args) < 3 {
			fmt.Println("Error: object key required")
			fmt.Println("Usage: battery-etl process <key>")
			return 1
		}
		if err := processCommand(ctx, os.Args[2]); err != nil {
			logger.Errorf("Processing failed: %v\n", err)
			return 1
		}
	case "event":
		if len(os.Args) < 3 {
			fmt.Println("Error: event file required")
			fmt.Println("Usage: battery-etl event <event.json>")
			return 1
		}
		if err := eventCommand(ctx, os.Args[2]); err != nil {
			logger.Errorf("Processing failed: %v\n", err)
			return 1
		}
	case "generate":
		if len(os.Args) < 3 {
			fmt.Println("Error: output directory required")
			fmt.Println("Usage: battery-etl generate <directory> [devices] [rows] [files]")
			return 1
		}
		generateCommand(os.Args[2], os.Args[3:])
	case "help":
		showHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showHelp()
		return 1
	}
	return 0
}

// needsLogging determines which commands need logging
func needsLogging(command string) bool {
	loggingCommands := map[string]bool{
		"connect":        true,
		"migrate":        true,
		"migrate:status": true,
		"models:seed":    true,
		"process":        true,
		"event":          true,
	}
	return loggingCommands[command]
}

func showHelp() {
	fmt.Println("Battery Dashboard ETL - telemetry to dashboard CSV job")
	fmt.Println("")
	fmt.Println("Usage: battery-etl <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  connect                  Test database connection")
	fmt.Println("  migrate                  Apply pending schema steps")
	fmt.Println("  migrate:status           Show schema step status")
	fmt.Println("  db:info                  Show database information")
	fmt.Println("  models:seed <name>...    Insert available device models")
	fmt.Println("  models:list              Show device models and their MAC bindings")
	fmt.Println("  process <key>            Process one object from the source bucket")
	fmt.Println("  event <event.json>       Process a bucket notification event")
	fmt.Println("  generate <dir> [devices] [rows] [files]")
	fmt.Println("                           Write synthetic telemetry CSV files")
	fmt.Println("  help                     Show this help message")
	fmt.Println("")
	fmt.Println("Configuration:")
	fmt.Println("  Edit config.yaml; ETL_* variables and a .env file override it")
	fmt.Println("")
	fmt.Println("CSV File Format:")
	fmt.Println("  Header row is skipped; rows need at least 15 columns")
	fmt.Println("  0=timestamp 1=MAC 3=RAM load 6=battery health 7=temperature")
	fmt.Println("  9=estimated speed 10=energy consumption")
}

func loadConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func connectDatabase() (*config.Config, error) {
	cfg := loadConfig()

	if _, err := database.Connect(cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return cfg, nil
}

func connectCommand() {
	logger.Println("Testing database connection...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Connection failed: %v\n", err)
	}

	logger.Printf("Successfully connected to %s database\n", cfg.Database.Driver)

	info := database.GetDatabaseInfo(cfg)
	infoJSON, _ := json.MarshalIndent(info, "", "  ")
	logger.Printf("Connection info: %s\n", infoJSON)
}

func migrateCommand() {
	logger.Println("Running database migrations...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v\n", err)
	}

	runner := database.NewMigrationRunner(database.GetDB(), cfg)
	if err := runner.RunMigrations(); err != nil {
		logger.Fatalf("Migration failed: %v\n", err)
	}
}

func migrationStatusCommand() {
	logger.Println("Checking migration status...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v\n", err)
	}

	runner := database.NewMigrationRunner(database.GetDB(), cfg)
	steps, err := runner.GetMigrationStatus()
	if err != nil {
		logger.Fatalf("Failed to get migration status: %v\n", err)
	}

	logger.Printf("%-20s %-40s %s\n", "Version", "Name", "Status")
	logger.Println(strings.Repeat("-", 67))
	for _, step := range steps {
		status := "Pending"
		if step.Applied {
			status = "Applied"
		}
		logger.Printf("%-20s %-40s %s\n", step.Version, step.Name, status)
	}
}

func dbInfoCommand() {
	fmt.Println("Database Information:")
	fmt.Println(strings.Repeat("=", 50))

	cfg, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	info := database.GetDatabaseInfo(cfg)

	fmt.Printf("Database Type:     %v\n", info["driver"])
	fmt.Printf("Connection Status: %v\n", getConnectionStatusText(info["connected"]))

	switch cfg.Database.Driver {
	case "mysql", "postgres":
		fmt.Printf("Host:              %v\n", info["host"])
		fmt.Printf("Port:              %v\n", info["port"])
		fmt.Printf("Database:          %v\n", info["database"])
	case "sqlite":
		fmt.Printf("File Path:         %v\n", info["path"])
	}

	if info["connected"] == true {
		fmt.Println("\nConnection Pool:")
		fmt.Printf("  Max Connections: %v\n", info["max_open_connections"])
		fmt.Printf("  Open Connections:%v\n", info["open_connections"])
		fmt.Printf("  In Use:          %v\n", info["in_use"])
		fmt.Printf("  Idle:            %v\n", info["idle"])

		db := database.GetDB()
		var total, free int64
		db.Model(&models.DeviceModel{}).Count(&total)
		db.Model(&models.DeviceModel{}).Where("mac_address IS NULL OR mac_address = ''").Count(&free)
		fmt.Println("\nModel Pool:")
		fmt.Printf("  Total Models:    %d\n", total)
		fmt.Printf("  Bound:           %d\n", total-free)
		fmt.Printf("  Available:       %d\n", free)
	} else {
		fmt.Println("\nConnection failed - unable to retrieve detailed information")
	}

	fmt.Println(strings.Repeat("=", 50))
}

func getConnectionStatusText(connected interface{}) string {
	if conn, ok := connected.(bool); ok && conn {
		return "Connected"
	}
	return "Disconnected"
}

func seedModelsCommand(ctx context.Context, names []string) {
	if _, err := connectDatabase(); err != nil {
		logger.Fatalf("Failed to connect to database: %v\n", err)
	}

	created, err := modelpool.NewStore(database.GetDB()).Seed(ctx, names...)
	if err != nil {
		logger.Fatalf("Seed failed: %v\n", err)
	}
	for _, m := range created {
		logger.Printf("Inserted model %d: %s\n", m.ID, m.Name)
	}
}

func listModelsCommand(ctx context.Context) {
	if _, err := connectDatabase(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	all, err := modelpool.NewStore(database.GetDB()).List(ctx)
	if err != nil {
		log.Fatalf("List failed: %v", err)
	}

	fmt.Printf("%-8s %-30s %s\n", "ID", "Name", "MAC")
	fmt.Println(strings.Repeat("-", 60))
	for _, m := range all {
		mac := m.Mac()
		if mac == "" {
			mac = "(available)"
		}
		fmt.Printf("%-8d %-30s %s\n", m.ID, m.Name, mac)
	}
}

// newHandler wires the process-wide pieces shared by every run
func newHandler() (*pipeline.Handler, error) {
	cfg, err := connectDatabase()
	if err != nil {
		return nil, err
	}

	if cfg.Migration.AutoMigrate {
		if err := database.NewMigrationRunner(database.GetDB(), cfg).RunMigrations(); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	source, err := storage.NewDirBucket(cfg.Storage.SourceBucket, cfg.Storage.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("source bucket: %w", err)
	}
	dest, err := storage.NewDirBucket(cfg.Storage.DestinationBucket, cfg.Storage.DestinationRoot)
	if err != nil {
		return nil, fmt.Errorf("destination bucket: %w", err)
	}

	return pipeline.NewHandler(pipeline.HandlerConfig{
		Pool:              modelpool.NewStore(database.GetDB()),
		Source:            source,
		Destination:       dest,
		DestinationPrefix: cfg.Storage.DestinationPrefix,
		RunTimeout:        cfg.RunTimeout(),
		Metrics:           metrics.New(),
		MetricsTextfile:   cfg.Metrics.Textfile,
	}), nil
}

func processCommand(ctx context.Context, key string) error {
	handler, err := newHandler()
	if err != nil {
		return err
	}

	res, err := handler.Process(ctx, key)
	if err != nil {
		return err
	}
	logger.Printf("%s (%d rows, %d models)\n", pipeline.SuccessMessage, res.Accepted, res.Models)
	return nil
}

func eventCommand(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open event: %w", err)
	}
	ev, err := pipeline.DecodeEvent(file)
	file.Close()
	if err != nil {
		return err
	}

	handler, err := newHandler()
	if err != nil {
		return err
	}
	msg, err := handler.Handle(ctx, ev)
	if err != nil {
		return err
	}
	logger.Println(msg)
	return nil
}

func generateCommand(dir string, args []string) {
	opts := generator.Options{Files: 1, Devices: 5, Rows: 1440}
	targets := []*int{&opts.Devices, &opts.Rows, &opts.Files}
	for i, arg := range args {
		if i >= len(targets) {
			break
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			log.Fatalf("Invalid number %q", arg)
		}
		*targets[i] = n
	}

	results, err := generator.Generate(dir, opts)
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("Failed to write %s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Printf("Generated %s with %d records\n", r.Path, r.Rows)
	}
}
