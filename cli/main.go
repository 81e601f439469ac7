package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kardianos/service"

	"github.com/altenk/llmledger/cli/internal/config"
	"github.com/altenk/llmledger/cli/internal/output"
	"github.com/altenk/llmledger/cli/internal/push"
	"github.com/altenk/llmledger/internal/ingest"
	"github.com/altenk/llmledger/internal/ledger"
	"github.com/altenk/llmledger/internal/model"
	"github.com/altenk/llmledger/internal/pricing"
	"github.com/altenk/llmledger/internal/report"
)

const version = "0.3.0"

func main() {
	command := "report"
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "track", "report", "config", "push", "watch":
			command = args[0]
			args = args[1:]
		case "-h", "--help", "help":
			usage()
			return
		case "-v", "--version", "version":
			fmt.Printf("llmledger version %s\n", version)
			return
		}
	}

	switch command {
	case "track":
		runTrack(args)
	case "report":
		runReport(args)
	case "config":
		runConfig(args)
	case "push":
		runPush(args)
	case "watch":
		runWatch(args)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `llmledger - LLM usage and cost ledger

Usage: llmledger [command] [options]

Commands:
  track     Ingest a usage event from stdin and print a receipt
  report    Show cost report (default)
  config    Configure paths and server push
  push      Push ledgered events to a server
  watch     Tail a JSONL event file and track each line

Examples:
  echo '{"provider":"openai","model":"gpt-4o","usage_raw":{...}}' | llmledger track
  llmledger track --batch < events.jsonl
  llmledger report --period day --date 2026-08-28
  llmledger report --period month --date 2026-08 --json
  llmledger config --server https://example.com --api-key <key>
  llmledger push
`)
}

// openEngine opens the ledger and pricing registry per the resolved config.
func openEngine() (*ingest.Engine, *ledger.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dbPath, err := config.ResolveDBPath(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := ledger.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}

	var reg *pricing.Registry
	if path := config.ResolvePricingPath(cfg); path != "" {
		reg, err = pricing.Load(path)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("loading pricing registry: %w", err)
		}
	}

	return ingest.New(store, reg), store, nil
}

// errorReceipt is what track emits when an event cannot be ledgered.
type errorReceipt struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func printReceipt(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.Encode(v)
}

func runTrack(args []string) {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	var batch bool
	fs.BoolVar(&batch, "batch", false, "Read JSONL from stdin, one event per line")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: llmledger track [options] < event.json

Reads a usage event as JSON from stdin, normalizes and prices it, appends
it to the ledger, and prints a receipt. With --batch, reads one event per
line and prints one receipt per line.

Options:
`)
		fs.PrintDefaults()
	}

	fs.Parse(args)

	eng, store, err := openEngine()
	if err != nil {
		printReceipt(errorReceipt{Status: "error", Message: err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	if batch {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		failed := false
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev model.RawUsageEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				printReceipt(errorReceipt{Status: "error", Message: fmt.Sprintf("invalid event: %v", err)})
				failed = true
				continue
			}
			receipt, err := eng.Track(&ev)
			if err != nil {
				printReceipt(errorReceipt{Status: "error", Message: err.Error()})
				failed = true
				continue
			}
			printReceipt(receipt)
		}
		if err := scanner.Err(); err != nil {
			printReceipt(errorReceipt{Status: "error", Message: fmt.Sprintf("reading stdin: %v", err)})
			failed = true
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	var ev model.RawUsageEvent
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		printReceipt(errorReceipt{Status: "error", Message: fmt.Sprintf("invalid event: %v", err)})
		os.Exit(1)
	}
	receipt, err := eng.Track(&ev)
	if err != nil {
		printReceipt(errorReceipt{Status: "error", Message: err.Error()})
		os.Exit(1)
	}
	printReceipt(receipt)
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	var (
		period  string
		date    string
		jsonOut bool
		compact bool
	)
	fs.StringVar(&period, "period", "day", "Report period: day or month")
	fs.StringVar(&date, "date", "", "Day (YYYY-MM-DD) or month (YYYY-MM); defaults to today")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	fs.BoolVar(&compact, "compact", false, "Force compact table output")
	fs.BoolVar(&compact, "c", false, "Force compact table output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: llmledger report [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  llmledger report
  llmledger report --period day --date 2026-08-28
  llmledger report --period month --date 2026-08 --json
`)
	}

	fs.Parse(args)

	_, store, err := openEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch period {
	case "day":
		rep, err := report.Daily(store, date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOut {
			output.PrintDailyJSON(rep)
		} else {
			output.PrintDailyWithOptions(rep, output.TableOptions{ForceCompact: compact})
		}
	case "month":
		rep, err := report.Monthly(store, date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOut {
			output.PrintMonthlyJSON(rep)
		} else {
			output.PrintMonthly(rep)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown period %q (use day or month)\n", period)
		os.Exit(1)
	}
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		server      string
		apiKey      string
		dbPath      string
		pricingPath string
		show        bool
	)
	fs.StringVar(&server, "server", "", "Server URL for push")
	fs.StringVar(&apiKey, "api-key", "", "API key for authentication")
	fs.StringVar(&dbPath, "db", "", "Ledger database path")
	fs.StringVar(&pricingPath, "pricing", "", "Pricing registry path")
	fs.BoolVar(&show, "show", false, "Show current configuration")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: llmledger config [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  llmledger config --db /var/lib/llmledger/ledger.db --pricing ./pricing.json
  llmledger config --server https://example.com --api-key llml_xxx
  llmledger config --show
`)
	}

	fs.Parse(args)

	if show {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		dbPath, _ := config.ResolveDBPath(cfg)
		fmt.Printf("Ledger: %s\n", dbPath)
		if p := config.ResolvePricingPath(cfg); p != "" {
			fmt.Printf("Pricing: %s\n", p)
		} else {
			fmt.Println("Pricing: (none - events ledger with price_missing)")
		}
		if cfg.Server != "" {
			fmt.Printf("Server: %s\n", cfg.Server)
		}
		if len(cfg.APIKey) > 14 {
			fmt.Printf("API Key: %s...%s\n", cfg.APIKey[:10], cfg.APIKey[len(cfg.APIKey)-4:])
		}
		if cfg.ClientID != "" {
			fmt.Printf("Client ID: %s\n", cfg.ClientID)
		}
		return
	}

	if server == "" && apiKey == "" && dbPath == "" && pricingPath == "" {
		fs.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	if server != "" {
		cfg.Server = server
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if pricingPath != "" {
		cfg.PricingPath = pricingPath
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration saved.")
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var (
		file      string
		interval  time.Duration
		fromStart bool
	)
	fs.StringVar(&file, "file", "", "JSONL event file to tail (required)")
	fs.DurationVar(&interval, "interval", 2*time.Second, "Poll interval")
	fs.BoolVar(&fromStart, "from-start", false, "Track existing lines before tailing")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: llmledger watch --file <events.jsonl> [options]

Tails a JSONL event file and tracks every appended line. Runs in the
foreground until interrupted.

Options:
`)
		fs.PrintDefaults()
	}

	fs.Parse(args)

	if file == "" {
		fs.Usage()
		os.Exit(1)
	}

	eng, store, err := openEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var offset int64
	if !fromStart {
		if info, err := os.Stat(file); err == nil {
			offset = info.Size()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("Watching %s (interval %s). Press Ctrl+C to stop.\n", file, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped.")
			return
		case <-ticker.C:
			offset = trackNewLines(eng, file, offset)
		}
	}
}

// trackNewLines reads lines appended past offset and tracks each one,
// returning the new offset. A truncated file restarts from the top.
func trackNewLines(eng *ingest.Engine, file string, offset int64) int64 {
	f, err := os.Open(file)
	if err != nil {
		return offset
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset
	}

	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}

	reader := bufio.NewReader(f)
	read := offset
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			// Incomplete trailing line waits for the next poll
			break
		}
		read += int64(len(raw))
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		var ev model.RawUsageEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping malformed line: %v\n", err)
			continue
		}
		receipt, err := eng.Track(&ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping event: %v\n", err)
			continue
		}
		fmt.Printf("Tracked %s/%s: %s (daily total %s)\n",
			ev.Provider, ev.Model,
			output.FormatCost(receipt.Transaction.CostUSD),
			output.FormatCost(receipt.Totals.DailyCostUSD))
	}
	return read
}

// pushService implements service.Interface for background pushing
type pushService struct {
	interval time.Duration
	stop     chan struct{}
	logger   service.Logger
}

func (s *pushService) Start(svc service.Service) error {
	s.stop = make(chan struct{})
	go s.run()
	return nil
}

func (s *pushService) Stop(svc service.Service) error {
	close(s.stop)
	return nil
}

func (s *pushService) run() {
	cfg, err := config.Load()
	if err != nil || cfg.Server == "" || cfg.APIKey == "" {
		if s.logger != nil {
			s.logger.Error("Not configured. Run 'llmledger config' first.")
		}
		return
	}

	client := push.NewClient(cfg)

	// Push immediately on start
	s.doPush(client, cfg)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doPush(client, cfg)
		case <-s.stop:
			return
		}
	}
}

func (s *pushService) doPush(client *push.Client, cfg *config.Config) {
	inserted, err := pushOnce(client, cfg, false)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error pushing: %v", err)
		}
		return
	}
	if inserted > 0 && s.logger != nil {
		s.logger.Infof("Pushed %d records", inserted)
	}
}

// pushOnce ships every local record newer than the server's latest.
func pushOnce(client *push.Client, cfg *config.Config, dryRun bool) (int64, error) {
	dbPath, err := config.ResolveDBPath(cfg)
	if err != nil {
		return 0, err
	}
	store, err := ledger.Open(dbPath)
	if err != nil {
		return 0, fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	var after time.Time
	if latest, err := client.GetLatest(); err == nil && latest != nil {
		after = *latest
	}

	records, err := store.RecordsAfter(after, 1000)
	if err != nil {
		return 0, fmt.Errorf("reading ledger: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if dryRun {
		return int64(len(records)), nil
	}

	return client.Push(records)
}

func runPush(args []string) {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	var (
		dryRun   bool
		interval time.Duration
	)
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would be pushed without sending")
	fs.DurationVar(&interval, "interval", time.Hour, "Push interval for service mode (e.g., 1h, 30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: llmledger push [command] [options]

Commands:
  (none)      Push once
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  llmledger push                       Push once
  llmledger push install               Install service (pushes every hour)
  llmledger push install --interval 30m
  llmledger push stop
`)
	}

	// Check for service commands before parsing flags
	var svcCommand string
	if len(args) > 0 {
		switch args[0] {
		case "install", "start", "stop", "uninstall", "status", "run":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs.Parse(args)

	svcConfig := &service.Config{
		Name:        "llmledger-push",
		DisplayName: "llmledger Push Service",
		Description: "Automatically pushes ledgered LLM usage to a server",
		Arguments:   []string{"push", "run", fmt.Sprintf("--interval=%s", interval)},
	}

	svc := &pushService{interval: interval}
	s, err := service.New(svc, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch svcCommand {
	case "install":
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'llmledger config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Printf("Service installed and started.\n")
		fmt.Printf("Push interval: %s\n", interval)

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}

	case "run":
		// Running as the installed service
		logger, err := s.Logger(nil)
		if err == nil {
			svc.logger = logger
		}
		if err := s.Run(); err != nil && logger != nil {
			logger.Error(err)
		}

	default:
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'llmledger config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}

		client := push.NewClient(cfg)
		inserted, err := pushOnce(client, cfg, dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pushing: %v\n", err)
			os.Exit(1)
		}
		if inserted == 0 {
			fmt.Println("No new records to push.")
			return
		}
		if dryRun {
			fmt.Printf("Found %d new records to push. Dry run - no data sent.\n", inserted)
			return
		}
		fmt.Printf("Push complete. %d records inserted.\n", inserted)
	}
}
