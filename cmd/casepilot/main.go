// Package main provides the casepilot command: a resilient automation engine
// that walks a paginated case list in a vendor web application, uploads
// attestation documents and enters billing periods, surviving lazy rendering,
// flaky sessions and mid-run restarts.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/casepilot/casepilot/pkg/browser"
	"github.com/casepilot/casepilot/pkg/commands"
	appconfig "github.com/casepilot/casepilot/pkg/config"
	"github.com/casepilot/casepilot/pkg/document"
	"github.com/casepilot/casepilot/pkg/engine"
	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/types"
	"github.com/casepilot/casepilot/pkg/vendorui"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigFile  string
	ProfileFile string
	ListURL     string
	Username    string
	Password    string

	Start      string
	End        string
	RatePerDay int64
	Filter     string
	Skip       string
	FromIndex  int
	BackendURL string

	Upload  bool
	Billing bool

	Headless    bool
	CommandMode bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("casepilot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks the run to stop cooperatively; a second one
	// abandons the in-flight item.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	stopRequests := make(chan struct{}, 1)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nstop requested, finishing current item...")
		select {
		case stopRequests <- struct{}{}:
		default:
		}
		<-sigChan
		fmt.Fprintln(os.Stderr, "forced shutdown")
		cancel()
	}()

	if err := run(ctx, cli, stopRequests); err != nil {
		fmt.Fprintf(os.Stderr, "casepilot: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to the config store (default ~/.casepilot/config.json)")
	flag.StringVar(&cli.ProfileFile, "profile", "", "Path to the vendor UI selector profile (YAML)")
	flag.StringVar(&cli.ListURL, "list-url", "", "Direct URL of the case list (overrides the profile)")
	flag.StringVar(&cli.Username, "username", os.Getenv("CASEPILOT_USERNAME"), "Vendor portal username")
	flag.StringVar(&cli.Password, "password", os.Getenv("CASEPILOT_PASSWORD"), "Vendor portal password")

	flag.StringVar(&cli.Start, "start", "", "Billing period start (2006-01-02)")
	flag.StringVar(&cli.End, "end", "", "Billing period end (2006-01-02)")
	flag.Int64Var(&cli.RatePerDay, "rate", 0, "Daily rate in cents")
	flag.StringVar(&cli.Filter, "filter", "", "Only process records matching this name filter")
	flag.StringVar(&cli.Skip, "skip", "", "Comma-separated record names or globs to skip")
	flag.IntVar(&cli.FromIndex, "from", 0, "Queue index to resume from")
	flag.StringVar(&cli.BackendURL, "backend-url", "", "Document backend rendering attestation PDFs (local rendering when empty)")

	flag.BoolVar(&cli.Upload, "upload", true, "Generate and upload attestation documents")
	flag.BoolVar(&cli.Billing, "billing", true, "Enter billing periods")

	flag.BoolVar(&cli.Headless, "headless", true, "Run the browser without a visible window")
	flag.BoolVar(&cli.CommandMode, "serve", false, "Read JSON commands from stdin instead of running directly")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "casepilot - case record automation engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: casepilot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Full run over every record\n")
		fmt.Fprintf(os.Stderr, "  casepilot -profile vendor.yaml -start 2024-01-01 -end 2024-01-31 -rate 4800\n\n")
		fmt.Fprintf(os.Stderr, "  # Resume a run from queue position 12, skipping two records\n")
		fmt.Fprintf(os.Stderr, "  casepilot -profile vendor.yaml -from 12 -skip \"Muster*,Anna Adams\"\n\n")
		fmt.Fprintf(os.Stderr, "  # Drive the engine from another process\n")
		fmt.Fprintf(os.Stderr, "  casepilot -profile vendor.yaml -serve < commands.jsonl\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig, stopRequests <-chan struct{}) error {
	log, err := logging.NewLogger("main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer log.Close()
	log.Infof("casepilot v%s starting", version)

	settings, err := loadSettings(cli, log)
	if err != nil {
		return err
	}

	profile, err := loadProfile(cli, settings)
	if err != nil {
		return err
	}

	lock, err := engine.NewRunLock("", log)
	if err != nil {
		return err
	}
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	manager := browser.NewManager()
	if err := manager.Initialize(); err != nil {
		return err
	}
	defer manager.Shutdown()
	if _, err := manager.Start(browser.SessionOptions{Headless: cli.Headless}); err != nil {
		return err
	}

	driver := vendorui.NewDriver(manager, profile, vendorui.Credentials{
		Username: cli.Username,
		Password: cli.Password,
	}, log)
	if err := driver.Login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := driver.NavigateToList(ctx); err != nil {
		return fmt.Errorf("case list unreachable: %w", err)
	}

	generator, err := document.NewGenerator("", log)
	if err != nil {
		return err
	}

	pager := engine.NewPager(driver)
	locator := engine.NewLocator(driver, pager)
	supervisor := engine.NewSupervisor(driver, log, printEvent)
	visit := engine.NewVisitController(driver, pager, locator, generator, supervisor, log)

	dispatcher := commands.NewDispatcher(driver, pager, locator, visit, lock, settings, log, printEvent)

	if cli.CommandMode {
		return serveCommands(ctx, dispatcher)
	}
	return runDirect(ctx, cli, dispatcher, stopRequests)
}

// runDirect scrapes the list and processes the whole queue.
func runDirect(ctx context.Context, cli *CLIConfig, dispatcher *commands.Dispatcher, stopRequests <-chan struct{}) error {
	resp := dispatcher.Dispatch(ctx, types.CommandRequest{Command: types.CommandScrapeList})
	if !resp.OK {
		return fmt.Errorf("scrape failed: %s", resp.Error)
	}
	fmt.Fprintf(os.Stderr, "queue: %d records\n", len(resp.Items))

	resp = dispatcher.Dispatch(ctx, types.CommandRequest{
		Command:   types.CommandRunStart,
		FromIndex: cli.FromIndex,
	})
	if !resp.OK {
		return fmt.Errorf("run start failed: %s", resp.Error)
	}

	for {
		select {
		case <-runFinished:
			return nil
		case <-stopRequests:
			dispatcher.Dispatch(ctx, types.CommandRequest{Command: types.CommandRunStop})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runFinished is signaled by printEvent when a terminal run event passes
// through.
var runFinished = make(chan struct{}, 1)

// printEvent writes one progress event as a JSON line on stdout.
func printEvent(e types.ProgressEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(data))
	if e.IsTerminal() {
		select {
		case runFinished <- struct{}{}:
		default:
		}
	}
}

// serveCommands reads one JSON command envelope per stdin line and answers
// each with a JSON response line on stdout.
func serveCommands(ctx context.Context, dispatcher *commands.Dispatcher) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req types.CommandRequest
		var resp types.CommandResponse
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			resp = types.ErrorResponse(fmt.Errorf("bad command envelope: %w", err))
		} else {
			resp = dispatcher.Dispatch(ctx, req)
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return scanner.Err()
}

// loadSettings merges the persisted run section with command-line overrides.
func loadSettings(cli *CLIConfig, log *logging.Logger) (appconfig.RunSettings, error) {
	store, err := appconfig.NewFileStore(cli.ConfigFile)
	if err != nil {
		return appconfig.RunSettings{}, err
	}

	section := appconfig.NewRunSection()
	if err := section.LoadFrom(store); err != nil {
		log.Warnf("config load failed, using defaults: %v", err)
	}
	settings := section.Settings()

	if cli.Start != "" {
		settings.Start = cli.Start
	}
	if cli.End != "" {
		settings.End = cli.End
	}
	if cli.RatePerDay != 0 {
		settings.RatePerDayCents = cli.RatePerDay
	}
	if cli.Filter != "" {
		settings.Filter = cli.Filter
	}
	if cli.Skip != "" {
		for _, name := range strings.Split(cli.Skip, ",") {
			if name = strings.TrimSpace(name); name != "" {
				settings.SkipNames = append(settings.SkipNames, name)
			}
		}
	}
	if cli.BackendURL != "" {
		settings.BackendURL = cli.BackendURL
	}
	if cli.ProfileFile != "" {
		settings.ProfilePath = cli.ProfileFile
	}
	settings.Upload = cli.Upload
	settings.Billing = cli.Billing
	return settings, nil
}

// loadProfile resolves the vendor UI profile from flags and settings.
func loadProfile(cli *CLIConfig, settings appconfig.RunSettings) (*vendorui.Profile, error) {
	var profile *vendorui.Profile
	if settings.ProfilePath != "" {
		p, err := vendorui.LoadProfile(settings.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = p
	} else {
		profile = vendorui.DefaultProfile()
	}
	if cli.ListURL != "" {
		profile.ListURL = cli.ListURL
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}
