package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/listing-harvester/internal/app"
	"github.com/maltedev/listing-harvester/internal/browser"
	"github.com/maltedev/listing-harvester/internal/config"
	"github.com/maltedev/listing-harvester/internal/harvest"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/storage"
	"github.com/maltedev/listing-harvester/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	var (
		variantName = flag.String("variant", cfg.Harvest.Variant, "Source to harvest: "+strings.Join(schema.Names(), ", "))
		query       = flag.String("query", cfg.Harvest.Query, "Search query")
		location    = flag.String("location", cfg.Harvest.Location, "Location appended to the query")
		maxResults  = flag.Int("max", cfg.Harvest.MaxResults, "Maximum number of listings to extract")
		headless    = flag.Bool("headless", cfg.Browser.Headless, "Run browser in headless mode")
		outputDir   = flag.String("output", cfg.Harvest.OutputDir, "Directory for the JSON and CSV output")
	)
	flag.Parse()

	cfg.Harvest.MaxResults = *maxResults
	cfg.Harvest.OutputDir = *outputDir
	cfg.Browser.Headless = *headless
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	variant, err := schema.Lookup(*variantName)
	if err != nil {
		log.Printf("Invalid variant: %v", err)
		return 1
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting listing harvester", "variant", variant.Name, "query", *query, "location", *location, "max", *maxResults)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, keeping what was collected")
		cancel()
	}()

	b, err := browser.New(app.BrowserOptions(cfg.Browser), logger)
	if err != nil {
		logger.Error("Failed to initialize browser", "error", err)
		return 1
	}
	defer b.Close()

	session := harvest.NewSession(b, variant,
		ratelimit.NewThrottle(cfg.Harvest.PaceMin, cfg.Harvest.PaceMax),
		app.HarvestConfig(cfg.Harvest), logger)

	res, err := session.Run(ctx, harvest.Query{Query: *query, Location: *location, TargetCount: *maxResults})
	if err != nil {
		logger.Error("Harvest did not start", "error", err)
		return 1
	}

	searchTerm := *query
	if *location != "" {
		searchTerm += " " + *location
	}
	paths, err := storage.NewWriter(cfg.Harvest.OutputDir, logger).Write(storage.Output{
		Variant: variant.Name,
		Query:   searchTerm,
		Header:  variant.Schema.Header(),
		Records: res.Records,
	})
	if err != nil {
		logger.Error("Failed to write results", "error", err)
		return 1
	}

	printSummary(res, paths)

	if res.Status != harvest.Completed {
		return 1
	}
	return 0
}

func printSummary(res *harvest.Result, paths storage.Paths) {
	sum := res.Summary()
	fmt.Println()
	fmt.Printf("Status:        %s\n", res.Status)
	if res.Error != "" {
		fmt.Printf("Error:         %s\n", res.Error)
	}
	fmt.Printf("Discovered:    %d\n", res.Discovered)
	fmt.Printf("Extracted:     %d\n", sum.Total)
	fmt.Printf("Skipped:       %d\n", res.Skipped)
	fmt.Printf("With phone:    %d\n", sum.WithPhone)
	fmt.Printf("With website:  %d\n", sum.WithWebsite)
	fmt.Printf("Duration:      %s\n", res.Duration().Round(time.Millisecond))
	fmt.Printf("JSON:          %s\n", paths.JSON)
	fmt.Printf("CSV:           %s\n", paths.CSV)
	for _, d := range res.Diagnostics {
		fmt.Printf("Diagnostic:    %s\n", d)
	}
}
