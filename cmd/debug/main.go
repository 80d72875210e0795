package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/maltedev/listing-harvester/internal/app"
	"github.com/maltedev/listing-harvester/internal/automation"
	"github.com/maltedev/listing-harvester/internal/browser"
	"github.com/maltedev/listing-harvester/internal/config"
	"github.com/maltedev/listing-harvester/internal/harvest"
	"github.com/maltedev/listing-harvester/internal/ratelimit"
	"github.com/maltedev/listing-harvester/internal/schema"
	"github.com/maltedev/listing-harvester/internal/snapshot"
	"github.com/maltedev/listing-harvester/pkg/logger"
)

func main() {
	var (
		url         = flag.String("url", "", "URL to capture")
		replay      = flag.String("replay", "", "Captured HTML file to run a variant against")
		variantName = flag.String("variant", "maps", "Variant whose selectors are checked")
		screenshot  = flag.String("screenshot", "debug.png", "Screenshot filename")
		html        = flag.String("html", "debug.html", "HTML output filename")
		headless    = flag.Bool("headless", false, "Run browser in headless mode")
		limit       = flag.Int("max", 20, "Listings to extract on replay")
	)
	flag.Parse()

	if *url == "" && *replay == "" {
		fmt.Println("Please provide a URL with -url or a captured file with -replay")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	variant, err := schema.Lookup(*variantName)
	if err != nil {
		logger.Error("Unknown variant", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *replay != "" {
		if err := replayFile(ctx, *replay, variant, *limit, logger); err != nil {
			logger.Error("Replay failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg.Browser.Headless = *headless
	b, err := browser.New(app.BrowserOptions(cfg.Browser), logger)
	if err != nil {
		logger.Error("Failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := capture(ctx, b, *url, variant, *screenshot, *html, logger); err != nil {
		logger.Error("Capture failed", "error", err)
		os.Exit(1)
	}
}

func capture(ctx context.Context, b *browser.Browser, url string, variant schema.Variant, screenshot, htmlFile string, logger *slog.Logger) error {
	page, err := b.OpenPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	logger.Info("Navigating to URL", "url", url)
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}

	if err := page.WaitFor(ctx, variant.ResultsSelector, 15*time.Second); err != nil {
		logger.Warn("Results selector did not appear", "selector", variant.ResultsSelector, "error", err)
	}

	if err := page.Screenshot(screenshot); err != nil {
		logger.Error("Failed to take screenshot", "error", err)
	} else {
		logger.Info("Screenshot saved", "file", screenshot)
	}

	content, err := page.Content(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page content: %w", err)
	}
	if err := os.WriteFile(htmlFile, []byte(snapshot.Capture(page.CurrentURL(), content)), 0o644); err != nil {
		return fmt.Errorf("failed to save HTML: %w", err)
	}
	logger.Info("HTML saved", "file", htmlFile)

	reportSelectors(ctx, page, variant)
	return nil
}

// reportSelectors prints how many nodes each variant selector matches.
func reportSelectors(ctx context.Context, page automation.Page, variant schema.Variant) {
	fmt.Println()
	fmt.Println("=== Selector matches ===")
	check := func(label, selector string) {
		els, err := page.LocateAll(ctx, selector, nil)
		if err != nil {
			fmt.Printf("%-12s %-45s error: %v\n", label, selector, err)
			return
		}
		fmt.Printf("%-12s %-45s %d\n", label, selector, len(els))
	}
	check("results", variant.ResultsSelector)
	for _, c := range variant.Containers {
		check("container", c)
	}
	for _, r := range variant.References {
		check("reference", r)
	}
	if variant.DetailSelector != "" {
		check("detail", variant.DetailSelector)
	}
}

type snapshotOpener struct {
	page *snapshot.Page
}

func (o snapshotOpener) OpenPage(ctx context.Context) (automation.Page, error) {
	return o.page, nil
}

// replayFile runs a full session over a captured page. Clicks have no effect
// offline, so detail waits are kept short and URL changes are not awaited.
func replayFile(ctx context.Context, path string, variant schema.Variant, limit int, logger *slog.Logger) error {
	page, err := snapshot.Open(path)
	if err != nil {
		return err
	}
	reportSelectors(ctx, page, variant)

	cfg := harvest.DefaultConfig()
	cfg.ScrollDelay = 0
	cfg.MaxIterations = 1
	cfg.Extract.DetailTimeout = 100 * time.Millisecond
	cfg.Extract.URLChangeTimeout = 0

	res, err := harvest.NewSession(snapshotOpener{page: page}, variant, ratelimit.NoPacing{}, cfg, logger).
		Run(ctx, harvest.Query{Query: "replay", TargetCount: limit})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("=== Replay: %s (%s) ===\n", path, res.Status)
	for _, rec := range res.Records {
		fmt.Printf("#%d\n", rec.Index)
		for _, f := range rec.Fields {
			fmt.Printf("  %-15s %s\n", f.Key, f.Value)
		}
	}
	sum := res.Summary()
	fmt.Printf("\nExtracted %d of %d discovered, %d skipped, %d with phone, %d with website\n",
		sum.Total, res.Discovered, res.Skipped, sum.WithPhone, sum.WithWebsite)
	return nil
}
