package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maltedev/listing-harvester/internal/app"
	"github.com/maltedev/listing-harvester/internal/cleaner"
	"github.com/maltedev/listing-harvester/internal/config"
	"github.com/maltedev/listing-harvester/internal/models"
	"github.com/maltedev/listing-harvester/internal/storage"
	"github.com/maltedev/listing-harvester/pkg/logger"
)

func main() {
	var (
		input  = flag.String("input", "", "Harvest output to clean (.csv or .json)")
		output = flag.String("output", "", "Cleaned CSV path (default: <input>_cleaned.csv)")
	)
	flag.Parse()

	if *input == "" {
		fmt.Println("Please provide a harvest file with -input")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	table, err := load(*input)
	if err != nil {
		logger.Error("Failed to load data", "file", *input, "error", err)
		os.Exit(1)
	}
	logger.Info("Data loaded", "rows", len(table.Rows), "columns", len(table.Header))

	cleaned, report := cleaner.New(app.CleanerOptions(cfg.Region), logger).Clean(table)

	dest := *output
	if dest == "" {
		dest = strings.TrimSuffix(*input, filepath.Ext(*input)) + "_cleaned.csv"
	}
	if err := storage.WriteRows(dest, cleaned.Header, cleaned.Rows); err != nil {
		logger.Error("Failed to save cleaned data", "file", dest, "error", err)
		os.Exit(1)
	}

	printReport(report, dest)
}

func load(path string) (cleaner.Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		records, err := storage.ReadJSON(path)
		if err != nil {
			return cleaner.Table{}, err
		}
		return fromRecords(records), nil
	}

	header, rows, err := storage.ReadCSV(path)
	if err != nil {
		return cleaner.Table{}, err
	}
	return cleaner.Table{Header: header, Rows: rows}, nil
}

// fromRecords takes the header from the first record; harvest output shares
// one key order across all records.
func fromRecords(records []*models.Record) cleaner.Table {
	var t cleaner.Table
	if len(records) == 0 {
		return t
	}
	t.Header = records[0].Keys()
	for _, r := range records {
		vals := r.Values()
		values := make(map[string]string, len(vals))
		for i, key := range r.Keys() {
			values[key] = vals[i]
		}
		row := make([]string, len(t.Header))
		for i, key := range t.Header {
			row[i] = values[key]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func printReport(r cleaner.Report, dest string) {
	fmt.Println()
	fmt.Printf("Rows in:            %d\n", r.Input)
	fmt.Printf("Rows out:           %d\n", r.Output)
	fmt.Printf("Duplicates removed: %d\n", r.DuplicatesRemoved)
	fmt.Printf("Unnamed:            %d\n", r.Unnamed)
	fmt.Printf("Valid ratings:      %d (mean %.2f)\n", r.ValidRatings, r.MeanRating)
	fmt.Printf("Valid coordinates:  %d\n", r.ValidCoordinates)
	fmt.Printf("Districts:          %d\n", r.Districts)
	fmt.Printf("With phone:         %d\n", r.WithPhone)
	fmt.Printf("With website:       %d\n", r.WithWebsite)

	regions := make([]string, 0, len(r.Regions))
	for name := range r.Regions {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	for _, name := range regions {
		fmt.Printf("  %-20s %d\n", name, r.Regions[name])
	}
	fmt.Printf("Saved:              %s\n", dest)
}
