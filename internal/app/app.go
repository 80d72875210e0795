// Package app maps loaded configuration onto the option types of the
// packages the binaries assemble.
package app

import (
	"github.com/maltedev/listing-harvester/internal/browser"
	"github.com/maltedev/listing-harvester/internal/cleaner"
	"github.com/maltedev/listing-harvester/internal/config"
	"github.com/maltedev/listing-harvester/internal/database"
	"github.com/maltedev/listing-harvester/internal/extract"
	"github.com/maltedev/listing-harvester/internal/harvest"
)

// BrowserOptions starts from the browser defaults so an empty user agent in
// the environment keeps the built-in one.
func BrowserOptions(c config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Headless
	opts.Timeout = c.Timeout
	opts.NavigationRetries = c.NavigationRetries
	opts.ViewportWidth = c.ViewportWidth
	opts.ViewportHeight = c.ViewportHeight
	opts.AcceptLanguage = c.AcceptLanguage
	opts.TimezoneID = c.TimezoneID
	opts.Locale = c.Locale
	opts.ProxyServer = c.ProxyServer
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

func HarvestConfig(c config.HarvestConfig) harvest.Config {
	ex := extract.DefaultOptions()
	ex.DetailTimeout = c.DetailTimeout
	ex.URLChangeTimeout = c.URLChangeTimeout

	return harvest.Config{
		NavigationTimeout: c.NavigationTimeout,
		ResultsTimeout:    c.ResultsTimeout,
		MaxIterations:     c.MaxIterations,
		ScrollDelay:       c.ScrollDelay,
		Extract:           ex,
		DiagnosticsDir:    c.DiagnosticsDir,
	}
}

func CleanerOptions(c config.RegionConfig) cleaner.Options {
	opts := cleaner.DefaultOptions()
	opts.Region = cleaner.RegionPolicy{
		City:          c.City,
		Regency:       c.Regency,
		CityMarker:    c.CityMarker,
		RegencyMarker: c.RegencyMarker,
		AreaMarker:    c.AreaMarker,
		CityDistricts: c.CityDistricts,
	}
	return opts
}

func DatabaseConfig(c config.DatabaseConfig) database.Config {
	return database.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.DBName,
		SSLMode:  c.SSLMode,
		MaxConns: c.MaxConns,
	}
}

func RelayConfig(c config.RelayConfig) database.RelayConfig {
	return database.RelayConfig{PollInterval: c.PollInterval, BatchSize: c.BatchSize}
}
