package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/feedrail/shopfeed/internal/output"
	"github.com/feedrail/shopfeed/internal/runner"
	"github.com/feedrail/shopfeed/internal/settings"
	"github.com/feedrail/shopfeed/pkg/config"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/feedrail/shopfeed/pkg/metrics"
	"github.com/joho/godotenv"
)

// optionFlags collects repeated -set key=value pairs into the flat option
// map the settings layer consumes.
type optionFlags map[string]string

func (o optionFlags) String() string { return "" }

func (o optionFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	o[key] = value
	return nil
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "export"})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "export",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	options := optionFlags{}
	shop := flag.String("shop", "", "shop name (the myshopify subdomain)")
	token := flag.String("token", "", "admin API OAuth token")
	dataTypes := flag.String("data-types", "", "comma-separated data types (products,meta,collections,...)")
	outPath := flag.String("o", "", "output file (default stdout)")
	flag.Var(options, "set", "additional run option as key=value (repeatable)")
	flag.Parse()

	if *shop != "" {
		options["shop_name"] = *shop
	}
	if *token != "" {
		options["oauth_token"] = *token
	}
	if *dataTypes != "" {
		options["data_types"] = *dataTypes
	}

	parsed, err := settings.Parse(options)
	if err != nil {
		logg.Error(context.Background(), "invalid run options", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Export.RunTimeout)
	defer cancel()
	ctx = logg.WithShop(ctx, parsed.ShopName)

	dst := os.Stdout
	if *outPath != "" {
		file, err := os.Create(*outPath)
		if err != nil {
			logg.Error(ctx, "failed to open output file", err)
			os.Exit(1)
		}
		defer file.Close()
		dst = file
	}

	mgr := runner.New(cfg, parsed, logg, metrics.NewPullMetrics(nil))

	if parsed.RequestType == settings.RequestTypeList {
		if err := mgr.List(ctx, dst); err != nil {
			logg.Error(ctx, "listing failed", err)
			os.Exit(1)
		}
		return
	}

	sink := output.NewCSVSink(dst, output.CSVOptions{
		Delimiter:       parsed.Delimiter,
		Enclosure:       parsed.Enclosure,
		Escape:          parsed.Escape,
		StripCharacters: parsed.StripCharacters,
	})
	if err := mgr.Run(ctx, sink); err != nil {
		logg.Error(ctx, "export failed", err)
		os.Exit(1)
	}
}
