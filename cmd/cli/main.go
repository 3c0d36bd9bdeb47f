package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/config"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/notionsync"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(cfg)
	case "report":
		runReport(cfg)
	case "market":
		runMarket(cfg)
	case "query":
		runQuery(cfg)
	case "list":
		runList(cfg)
	case "upload":
		runUpload(cfg)
	case "sync-notion":
		runSyncNotion(cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Receipt Assistant CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest       Extract and store a receipt image (local path or gs:// URI)")
	fmt.Println("  report       Monthly spending report")
	fmt.Println("  market       Recent US market summary")
	fmt.Println("  query        Ask a question about your spending")
	fmt.Println("  list         List stored purchases")
	fmt.Println("  upload       Upload a receipt image to GCS")
	fmt.Println("  sync-notion  Export purchases to a Notion database")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// command holds what every subcommand shares once its flags are parsed.
type command struct {
	cfg      config.Config
	log      zerolog.Logger
	services *assistant.Services
	asJSON   bool
}

// newCommand registers the shared flags on fs, parses args and builds the services.
// extra registers command-specific flags before parsing.
func newCommand(name string, cfg config.Config, extra func(fs *flag.FlagSet)) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg.RegisterFlags(fs)
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	if extra != nil {
		extra(fs)
	}
	fs.Parse(os.Args[2:])

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	return &command{
		cfg:      cfg,
		log:      log,
		services: assistant.NewServices(cfg),
		asJSON:   *asJSON,
	}
}

func (c *command) context(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return logger.WithContext(ctx, c.log), cancel
}

// route runs one task and prints its result. Errors are fatal.
func (c *command) route(req assistant.Request) {
	defer c.services.Close()

	ctx, cancel := c.context(5 * time.Minute)
	defer cancel()

	res, err := c.services.Router().Route(ctx, req)
	if err != nil {
		c.log.Fatal().Err(err).Str("kind", string(req.Kind)).Msg("Task failed")
	}

	if c.asJSON {
		printJSON(res)
		return
	}
	printResult(os.Stdout, res)
}

func runIngest(cfg config.Config) {
	var image string
	c := newCommand("ingest", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&image, "image", "", "Receipt image: local path or gs://bucket/object")
	})
	if image == "" {
		c.log.Fatal().Msg("Error: --image is required")
	}

	c.log.Info().Str("image", image).Msg("Starting ingestion")
	c.route(assistant.Request{
		Kind:      assistant.KindIngestReceipt,
		ImageRef:  image,
		ImageName: filepath.Base(image),
	})
}

func runReport(cfg config.Config) {
	now := time.Now()
	var year, month int
	c := newCommand("report", cfg, func(fs *flag.FlagSet) {
		fs.IntVar(&year, "year", now.Year(), "Report year")
		fs.IntVar(&month, "month", int(now.Month()), "Report month (1-12)")
	})

	c.route(assistant.Request{
		Kind:  assistant.KindMonthlyReport,
		Year:  year,
		Month: time.Month(month),
	})
}

func runMarket(cfg config.Config) {
	var symbols string
	var days int
	c := newCommand("market", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&symbols, "symbols", strings.Join(cfg.MarketSymbols, ","), "Comma-separated ticker symbols")
		fs.IntVar(&days, "days", cfg.MarketDays, "History window in days")
	})

	c.route(assistant.Request{
		Kind:    assistant.KindMarketSummary,
		Symbols: config.SplitList(symbols),
		Days:    days,
	})
}

func runQuery(cfg config.Config) {
	var question string
	c := newCommand("query", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&question, "q", "", "Question about your spending")
	})

	c.route(assistant.Request{Kind: assistant.KindFreeFormQuery, Question: question})
}

func runList(cfg config.Config) {
	var from, to, merchant, category string
	c := newCommand("list", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&from, "from", "", "Start date YYYY-MM-DD")
		fs.StringVar(&to, "to", "", "End date YYYY-MM-DD")
		fs.StringVar(&merchant, "merchant", "", "Merchant substring")
		fs.StringVar(&category, "category", "", "Item category")
	})
	defer c.services.Close()

	filter := store.Filter{Merchant: merchant, Category: category}
	filter.From = c.parseDate("from", from)
	filter.To = c.parseDate("to", to)

	ctx, cancel := c.context(2 * time.Minute)
	defer cancel()

	st, err := c.services.Store(ctx)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to open purchase store")
	}

	purchases, err := store.Collect(st.Query(ctx, filter))
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to query purchases")
	}

	if c.asJSON {
		printJSON(purchases)
		return
	}
	printPurchases(os.Stdout, purchases)
}

func (c *command) parseDate(name, s string) *civil.Date {
	if s == "" {
		return nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		c.log.Fatal().Err(err).Str(name, s).Msg("Error: invalid date format, expected YYYY-MM-DD")
	}
	return &d
}

func runUpload(cfg config.Config) {
	var filePath, objectName string
	c := newCommand("upload", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&filePath, "file", "", "Path to local receipt image")
		fs.StringVar(&objectName, "object", "", "GCS object name (defaults to receipts/<uuid>-<filename>)")
	})
	defer c.services.Close()

	if c.cfg.GCSBucket == "" || filePath == "" {
		c.log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	if objectName == "" {
		objectName = "receipts/" + uuid.NewString() + "-" + filepath.Base(filePath)
	}

	ctx, cancel := c.context(c.cfg.ExternalTimeout)
	defer cancel()

	c.log.Info().
		Str("bucket", c.cfg.GCSBucket).
		Str("object", objectName).
		Str("file", filePath).
		Msg("Uploading receipt to GCS")

	uri, err := c.services.Images().Upload(ctx, c.cfg.GCSBucket, objectName, filePath)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", filePath, uri)
	fmt.Printf("Ingest it with: cli ingest -image %s\n", uri)
}

func runSyncNotion(cfg config.Config) {
	var from, to, token, databaseID string
	var prune, dryRun bool
	c := newCommand("sync-notion", cfg, func(fs *flag.FlagSet) {
		fs.StringVar(&from, "from", "", "Start date YYYY-MM-DD")
		fs.StringVar(&to, "to", "", "End date YYYY-MM-DD")
		fs.StringVar(&token, "notion-token", cfg.NotionToken, "Notion API token (or set NOTION_TOKEN env)")
		fs.StringVar(&databaseID, "notion-db-id", cfg.NotionDatabaseID, "Notion database ID (or set NOTION_DATABASE_ID env)")
		fs.BoolVar(&prune, "prune", false, "Archive Notion pages whose purchase was deleted")
		fs.BoolVar(&dryRun, "dry-run", false, "Dry run mode - preview changes without syncing")
	})
	defer c.services.Close()

	if token == "" {
		c.log.Fatal().Msg("Error: --notion-token is required")
	}
	if databaseID == "" {
		c.log.Fatal().Msg("Error: --notion-db-id is required")
	}

	opts := notionsync.Options{Prune: prune, DryRun: dryRun}
	opts.Filter.From = c.parseDate("from", from)
	opts.Filter.To = c.parseDate("to", to)
	if opts.Filter.From != nil && opts.Filter.To != nil && opts.Filter.To.Before(*opts.Filter.From) {
		c.log.Fatal().Msg("Error: --to must not be before --from")
	}

	// The whole run is bounded so the CLI never hangs on Notion.
	ctx, cancel := c.context(10 * time.Minute)
	defer cancel()

	st, err := c.services.Store(ctx)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to open purchase store")
	}

	stats, err := notionsync.SyncPurchases(ctx, st, notionsync.NewNotionClient(token, c.cfg.ExternalTimeout), databaseID, opts)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Sync failed")
	}

	if c.asJSON {
		printJSON(stats)
		return
	}
	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		stats.Created, stats.Updated, stats.Archived, stats.Failed)
}
