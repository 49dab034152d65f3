package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/gastos-dev/gastos/internal/config"
	"github.com/gastos-dev/gastos/internal/currency"
	"github.com/gastos-dev/gastos/internal/expense"
	"github.com/gastos-dev/gastos/internal/extraction"
	"github.com/gastos-dev/gastos/internal/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("gastos")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "gastos.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./receipts", "Receipt image directory path")
		configPath    = fs.StringLong("config", "", "YAML config overlay (rates, categories, users)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		extractorType = fs.StringLong("extractor", "none", "Structured extractor: 'openai', 'gemini' or 'none'")
		openaiKey     = fs.StringLong("openai-key", "", "API key for the OpenAI-compatible extractor (or set GASTOS_OPENAI_KEY)")
		openaiBaseURL = fs.StringLong("openai-base-url", "", "Base URL of an OpenAI-compatible endpoint (empty for OpenAI)")
		openaiModel   = fs.StringLong("openai-model", "gpt-4o-mini", "Vision model name on the OpenAI-compatible endpoint")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GASTOS_GEMINI_KEY)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ocrBinary     = fs.StringLong("ocr-binary", "tesseract", "Tesseract binary, empty to disable OCR")
		ocrLanguages  = fs.StringLong("ocr-languages", "spa+eng", "Tesseract language list")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GASTOS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing database...")
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := expense.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Structured extractor is optional; without one the pipeline runs on
	// OCR plus heuristics alone.
	var structured extraction.StructuredExtractor
	switch *extractorType {
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("GASTOS_OPENAI_KEY")
		}
		slog.Info("Initializing vision extractor...", "model", *openaiModel, "base_url", *openaiBaseURL)
		structured, err = extraction.NewVision(apiKey, *openaiBaseURL, *openaiModel, cfg.CategoryNames(), cfg.DefaultCategory)
		if err != nil {
			slog.Error("Failed to initialize vision extractor", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GASTOS_GEMINI_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		structured, err = extraction.NewGemini(apiKey, *geminiModel, cfg.CategoryNames(), cfg.DefaultCategory)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "none":
		slog.Info("No structured extractor configured, using heuristics only")
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "openai, gemini or none")
		os.Exit(1)
	}
	if structured != nil {
		defer structured.Close()
	}

	var recognizer extraction.TextRecognizer
	if *ocrBinary != "" {
		recognizer = extraction.NewTesseractCLI(*ocrBinary, *ocrLanguages)
	}

	heuristic := extraction.NewHeuristic(cfg.Categories, cfg.DefaultCategory)
	arbiter := extraction.NewArbiter(recognizer, structured, heuristic)

	converter := currency.NewConverter(cfg.BaseCurrency, cfg.DecimalRates())
	reconciler := expense.NewReconciler(db, converter)
	service := expense.NewService(db, store, arbiter, converter, reconciler, cfg.DefaultCategory)
	server := expense.NewServer(service, reconciler, converter, cfg)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
