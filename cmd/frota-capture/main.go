package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/frotaapp/capture/internal/camera"
	"github.com/frotaapp/capture/internal/capture"
	"github.com/frotaapp/capture/internal/extract"
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

	fs := ff.NewFlagSet("frota-capture")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "frota-capture.db", "Database file path")
		backend     = fs.StringLong("storage", "local", "Storage backend: 'local' or 'gcs'")
		storagePath = fs.StringLong("storage-path", "./receipts", "Local storage directory path")
		storageURL  = fs.StringLong("storage-url", "http://localhost:8080/receipts", "Base URL local uploads are served under")
		gcsBucket   = fs.StringLong("gcs-bucket", "", "GCS bucket for receipt artifacts")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name for OCR")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FROTA_CAPTURE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...")
	db, err := capture.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Select the storage backend
	var store capture.Storage
	switch *backend {
	case "local":
		slog.Info("Initializing local storage...", "path", *storagePath)
		store, err = capture.NewLocalStorage(*storagePath, *storageURL)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
	case "gcs":
		slog.Info("Initializing GCS storage...", "bucket", *gcsBucket)
		gcs, err := capture.NewGCSStorage(context.Background(), *gcsBucket)
		if err != nil {
			slog.Error("Failed to initialize GCS storage", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		store = gcs
	default:
		slog.Error("Invalid storage backend", "backend", *backend, "valid", "local or gcs")
		os.Exit(1)
	}

	// OCR fallback via Gemini
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
	recognizer, err := extract.NewGemini(apiKey, *geminiModel)
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	decoder := extract.NewQRDecoder()
	extractor := extract.NewExtractor(decoder, recognizer, "por")

	// The viewfinder runs client-side on mobile web; this process has
	// no local video device.
	manager := camera.NewManager(camera.NoDeviceOpener{}, decoder)

	coordinator := capture.NewCoordinator(store, db)
	service := capture.NewService(manager, extractor, coordinator, db)

	basicAuth := capture.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := capture.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
