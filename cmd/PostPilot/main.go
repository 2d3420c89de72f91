package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/PostPilot/internal/compose"
	"github.com/BTreeMap/PostPilot/internal/engine"
	"github.com/BTreeMap/PostPilot/internal/genai"
	"github.com/BTreeMap/PostPilot/internal/media"
	"github.com/BTreeMap/PostPilot/internal/messaging"
	"github.com/BTreeMap/PostPilot/internal/publish"
	"github.com/BTreeMap/PostPilot/internal/session"
	"github.com/BTreeMap/PostPilot/internal/speech"
	"github.com/BTreeMap/PostPilot/internal/twiliowhatsapp"
	"github.com/BTreeMap/PostPilot/internal/util"
	"github.com/BTreeMap/PostPilot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PostPilot state data
	DefaultStateDir = "/var/lib/postpilot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "postpilot.db"
	// DefaultAPIAddr is the default health/webhook listen address
	DefaultAPIAddr = ":8080"
)

// Config holds environment configuration
type Config struct {
	Transport   string
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	OpenAIKey   string
	NatsURL     string
	NatsToken   string
	Channels    string
	APIAddr     string
	SessionTTL  time.Duration
	Debug       bool
}

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("PostPilot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PostPilot exited successfully")
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a
// .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		Transport:   os.Getenv("POSTPILOT_TRANSPORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("POSTPILOT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		NatsURL:     os.Getenv("NATS_URL"),
		NatsToken:   os.Getenv("NATS_TOKEN"),
		Channels:    os.Getenv("POSTPILOT_CHANNELS"),
		APIAddr:     os.Getenv("API_ADDR"),
		SessionTTL:  util.ParseDurationEnv("POSTPILOT_SESSION_TTL", session.DefaultTTL),
		Debug:       util.ParseBoolEnv("POSTPILOT_DEBUG", false),
	}

	if config.Transport == "" {
		config.Transport = "whatsapp"
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"POSTPILOT_TRANSPORT", config.Transport,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"POSTPILOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"NATS_URL_SET", config.NatsURL != "",
		"POSTPILOT_CHANNELS", config.Channels,
		"API_ADDR", config.APIAddr)

	return config
}

// Flags holds command line flag values
type Flags struct {
	transport  *string
	stateDir   *string
	dbDSN      *string
	waDSN      *string
	openaiKey  *string
	natsURL    *string
	natsToken  *string
	channels   *string
	apiAddr    *string
	qrOutput   *string
	numeric    *bool
	sessionTTL *time.Duration
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		transport:  flag.String("transport", config.Transport, "messaging transport: whatsapp or twilio (overrides $POSTPILOT_TRANSPORT)"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for PostPilot data (overrides $POSTPILOT_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "session store DSN (overrides $DATABASE_URL)"),
		waDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		natsURL:    flag.String("nats-url", config.NatsURL, "NATS server URL for the publish sink (overrides $NATS_URL)"),
		natsToken:  flag.String("nats-token", config.NatsToken, "NATS auth token (overrides $NATS_TOKEN)"),
		channels:   flag.String("channels", config.Channels, "comma-separated target channels (overrides $POSTPILOT_CHANNELS)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "health/webhook listen address (overrides $API_ADDR)"),
		qrOutput:   flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		sessionTTL: flag.Duration("session-ttl", config.SessionTTL, "conversation inactivity timeout (overrides $POSTPILOT_SESSION_TTL)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"transport", *flags.transport,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"natsURL_set", *flags.natsURL != "",
		"channels", *flags.channels,
		"apiAddr", *flags.apiAddr,
		"sessionTTL", *flags.sessionTTL)

	return flags
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}

	// Session store: shared backend with in-process failover.
	backend, err := session.NewStore(session.WithSQLiteDSN(*flags.dbDSN), session.WithTTL(*flags.sessionTTL))
	if err != nil {
		return err
	}
	store := session.NewFailoverStore(backend, session.WithTTL(*flags.sessionTTL))
	defer store.Close()

	// GenAI client. Optional: without a key every adapter degrades to its
	// fallback path and the pipeline still runs end to end.
	var genaiClient genai.ClientInterface
	if client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey)); err != nil {
		slog.Warn("GenAI unavailable; vision, transcription, and caption generation will use fallbacks", "error", err)
	} else {
		genaiClient = client
	}

	// Publish sink and media storage. With NATS configured both ride the
	// same connection; otherwise local fallbacks keep single-instance runs
	// working.
	var sink publish.Sink
	var storage media.ObjectStorage
	if *flags.natsURL != "" {
		natsSink, err := publish.NewNATSSink(ctx, publish.WithURL(*flags.natsURL), publish.WithToken(*flags.natsToken))
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sink = natsSink

		storage, err = media.NewNATSObjectStorage(ctx, natsSink.JetStream(), media.DefaultMediaBucket)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("No NATS URL configured; publish requests stay in memory and media stays on local disk (single-instance only)")
		sink = publish.NewMemorySink()
		storage, err = media.NewFileStorage(filepath.Join(*flags.stateDir, "media"))
		if err != nil {
			return err
		}
	}

	downloader := media.NewRefDownloader(&http.Client{Timeout: media.DefaultDownloadTimeout})
	mediaIntake := media.NewIntake(downloader, storage, genaiClient)
	speechIntake := speech.NewIntake(downloader, genaiClient)
	composer := compose.NewComposer(genaiClient)

	// Messaging transport.
	var msgService messaging.Service
	var twilioService *messaging.TwilioService
	switch *flags.transport {
	case "twilio":
		twilioClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return err
		}
		twilioService = messaging.NewTwilioService(twilioClient)
		msgService = twilioService
	default:
		waOpts := []whatsapp.Option{
			whatsapp.WithDBDSN(*flags.waDSN),
			whatsapp.WithSpoolDir(filepath.Join(*flags.stateDir, "spool")),
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return err
		}
		msgService = messaging.NewWhatsAppService(waClient)
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	// Engine and per-sender dispatcher.
	eng := engine.NewEngine(store, msgService, sink, mediaIntake, speechIntake, composer,
		engine.WithTargetChannels(splitChannels(*flags.channels)))
	dispatcher := engine.NewDispatcher(eng, 0)

	// Health endpoint, plus the Twilio webhook when that transport is
	// selected.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if twilioService != nil {
		mux.HandleFunc("/webhook/twilio", twilioService.WebhookHandler)
	}
	httpServer := &http.Server{Addr: *flags.apiAddr, Handler: mux}
	go func() {
		slog.Info("HTTP server listening", "addr", *flags.apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("PostPilot running", "transport", *flags.transport)
	dispatcher.Run(ctx, msgService.Events())
	return nil
}

// splitChannels parses the comma-separated channel list.
func splitChannels(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	channels := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			channels = append(channels, trimmed)
		}
	}
	return channels
}
