package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/GateChat/internal/api"
	"github.com/BTreeMap/GateChat/internal/genai"
	"github.com/BTreeMap/GateChat/internal/scheduler"
	"github.com/BTreeMap/GateChat/internal/store"
	"github.com/BTreeMap/GateChat/internal/telegram"
	"github.com/BTreeMap/GateChat/internal/twiliowhatsapp"
	"github.com/BTreeMap/GateChat/internal/util"
	"github.com/BTreeMap/GateChat/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GateChat state data
	DefaultStateDir = api.DefaultStateDir
	// DefaultAppDBFileName is the default SQLite database filename for profiles
	DefaultAppDBFileName = "gatechat.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}

	mods := api.Modules{
		Telegram: buildTelegramOptions(flags),
		WhatsApp: buildWhatsAppOptions(flags),
		Store:    buildStoreOptions(flags),
		GenAI:    buildGenAIOptions(config, flags),
		Twilio:   buildTwilioOptions(config),
	}
	apiOpts := buildAPIOptions(config, flags)

	slog.Info("Bootstrapping GateChat with configured modules")
	slog.Debug("Module options counts", "telegram", len(mods.Telegram), "whatsapp", len(mods.WhatsApp),
		"store", len(mods.Store), "genai", len(mods.GenAI), "twilio", len(mods.Twilio), "api", len(apiOpts))
	if err := api.Run(mods, apiOpts...); err != nil {
		slog.Error("GateChat failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GateChat exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	TextsFile        string
	Transport        string
	TelegramToken    string
	OpenAIKey        string
	OpenAIModel      string
	OpenAIBaseURL    string
	OpenAITimeout    time.Duration
	APIAddr          string
	APIToken         string
	SessionIdleTTL   time.Duration
	PruneSchedule    string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	AdminWhatsApp    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      string
	numeric       bool
	stateDir      string
	dbDSN         string
	whatsappDSN   string
	textsFile     string
	transport     string
	telegramToken string
	openaiKey     string
	openaiModel   string
	apiAddr       string
}

// initializeLogger sets up structured logging at the given level (INFO when empty or unknown)
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultTextsFile(stateDir string) string {
	return filepath.Join(stateDir, api.DefaultTextsFileName)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.GetEnv("GATECHAT_STATE_DIR", DefaultStateDir),
		ApplicationDBDSN: os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		TextsFile:        os.Getenv("TEXTS_FILE"),
		Transport:        util.GetEnv("TRANSPORT", api.TransportTelegram),
		TelegramToken:    os.Getenv("TELEGRAM_TOKEN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAITimeout:    util.ParseDurationEnv("OPENAI_TIMEOUT", genai.DefaultTimeout),
		APIAddr:          os.Getenv("API_ADDR"),
		APIToken:         os.Getenv("ADMIN_API_TOKEN"),
		SessionIdleTTL:   util.ParseDurationEnv("SESSION_IDLE_TTL", api.DefaultSessionIdleTTL),
		PruneSchedule:    util.GetEnv("SESSION_PRUNE_SCHEDULE", scheduler.DefaultPruneSchedule),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		AdminWhatsApp:    os.Getenv("ADMIN_WHATSAPP_NUMBER"),
	}

	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.TextsFile == "" {
		config.TextsFile = defaultTextsFile(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"GATECHAT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"TEXTS_FILE", config.TextsFile,
		"TRANSPORT", config.Transport,
		"TELEGRAM_TOKEN_SET", config.TelegramToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"ADMIN_API_TOKEN_SET", config.APIToken != "",
		"SESSION_IDLE_TTL", config.SessionIdleTTL,
		"ADMIN_WHATSAPP_NUMBER_SET", config.AdminWhatsApp != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("gatechat", flag.ContinueOnError)
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write WhatsApp login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "use numeric WhatsApp login code instead of QR code")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for GateChat data (overrides $GATECHAT_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.ApplicationDBDSN, "profile store DSN: Postgres connection string or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&flags.whatsappDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&flags.textsFile, "texts-file", config.TextsFile, "YAML texts file (overrides $TEXTS_FILE)")
	fs.StringVar(&flags.transport, "transport", config.Transport, "chat transport: telegram or whatsapp (overrides $TRANSPORT)")
	fs.StringVar(&flags.telegramToken, "telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_TOKEN)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiModel, "openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "admin API address, empty disables it (overrides $API_ADDR)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_set", flags.dbDSN != "",
		"textsFile", flags.textsFile,
		"transport", flags.transport,
		"telegramTokenSet", flags.telegramToken != "",
		"openaiKeySet", flags.openaiKey != "",
		"apiAddr", flags.apiAddr)

	// Paths still derived from the old state directory follow the new one.
	if flags.stateDir != config.StateDir {
		if flags.dbDSN == defaultAppDSN(config.StateDir) {
			flags.dbDSN = defaultAppDSN(flags.stateDir)
		}
		if flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) {
			flags.whatsappDSN = defaultWhatsAppDSN(flags.stateDir)
		}
		if flags.textsFile == defaultTextsFile(config.StateDir) {
			flags.textsFile = defaultTextsFile(flags.stateDir)
		}
		slog.Debug("Updated default paths based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.stateDir)
	}

	if flags.transport != api.TransportTelegram && flags.transport != api.TransportWhatsApp {
		return Flags{}, fmt.Errorf("unknown transport %q", flags.transport)
	}
	return flags, nil
}

// buildTelegramOptions constructs Telegram configuration options
func buildTelegramOptions(flags Flags) []telegram.Option {
	var opts []telegram.Option
	if flags.telegramToken != "" {
		opts = append(opts, telegram.WithToken(flags.telegramToken))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.whatsappDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.openaiModel))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.OpenAITimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(config.OpenAITimeout))
	}
	return genaiOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return opts
}

// buildAPIOptions constructs application configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithStateDir(flags.stateDir),
		api.WithTextsPath(flags.textsFile),
		api.WithTransport(flags.transport),
		api.WithSessionIdleTTL(config.SessionIdleTTL),
		api.WithPruneSchedule(config.PruneSchedule),
	}
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if config.APIToken != "" {
		apiOpts = append(apiOpts, api.WithToken(config.APIToken))
	}
	if config.AdminWhatsApp != "" {
		apiOpts = append(apiOpts, api.WithAdminWhatsApp(config.AdminWhatsApp))
	}
	return apiOpts
}
