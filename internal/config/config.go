package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ExitCode is the process exit code for configuration and credential errors
const ExitCode = 1

// Config holds all configuration for the directory sync tools
type Config struct {
	// Remote directory
	OrgID          string        `envconfig:"ORG_ID" required:"true"`
	OAuthToken     string        `envconfig:"OAUTH_TOKEN" required:"true"`
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"https://api360.yandex.net"`
	TokenInfoURL   string        `envconfig:"TOKEN_INFO_URL" default:"https://api360.yandex.net/whoami"`
	RequiredScopes []string      `envconfig:"REQUIRED_SCOPES" default:"directory:read_users,directory:write_users,directory:read_departments,directory:write_departments"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"RETRY_DELAY" default:"2s"`
	UsersPerPage   int           `envconfig:"USERS_PER_PAGE" default:"1000"`
	DepsPerPage    int           `envconfig:"DEPARTMENTS_PER_PAGE" default:"100"`

	// Snapshot freshness windows
	UsersCacheTTL       time.Duration `envconfig:"USERS_CACHE_TTL" default:"15m"`
	DepartmentsCacheTTL time.Duration `envconfig:"DEPARTMENTS_CACHE_TTL" default:"15m"`

	// Files
	UsersFile    string `envconfig:"USERS_FILE" default:"users.csv"`
	DepsFile     string `envconfig:"DEPS_FILE" default:"deps.csv"`
	AllUsersFile string `envconfig:"ALL_USERS_FILE" default:"all_users.csv"`
	ExportDir    string `envconfig:"EXPORT_DIR" default:"."`
	ClearValue   string `envconfig:"CLEAR_VALUE" default:"-"`

	// Validation
	PasswordPattern         string `envconfig:"PASSWORD_PATTERN"`
	GeneratePasswords       bool   `envconfig:"GENERATE_PASSWORDS" default:"true"`
	GeneratedPasswordLength int    `envconfig:"GENERATED_PASSWORD_LENGTH" default:"12"`
	MinAgeYears             int    `envconfig:"MIN_AGE_YEARS" default:"10"`
	MaxAgeYears             int    `envconfig:"MAX_AGE_YEARS" default:"100"`

	// Execution
	DryRun           bool   `envconfig:"DRY_RUN" default:"false"`
	MutationWorkers  int    `envconfig:"MUTATION_WORKERS" default:"1"`
	LanguageFallback string `envconfig:"LANGUAGE_FALLBACK" default:"fail"`

	// Welcome notification
	WelcomeEnabled  bool   `envconfig:"WELCOME_ENABLED" default:"false"`
	SMTPHost        string `envconfig:"SMTP_HOST"`
	SMTPPort        int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser        string `envconfig:"SMTP_USER"`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom        string `envconfig:"SMTP_FROM"`
	WelcomeTemplate string `envconfig:"WELCOME_TEMPLATE"`
	WelcomeSubject  string `envconfig:"WELCOME_SUBJECT" default:"Your new account {{.login}}"`

	// Logging
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string        `envconfig:"LOG_FILE" default:"dirsync.log"`
	LogMaxAge   time.Duration `envconfig:"LOG_MAX_AGE" default:"720h"`
	LogRotation time.Duration `envconfig:"LOG_ROTATION" default:"24h"`

	// Server configuration
	Port            int      `envconfig:"PORT" default:"8080"`
	MetricsPort     int      `envconfig:"METRICS_PORT" default:"9090"`
	JWTSecret       string   `envconfig:"JWT_SECRET"`
	AdminRole       string   `envconfig:"ADMIN_ROLE" default:"dirsync-admin"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout int      `envconfig:"SHUTDOWN_TIMEOUT" default:"30"`

	// Spool controller
	SpoolEnabled        bool          `envconfig:"SPOOL_ENABLED" default:"false"`
	SpoolDir            string        `envconfig:"SPOOL_DIR" default:"/data/inbox"`
	SpoolInterval       time.Duration `envconfig:"SPOOL_INTERVAL" default:"1m"`
	SpoolSecret         string        `envconfig:"SPOOL_UPLOAD_SECRET"`
	SpoolAcceptWarnings bool          `envconfig:"SPOOL_ACCEPT_WARNINGS" default:"false"`
	DataDir             string        `envconfig:"DATA_DIR" default:"/data"`
}

// Parse loads an optional .env file and reads configuration from the environment
func Parse() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg, err := Parse()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	return cfg
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.MutationWorkers < 1 {
		return fmt.Errorf("MUTATION_WORKERS must be at least 1")
	}
	if c.MinAgeYears >= c.MaxAgeYears {
		return fmt.Errorf("MIN_AGE_YEARS must be lower than MAX_AGE_YEARS")
	}
	switch c.LanguageFallback {
	case "fail", "skip", "retry":
	default:
		return fmt.Errorf("LANGUAGE_FALLBACK must be one of fail, skip, retry")
	}
	if c.WelcomeEnabled && (c.SMTPHost == "" || c.SMTPFrom == "") {
		return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when WELCOME_ENABLED is set")
	}
	return nil
}

// DirectoryURL returns the organization scoped API root
func (c *Config) DirectoryURL() string {
	return fmt.Sprintf("%s/directory/v1/org/%s", strings.TrimRight(c.APIBaseURL, "/"), c.OrgID)
}
