package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr        string
		Mode        string
		Env         string
		CORSOrigins string
	}
	Log struct {
		Level  string
		Format string
	}
	Database struct {
		Driver string
		DSN    string
	}
	Auth struct {
		Secret             string
		Algorithm          string
		PrivateKeyFile     string
		PublicKeyFile      string
		AccessTokenMinutes int
		RefreshTokenDays   int
		BcryptCost         int
	}
	Storage struct {
		Bucket   string
		Region   string
		Endpoint string
		CDNURL   string
	}
	AWS struct {
		Profile string
	}
	Kafka struct {
		Brokers          []string
		GroupPrefix      string
		PollTimeout      time.Duration
		MaxAttempts      int
		RetryBackoff     time.Duration
		DeadLetterSuffix string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Credits struct {
		Limit         int
		PeriodSeconds int
	}
	Gemini struct {
		APIKey  string
		Model   string
		Timeout time.Duration
	}
	Fetch struct {
		Timeout  time.Duration
		MaxBytes int64
	}
	Mail struct {
		SendgridAPIKey string
		SourceEmail    string
		FrontendURL    string
	}
	Tasks struct {
		Workers   int
		QueueSize int
	}
	Upload struct {
		MaxBytes int64
	}
}

// Server modes, one per cobra subcommand.
const (
	ModeAPI                = "api"
	ModeFileWorker         = "file-worker"
	ModeNotificationWorker = "notification-worker"
	ModeMigrate            = "migrate"
)

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("MEDIAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.mode", ModeAPI)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.corsorigins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/mediahub.db")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.privatekeyfile", "")
	v.SetDefault("auth.publickeyfile", "")
	v.SetDefault("auth.accesstokenminutes", 30)
	v.SetDefault("auth.refreshtokendays", 3)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.cdnurl", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.groupprefix", "mediahub")
	v.SetDefault("kafka.polltimeout", time.Second)
	v.SetDefault("kafka.maxattempts", 3)
	v.SetDefault("kafka.retrybackoff", 2*time.Second)
	v.SetDefault("kafka.deadlettersuffix", ".dlq")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("credits.limit", 5)
	v.SetDefault("credits.periodseconds", 3600)
	v.SetDefault("gemini.apikey", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.timeout", 60*time.Second)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.maxbytes", 5<<20)
	v.SetDefault("mail.sendgridapikey", "")
	v.SetDefault("mail.sourceemail", "")
	v.SetDefault("mail.frontendurl", "http://localhost:3000")
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queuesize", 128)
	v.SetDefault("upload.maxbytes", 5<<20)
}

// Validate checks that the settings required by mode are present.
func (c Config) Validate(mode string) error {
	var errs []error
	needs := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch mode {
	case ModeMigrate:
	case ModeAPI:
		needs(!blank(c.Auth.Secret) || !blank(c.Auth.PrivateKeyFile), "auth secret or private key file is required")
		needs(!blank(c.Storage.Bucket), "storage bucket is required")
		needs(!blank(c.Storage.CDNURL), "storage cdn url is required")
		needs(len(c.Kafka.Brokers) > 0, "kafka brokers are required")
		needs(c.Credits.Limit > 0 && c.Credits.PeriodSeconds > 0, "credits limit and period must be positive")
	case ModeFileWorker:
		needs(len(c.Kafka.Brokers) > 0, "kafka brokers are required")
		needs(!blank(c.Gemini.APIKey), "gemini api key is required")
	case ModeNotificationWorker:
		needs(len(c.Kafka.Brokers) > 0, "kafka brokers are required")
	default:
		errs = append(errs, fmt.Errorf("unknown server mode %q", mode))
	}
	needs(!blank(c.Database.DSN), "database dsn is required")

	return errors.Join(errs...)
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
