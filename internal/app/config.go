package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default venue endpoints; the paper environment is a separate host with
// identical paths.
const (
	defaultLiveBaseURL  = "https://api.tradeworks.io"
	defaultPaperBaseURL = "https://api.paper.tradeworks.io"
)

// Config is the full runtime configuration, one named validated field per
// recognized option.
type Config struct {
	// Key material paths.
	SignatureKeyPath  string
	EncryptionKeyPath string
	DHParamsPath      string

	// Token persistence.
	TokenFilePath string
	Passphrase    string // optional at-rest sealing of the token record

	// Consumer identity.
	ConsumerKey string
	Realm       string
	Verifier    string // out-of-band authorization code, when required

	// Environment selection. BaseURL, when set, overrides both defaults.
	Live    bool
	BaseURL string

	// Session policy.
	SessionTTL    time.Duration
	RefreshMargin time.Duration

	// Transport policy.
	RequestTimeout time.Duration
	MaxRetries     int

	// Logging.
	LogLevel  string
	LogFormat string // "text" or "json"
}

// FromEnv loads configuration from the environment, reading envFile first
// when given (a missing default .env is not an error).
func FromEnv(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		SignatureKeyPath:  os.Getenv("BROKERLINK_SIGNATURE_KEY"),
		EncryptionKeyPath: os.Getenv("BROKERLINK_ENCRYPTION_KEY"),
		DHParamsPath:      os.Getenv("BROKERLINK_DH_PARAMS"),
		TokenFilePath:     os.Getenv("BROKERLINK_TOKEN_FILE"),
		Passphrase:        os.Getenv("BROKERLINK_PASSPHRASE"),
		ConsumerKey:       os.Getenv("BROKERLINK_CONSUMER_KEY"),
		Realm:             os.Getenv("BROKERLINK_REALM"),
		Verifier:          os.Getenv("BROKERLINK_VERIFIER"),
		BaseURL:           os.Getenv("BROKERLINK_BASE_URL"),
		LogLevel:          getenvDefault("BROKERLINK_LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("BROKERLINK_LOG_FORMAT", "text"),
	}

	var err error
	if cfg.Live, err = parseBool("BROKERLINK_LIVE", false); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = parseDuration("BROKERLINK_SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	// Conservative default: re-derive once 80% of the assumed window has
	// been consumed.
	if cfg.RefreshMargin, err = parseDuration("BROKERLINK_REFRESH_MARGIN", cfg.SessionTTL/5); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = parseDuration("BROKERLINK_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = parseInt("BROKERLINK_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}

	if cfg.BaseURL == "" {
		if cfg.Live {
			cfg.BaseURL = defaultLiveBaseURL
		} else {
			cfg.BaseURL = defaultPaperBaseURL
		}
	}
	if cfg.Realm == "" {
		if cfg.Live {
			cfg.Realm = "limited_poa"
		} else {
			cfg.Realm = "test_realm"
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that could not possibly authenticate.
func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"BROKERLINK_SIGNATURE_KEY":  c.SignatureKeyPath,
		"BROKERLINK_ENCRYPTION_KEY": c.EncryptionKeyPath,
		"BROKERLINK_DH_PARAMS":      c.DHParamsPath,
		"BROKERLINK_TOKEN_FILE":     c.TokenFilePath,
		"BROKERLINK_CONSUMER_KEY":   c.ConsumerKey,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.RefreshMargin >= c.SessionTTL {
		return errors.New("refresh margin must be shorter than the session TTL")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
