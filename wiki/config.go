package wiki

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent identifies the client when MEDIAWIKI_USER_AGENT is unset.
const DefaultUserAgent = "mediawiki-api-go/1.0 (https://github.com/olgasafonova/mediawiki-api-go)"

// DefaultMaxLag is the replication lag, in seconds, past which the wiki
// refuses requests. MEDIAWIKI_MAXLAG=0 stops sending it.
const DefaultMaxLag = 30

// Config holds MediaWiki connection settings
type Config struct {
	// BaseURL is the wiki API endpoint (e.g., https://wiki.example.com/api.php)
	BaseURL string

	// Username for bot password authentication (optional). When set together
	// with Password the client logs in on demand before its first call.
	Username string

	// Password for bot password authentication (optional)
	Password string

	// Timeout for API requests
	Timeout time.Duration

	// UserAgent identifies the client to the wiki
	UserAgent string

	// MaxRetries for failed transport attempts (network errors, 5xx, 429)
	MaxRetries int

	// MaxLag is sent as maxlag on every call when positive (LoadConfig defaults to 30)
	MaxLag int

	// RateLimit caps outgoing requests per second; 0 disables pacing
	RateLimit float64

	// InsecureLogin keeps login requests on the configured scheme instead of
	// upgrading them to https. Needed for plain-http test wikis.
	InsecureLogin bool
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
func LoadConfig() (*Config, error) {
	return LoadConfigWithURL("")
}

// LoadConfigWithURL is LoadConfig with an explicit endpoint that takes
// precedence over MEDIAWIKI_URL when non-empty.
func LoadConfigWithURL(endpoint string) (*Config, error) {
	_ = godotenv.Load()

	baseURL := endpoint
	if baseURL == "" {
		baseURL = os.Getenv("MEDIAWIKI_URL")
	}
	if baseURL == "" {
		return nil, errors.New("MEDIAWIKI_URL environment variable is required")
	}

	timeout := 30 * time.Second
	if t := os.Getenv("MEDIAWIKI_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	maxRetries := 3
	if r := os.Getenv("MEDIAWIKI_MAX_RETRIES"); r != "" {
		if n, err := strconv.Atoi(r); err == nil && n >= 0 {
			maxRetries = n
		}
	}

	maxLag := DefaultMaxLag
	if m := os.Getenv("MEDIAWIKI_MAXLAG"); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 0 {
			maxLag = n
		}
	}

	var rateLimit float64
	if r := os.Getenv("MEDIAWIKI_RATE_LIMIT"); r != "" {
		if f, err := strconv.ParseFloat(r, 64); err == nil && f > 0 {
			rateLimit = f
		}
	}

	insecureLogin, _ := strconv.ParseBool(os.Getenv("MEDIAWIKI_INSECURE_LOGIN"))

	userAgent := os.Getenv("MEDIAWIKI_USER_AGENT")
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Config{
		BaseURL:       baseURL,
		Username:      os.Getenv("MEDIAWIKI_USERNAME"),
		Password:      os.Getenv("MEDIAWIKI_PASSWORD"),
		Timeout:       timeout,
		UserAgent:     userAgent,
		MaxRetries:    maxRetries,
		MaxLag:        maxLag,
		RateLimit:     rateLimit,
		InsecureLogin: insecureLogin,
	}, nil
}

// HasCredentials returns true if authentication credentials are configured
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// WikipediaURL returns the API endpoint of the Wikipedia edition for lang.
func WikipediaURL(lang string) string {
	if lang == "" {
		lang = "en"
	}
	return "https://" + lang + ".wikipedia.org/w/api.php"
}
