package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	HostsFile      string `mapstructure:"hosts_file"`
	PublishersFile string `mapstructure:"publishers_file"`
	AdminAddr      string `mapstructure:"admin_addr"`

	ScanIntervalSeconds    int64         `mapstructure:"scan_interval"`
	RecheckIntervalSeconds int64         `mapstructure:"recheck_interval"`
	GalleryPauseMs         int64         `mapstructure:"gallery_pause_ms"`
	ScanInterval           time.Duration `mapstructure:"-"`
	RecheckInterval        time.Duration `mapstructure:"-"`
	GalleryPause           time.Duration `mapstructure:"-"`

	SourceBaseURL    string     `mapstructure:"source_base_url"`
	SourceCredential string     `mapstructure:"source_credential"`
	SourceUserAgent  string     `mapstructure:"source_user_agent"`
	SourceRPS        float64    `mapstructure:"source_rps"`
	SearchParamsRaw  string     `mapstructure:"search_params"`
	SearchCap        int        `mapstructure:"search_cap"`
	SearchParams     url.Values `mapstructure:"-"`

	WorkerCount           int           `mapstructure:"worker_count"`
	HTTPTimeoutSeconds    int64         `mapstructure:"http_timeout_seconds"`
	ConnectTimeoutSeconds int64         `mapstructure:"connect_timeout_seconds"`
	HTTPTimeout           time.Duration `mapstructure:"-"`
	ConnectTimeout        time.Duration `mapstructure:"-"`
	NetworkRetryAttempts  int           `mapstructure:"network_retry_attempts"`
	LogicRetryAttempts    int           `mapstructure:"logic_retry_attempts"`

	CompressThresholdBytes int64  `mapstructure:"compress_threshold_bytes"`
	MaxPayloadBytes        int64  `mapstructure:"max_payload_bytes"`
	MinImageBytes          int64  `mapstructure:"min_image_bytes"`
	TransformPrimaryURL    string `mapstructure:"transform_primary_url"`
	TransformAlternateURL  string `mapstructure:"transform_alternate_url"`

	CadenceTiersRaw string        `mapstructure:"cadence_tiers"`
	CadenceDefault  int           `mapstructure:"cadence_default"`
	CadenceTiers    []CadenceTier `mapstructure:"-"`

	ArticleCapacity   int    `mapstructure:"article_capacity"`
	ArticleToken      string `mapstructure:"article_token"`
	ArticleAuthorName string `mapstructure:"article_author_name"`
	ArticleAuthorURL  string `mapstructure:"article_author_url"`
	ArticleAPIURL     string `mapstructure:"article_api_url"`

	TelegramToken      string   `mapstructure:"telegram_token"`
	TelegramAPIURL     string   `mapstructure:"telegram_api_url"`
	ChannelID          string   `mapstructure:"channel_id"`
	OperatorChatIDsRaw string   `mapstructure:"operator_chat_ids"`
	OperatorChatIDs    []string `mapstructure:"-"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// CadenceTier says galleries younger than MaxAgeDays are rechecked every EveryDays.
type CadenceTier struct {
	MaxAgeDays int
	EveryDays  int
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "samvad-gallery-mirror")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("hosts_file", "./configs/hosts.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("admin_addr", "")

	v.SetDefault("scan_interval", 3600)      // seconds
	v.SetDefault("recheck_interval", 86400) // seconds
	v.SetDefault("gallery_pause_ms", 1000)

	v.SetDefault("source_base_url", "https://exhentai.org")
	v.SetDefault("source_credential", "")
	v.SetDefault("source_user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36")
	v.SetDefault("source_rps", 2.0)
	v.SetDefault("search_params", "f_cats=0")
	v.SetDefault("search_cap", 50)

	v.SetDefault("worker_count", 5)
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("connect_timeout_seconds", 10)
	v.SetDefault("network_retry_attempts", 5)
	v.SetDefault("logic_retry_attempts", 2)

	v.SetDefault("compress_threshold_bytes", 1_000_000)
	v.SetDefault("max_payload_bytes", 4_900_000)
	v.SetDefault("min_image_bytes", 1000)
	v.SetDefault("transform_primary_url", "https://wsrv.nl/")
	v.SetDefault("transform_alternate_url", "https://images.weserv.nl/")

	v.SetDefault("cadence_tiers", "2:1,7:3,14:7")
	v.SetDefault("cadence_default", 14)

	v.SetDefault("article_capacity", 100)
	v.SetDefault("article_token", "")
	v.SetDefault("article_author_name", "")
	v.SetDefault("article_author_url", "")
	v.SetDefault("article_api_url", "https://api.telegra.ph")

	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_api_url", "https://api.telegram.org")
	v.SetDefault("channel_id", "")
	v.SetDefault("operator_chat_ids", "")

	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/ledger.db")
	v.SetDefault("sqlite_path", "./data/ledger.sqlite")
}

// finalize validates raw values and derives typed fields.
func (cfg *Config) finalize() error {
	if cfg.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("invalid scan_interval (must be positive seconds)")
	}
	if cfg.RecheckIntervalSeconds < 0 {
		return fmt.Errorf("invalid recheck_interval (must not be negative)")
	}
	if cfg.GalleryPauseMs < 0 {
		return fmt.Errorf("invalid gallery_pause_ms (must not be negative)")
	}
	cfg.ScanInterval = time.Duration(cfg.ScanIntervalSeconds) * time.Second
	cfg.RecheckInterval = time.Duration(cfg.RecheckIntervalSeconds) * time.Second
	cfg.GalleryPause = time.Duration(cfg.GalleryPauseMs) * time.Millisecond

	if cfg.HTTPTimeoutSeconds <= 0 || cfg.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http timeouts (must be positive seconds)")
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	cfg.ConnectTimeout = time.Duration(cfg.ConnectTimeoutSeconds) * time.Second

	if cfg.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker_count (must be positive)")
	}
	if cfg.SearchCap <= 0 {
		return fmt.Errorf("invalid search_cap (must be positive)")
	}
	if cfg.ArticleCapacity <= 0 {
		return fmt.Errorf("invalid article_capacity (must be positive)")
	}
	if cfg.NetworkRetryAttempts <= 0 || cfg.LogicRetryAttempts <= 0 {
		return fmt.Errorf("invalid retry attempts (must be positive)")
	}
	if cfg.MaxPayloadBytes <= 0 || cfg.CompressThresholdBytes <= 0 {
		return fmt.Errorf("invalid size limits (must be positive bytes)")
	}
	if cfg.MinImageBytes < 0 || cfg.MinImageBytes >= cfg.MaxPayloadBytes {
		return fmt.Errorf("invalid min_image_bytes (must be below max_payload_bytes)")
	}

	params, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(cfg.SearchParamsRaw), "?"))
	if err != nil {
		return fmt.Errorf("parse search_params: %w", err)
	}
	cfg.SearchParams = params

	tiers, err := ParseCadenceTiers(cfg.CadenceTiersRaw)
	if err != nil {
		return err
	}
	if cfg.CadenceDefault <= 0 {
		return fmt.Errorf("invalid cadence_default (must be positive days)")
	}
	cfg.CadenceTiers = tiers

	cfg.OperatorChatIDs = splitList(cfg.OperatorChatIDsRaw)
	return nil
}

// ParseCadenceTiers parses "maxAge:every" pairs such as "2:1,7:3,14:7".
func ParseCadenceTiers(raw string) ([]CadenceTier, error) {
	var tiers []CadenceTier
	for _, part := range splitList(raw) {
		age, every, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid cadence tier %q (want maxAge:every)", part)
		}
		maxAge, err := strconv.Atoi(strings.TrimSpace(age))
		if err != nil || maxAge <= 0 {
			return nil, fmt.Errorf("invalid cadence tier age %q", age)
		}
		days, err := strconv.Atoi(strings.TrimSpace(every))
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid cadence tier interval %q", every)
		}
		tiers = append(tiers, CadenceTier{MaxAgeDays: maxAge, EveryDays: days})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxAgeDays < tiers[j].MaxAgeDays })
	return tiers, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Redacted returns a copy safe to log, with credentials masked.
func (cfg Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	cfg.SourceCredential = mask(cfg.SourceCredential)
	cfg.ArticleToken = mask(cfg.ArticleToken)
	cfg.TelegramToken = mask(cfg.TelegramToken)
	return cfg
}
