package hosting

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Supported backend types.
	TypeIPFS     = "ipfs"
	TypeTeletype = "teletype"
	TypeS3       = "s3"

	defaultTimeoutSeconds = 60
	defaultIPFSEndpoint   = "https://api.img2ipfs.org/api/v0/add?pin=false"
	defaultTeletypeURL    = "https://teletype.in/media/"
)

// configFile represents the structure of the hosts configuration file.
type configFile struct {
	Backends []BackendConfig `json:"backends" yaml:"backends"`
}

// BackendConfig is one hosting backend declared in config files. Order is priority.
type BackendConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Type     string          `json:"type" yaml:"type"`
	Enabled  *bool           `json:"enabled" yaml:"enabled"`
	MaxBytes int64           `json:"max_bytes" yaml:"max_bytes"`
	IPFS     *IPFSConfig     `json:"ipfs" yaml:"ipfs"`
	Teletype *TeletypeConfig `json:"teletype" yaml:"teletype"`
	S3       *S3Config       `json:"s3" yaml:"s3"`
}

// IPFSConfig uploads to an IPFS add endpoint and links through a gateway.
type IPFSConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	GatewayHost    string `json:"gateway_host" yaml:"gateway_host"`
	GatewayDate    string `json:"gateway_date" yaml:"gateway_date"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// TeletypeConfig uploads to a media endpoint authorized by token.
type TeletypeConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	Token          string `json:"token" yaml:"token"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// S3Config stores objects in an S3-compatible bucket served from PublicURL.
type S3Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	PublicURL string `json:"public_url" yaml:"public_url"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// LoadConfigs reads backend definitions from a YAML/JSON file and returns the enabled ones in order.
func LoadConfigs(path string) ([]BackendConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("hosts file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hosts file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return ParseConfigs(raw, filepath.Ext(path))
}

// ParseConfigs decodes, sanitizes and validates backend definitions.
func ParseConfigs(data []byte, ext string) ([]BackendConfig, error) {
	var (
		parsed configFile
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".json":
		err = json.Unmarshal(data, &parsed)
	default:
		err = yaml.Unmarshal(data, &parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("decode hosts file: %w", err)
	}
	if len(parsed.Backends) == 0 {
		return nil, errors.New("hosts file contains no backends")
	}

	seen := make(map[string]bool, len(parsed.Backends))
	out := make([]BackendConfig, 0, len(parsed.Backends))
	for i := range parsed.Backends {
		cfg := sanitizeBackendConfig(parsed.Backends[i])
		if err := validateBackendConfig(cfg); err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate backend id %q", cfg.ID)
		}
		seen[cfg.ID] = true
		if cfg.EnabledValue() {
			out = append(out, cfg)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("hosts file has no enabled backends")
	}
	return out, nil
}

// EnabledValue returns enabled flag defaulting to true.
func (cfg BackendConfig) EnabledValue() bool {
	if cfg.Enabled == nil {
		return true
	}
	return *cfg.Enabled
}

func sanitizeBackendConfig(cfg BackendConfig) BackendConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))

	if cfg.IPFS != nil {
		c := *cfg.IPFS
		c.Endpoint = strings.TrimSpace(c.Endpoint)
		if c.Endpoint == "" {
			c.Endpoint = defaultIPFSEndpoint
		}
		c.GatewayHost = strings.TrimSpace(c.GatewayHost)
		c.GatewayDate = strings.TrimSpace(c.GatewayDate)
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = defaultTimeoutSeconds
		}
		cfg.IPFS = &c
	}
	if cfg.Teletype != nil {
		c := *cfg.Teletype
		c.Endpoint = strings.TrimSpace(c.Endpoint)
		if c.Endpoint == "" {
			c.Endpoint = defaultTeletypeURL
		}
		c.Token = strings.TrimSpace(c.Token)
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = defaultTimeoutSeconds
		}
		cfg.Teletype = &c
	}
	if cfg.S3 != nil {
		c := *cfg.S3
		c.Bucket = strings.TrimSpace(c.Bucket)
		c.Region = strings.TrimSpace(c.Region)
		c.Endpoint = strings.TrimSpace(c.Endpoint)
		c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
		c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
		cfg.S3 = &c
	}
	return cfg
}

func validateBackendConfig(cfg BackendConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	switch cfg.Type {
	case TypeIPFS:
		if cfg.IPFS == nil || cfg.IPFS.GatewayHost == "" {
			return fmt.Errorf("ipfs.gateway_host is required for backend %q", cfg.ID)
		}
	case TypeTeletype:
		if cfg.Teletype == nil || cfg.Teletype.Token == "" {
			return fmt.Errorf("teletype.token is required for backend %q", cfg.ID)
		}
	case TypeS3:
		if cfg.S3 == nil || cfg.S3.Bucket == "" || cfg.S3.Region == "" || cfg.S3.PublicURL == "" {
			return fmt.Errorf("s3.bucket, s3.region and s3.public_url are required for backend %q", cfg.ID)
		}
	case "":
		return fmt.Errorf("type is required for backend %q", cfg.ID)
	}
	return nil
}
