package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"threathunt/internal/common"
)

// Config holds everything the hunt binaries need. Values come from an
// optional YAML file named by HUNT_CONFIG, then from the environment.
type Config struct {
	MISPURL       string `yaml:"misp_url"`
	MISPKey       string `yaml:"misp_key"`
	MISPKeyFile   string `yaml:"misp_key_file"`
	MISPVerifyTLS bool   `yaml:"misp_verify_tls"`
	EventDaysBack int    `yaml:"event_days_back"`
	SearchDays    int    `yaml:"search_days"`

	SIEMKind     string `yaml:"siem_kind"`
	SIEMHost     string `yaml:"siem_host"`
	SIEMUser     string `yaml:"siem_user"`
	SIEMPass     string `yaml:"siem_pass"`
	SIEMTarget   string `yaml:"siem_target"`
	SIEMInsecure bool   `yaml:"siem_insecure"`

	IOCTypes     []string      `yaml:"ioc_types"`
	OutputDir    string        `yaml:"output_dir"`
	ReportDir    string        `yaml:"report_dir"`
	Workers      int           `yaml:"workers"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	QueryRetries int           `yaml:"query_retries"` // attempts after the first

	LedgerPath  string `yaml:"ledger_path"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	Schedule    string `yaml:"schedule"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		MISPURL:       "https://localhost",
		MISPKeyFile:   "/shared/authkey.txt",
		EventDaysBack: 3,
		SearchDays:    90,
		SIEMKind:      "generic",
		SIEMHost:      "siem.example.com",
		SIEMUser:      "admin",
		SIEMPass:      "password",
		IOCTypes:      kindsToStrings(common.DefaultKinds),
		OutputDir:     ".",
		ReportDir:     "/shared",
		Workers:       4,
		QueryTimeout:  30 * time.Second,
		QueryRetries:  3,
		LedgerPath:    "hunt.db",
		NATSSubject:   "hunt.hits",
		Schedule:      "0 6 * * *",
		HTTPAddr:      ":8080",
		MetricsAddr:   ":9090",
		GRPCAddr:      ":9091",
	}
}

// Load builds the configuration from defaults, HUNT_CONFIG and the
// environment, then validates it.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("HUNT_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.resolveKey(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = parseBool(v)
		}
	}

	str(&c.MISPURL, "MISP_URL")
	str(&c.MISPKey, "MISP_KEY")
	str(&c.MISPKeyFile, "MISP_KEY_FILE")
	flag(&c.MISPVerifyTLS, "MISP_VERIFY_TLS")
	num(&c.EventDaysBack, "MISP_EVENT_DAYS_BACK")
	num(&c.SearchDays, "SIEM_SEARCH_TERM")

	str(&c.SIEMKind, "SIEM_KIND")
	str(&c.SIEMHost, "SIEM_HOST")
	str(&c.SIEMUser, "SIEM_USER")
	str(&c.SIEMPass, "SIEM_PASS")
	str(&c.SIEMTarget, "SIEM_TARGET")
	flag(&c.SIEMInsecure, "SIEM_INSECURE")

	if v := strings.TrimSpace(os.Getenv("HUNT_IOC_TYPES")); v != "" {
		c.IOCTypes = kindsToStrings(common.ParseKinds(v))
	}
	str(&c.OutputDir, "HUNT_OUTPUT_DIR")
	str(&c.ReportDir, "HUNT_REPORT_DIR")
	num(&c.Workers, "HUNT_WORKERS")
	if v := strings.TrimSpace(os.Getenv("HUNT_QUERY_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HUNT_QUERY_TIMEOUT: %w", err))
		} else {
			c.QueryTimeout = d
		}
	}
	num(&c.QueryRetries, "HUNT_QUERY_RETRIES")

	str(&c.LedgerPath, "HUNT_LEDGER_PATH")
	str(&c.NATSURL, "HUNT_NATS_URL")
	str(&c.NATSSubject, "HUNT_NATS_SUBJECT")
	str(&c.Schedule, "HUNT_SCHEDULE")
	str(&c.HTTPAddr, "HUNT_HTTP_ADDR")
	str(&c.MetricsAddr, "HUNT_METRICS_ADDR")
	str(&c.GRPCAddr, "HUNT_GRPC_ADDR")

	return errors.Join(errs...)
}

// resolveKey falls back to the key file when no key was given directly.
func (c *Config) resolveKey() error {
	if c.MISPKey != "" || c.MISPKeyFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.MISPKeyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read MISP key file: %w", err)
	}
	c.MISPKey = strings.TrimSpace(string(data))
	return nil
}

func (c *Config) validate() error {
	var problems []string
	if c.MISPKey == "" {
		problems = append(problems, "MISP_KEY environment variable or MISP_KEY_FILE must be set")
	}
	if !strings.HasPrefix(c.MISPURL, "http://") && !strings.HasPrefix(c.MISPURL, "https://") {
		problems = append(problems, fmt.Sprintf("MISP_URL must start with http:// or https://, got %q", c.MISPURL))
	}
	if c.EventDaysBack < 0 {
		problems = append(problems, "MISP_EVENT_DAYS_BACK must not be negative")
	}
	if c.SearchDays < 0 {
		problems = append(problems, "SIEM_SEARCH_TERM must not be negative")
	}
	if len(c.IOCTypes) == 0 {
		problems = append(problems, "HUNT_IOC_TYPES is empty")
	}
	if c.Workers < 1 {
		problems = append(problems, "HUNT_WORKERS must be at least 1")
	}
	if c.QueryRetries < 0 {
		problems = append(problems, "HUNT_QUERY_RETRIES must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Kinds returns the indicator allow-list.
func (c *Config) Kinds() []common.Kind {
	out := make([]common.Kind, 0, len(c.IOCTypes))
	for _, t := range c.IOCTypes {
		out = append(out, common.Kind(t))
	}
	return out
}

// Target returns the dial target of network SIEM adapters.
func (c *Config) Target() string {
	if c.SIEMTarget != "" {
		return c.SIEMTarget
	}
	return c.SIEMHost
}

func kindsToStrings(kinds []common.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
