package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "VISHWATCH_"

type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Poller  PollerConfig  `json:"poller" yaml:"poller"`
	API     APIConfig     `json:"api" yaml:"api"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Alerts  AlertsConfig  `json:"alerts" yaml:"alerts"`
	Events  EventsConfig  `json:"events" yaml:"events"`
	Trigger TriggerConfig `json:"trigger" yaml:"trigger"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type FeedConfig struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Token      string        `json:"token" yaml:"token"`
	Timezone   string        `json:"timezone" yaml:"timezone"`
	SummaryTTL time.Duration `json:"summary_ttl" yaml:"summary_ttl"`
}

type PollerConfig struct {
	Interval         time.Duration `json:"interval" yaml:"interval"`
	PollOnStart      bool          `json:"poll_on_start" yaml:"poll_on_start"`
	AlertOnColdStart bool          `json:"alert_on_cold_start" yaml:"alert_on_cold_start"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	// StoreLimit caps active alerts; 0 keeps every alert until dismissed.
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type EventsConfig struct {
	BufferSize int          `json:"buffer_size" yaml:"buffer_size"`
	Kafka      KafkaSink    `json:"kafka" yaml:"kafka"`
	NATS       NATSSink     `json:"nats" yaml:"nats"`
	Notify     NotifyConfig `json:"notify" yaml:"notify"`
}

type KafkaSink struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type NATSSink struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

type NotifyConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	URLs     []string      `json:"urls" yaml:"urls"`
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

type TriggerConfig struct {
	Kafka KafkaTrigger `json:"kafka" yaml:"kafka"`
}

type KafkaTrigger struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// JSON has no duration literal, so duration fields also accept strings such as
// "5s" there; bare numbers are nanoseconds.

func (c *FeedConfig) UnmarshalJSON(data []byte) error {
	type plain FeedConfig
	aux := struct {
		*plain
		Timeout    json.RawMessage `json:"timeout"`
		SummaryTTL json.RawMessage `json:"summary_ttl"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := decodeDuration("feed.timeout", aux.Timeout, &c.Timeout); err != nil {
		return err
	}
	return decodeDuration("feed.summary_ttl", aux.SummaryTTL, &c.SummaryTTL)
}

func (c *PollerConfig) UnmarshalJSON(data []byte) error {
	type plain PollerConfig
	aux := struct {
		*plain
		Interval json.RawMessage `json:"interval"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return decodeDuration("poller.interval", aux.Interval, &c.Interval)
}

func (c *NotifyConfig) UnmarshalJSON(data []byte) error {
	type plain NotifyConfig
	aux := struct {
		*plain
		Cooldown json.RawMessage `json:"cooldown"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return decodeDuration("events.notify.cooldown", aux.Cooldown, &c.Cooldown)
}

func decodeDuration(field string, raw json.RawMessage, dst *time.Duration) error {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = d
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("%s: duration must be a string like \"5s\" or integer nanoseconds", field)
	}
	*dst = time.Duration(n)
	return nil
}

type SentryConfig struct {
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Feed: FeedConfig{
			BaseURL:    "http://localhost:5000/api",
			Timeout:    20 * time.Second,
			Timezone:   "UTC",
			SummaryTTL: 10 * time.Minute,
		},
		Poller:  PollerConfig{Interval: 5 * time.Second, PollOnStart: true},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:vishwatch.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 0},
		Events: EventsConfig{
			BufferSize: 64,
			Kafka:      KafkaSink{Topic: "vishwatch.alerts"},
			NATS:       NATSSink{SubjectPrefix: "vishwatch"},
			Notify:     NotifyConfig{Cooldown: time.Minute},
		},
		Trigger: TriggerConfig{Kafka: KafkaTrigger{Topic: "calls.classified", GroupID: "vishwatch"}},
		Sentry:  SentryConfig{Environment: "production", SampleRate: 1.0},
	}
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are ignored; variables already set are left untouched.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a yaml or json file, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	return finish(cfg)
}

// FromEnv builds a config from defaults and environment variables only.
func FromEnv() (*Config, error) {
	return finish(DefaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("FEED_BASE_URL", &cfg.Feed.BaseURL)
	str("FEED_TOKEN", &cfg.Feed.Token)
	str("FEED_TIMEZONE", &cfg.Feed.Timezone)
	str("API_ADDR", &cfg.API.Addr)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	str("NATS_URL", &cfg.Events.NATS.URL)
	str("SENTRY_DSN", &cfg.Sentry.DSN)
	list("KAFKA_BROKERS", &cfg.Events.Kafka.Brokers)
	list("NOTIFY_URLS", &cfg.Events.Notify.URLs)
	list("TRIGGER_BROKERS", &cfg.Trigger.Kafka.Brokers)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"FEED_TIMEOUT", &cfg.Feed.Timeout},
		{"SUMMARY_TTL", &cfg.Feed.SummaryTTL},
		{"POLL_INTERVAL", &cfg.Poller.Interval},
		{"NOTIFY_COOLDOWN", &cfg.Events.Notify.Cooldown},
	} {
		if err := dur(d.key, d.dst); err != nil {
			return err
		}
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"ALERT_ON_COLD_START", &cfg.Poller.AlertOnColdStart},
		{"POLL_ON_START", &cfg.Poller.PollOnStart},
		{"STORAGE_ENABLED", &cfg.Storage.Enabled},
	} {
		if err := boolean(b.key, b.dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = def.Feed.BaseURL
	}
	cfg.Feed.BaseURL = strings.TrimRight(cfg.Feed.BaseURL, "/")
	if cfg.Feed.Timeout <= 0 {
		cfg.Feed.Timeout = def.Feed.Timeout
	}
	if cfg.Feed.Timezone == "" {
		cfg.Feed.Timezone = def.Feed.Timezone
	}
	if cfg.Feed.SummaryTTL <= 0 {
		cfg.Feed.SummaryTTL = def.Feed.SummaryTTL
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = def.Poller.Interval
	}
	if cfg.Alerts.StoreLimit < 0 {
		cfg.Alerts.StoreLimit = 0
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Events.BufferSize <= 0 {
		cfg.Events.BufferSize = def.Events.BufferSize
	}
	if cfg.Events.Kafka.Topic == "" {
		cfg.Events.Kafka.Topic = def.Events.Kafka.Topic
	}
	if cfg.Events.NATS.SubjectPrefix == "" {
		cfg.Events.NATS.SubjectPrefix = def.Events.NATS.SubjectPrefix
	}
	if cfg.Events.Notify.Cooldown < 0 {
		cfg.Events.Notify.Cooldown = 0
	}
	if cfg.Trigger.Kafka.GroupID == "" {
		cfg.Trigger.Kafka.GroupID = def.Trigger.Kafka.GroupID
	}
	if cfg.Sentry.SampleRate <= 0 || cfg.Sentry.SampleRate > 1 {
		cfg.Sentry.SampleRate = def.Sentry.SampleRate
	}
}

func Validate(cfg *Config) error {
	u, err := url.Parse(cfg.Feed.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("feed.base_url must be an absolute url: %q", cfg.Feed.BaseURL)
	}
	if _, err := time.LoadLocation(cfg.Feed.Timezone); err != nil {
		return fmt.Errorf("feed.timezone: %w", err)
	}
	if cfg.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch cfg.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
		}
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn required when storage.enabled is true")
		}
	}
	if cfg.Events.Kafka.Enabled && len(cfg.Events.Kafka.Brokers) == 0 {
		return errors.New("events.kafka requires brokers")
	}
	if cfg.Events.NATS.Enabled && cfg.Events.NATS.URL == "" {
		return errors.New("events.nats.url required when events.nats.enabled is true")
	}
	if cfg.Events.Notify.Enabled && len(cfg.Events.Notify.URLs) == 0 {
		return errors.New("events.notify.urls required when events.notify.enabled is true")
	}
	if cfg.Trigger.Kafka.Enabled {
		if len(cfg.Trigger.Kafka.Brokers) == 0 || cfg.Trigger.Kafka.Topic == "" || cfg.Trigger.Kafka.GroupID == "" {
			return errors.New("trigger.kafka requires brokers, topic, group_id")
		}
	}
	return nil
}

// Manager holds the active config and reloads it when the file changes. A
// Manager without a path serves the environment-only config and never reloads.
type Manager struct {
	path    string
	cfg     atomic.Value
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = FromEnv()
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mu.Lock()
		m.modTime = info.ModTime()
		m.mu.Unlock()
	}
}

// NeedsReload reports whether the file changed since the last successful load.
func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// Watch reloads the config on file changes until ctx is done. The parent
// directory is watched so editors that replace the file are picked up.
func (m *Manager) Watch(ctx context.Context, onReload func(*Config), onError func(error)) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return err
	}
	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
