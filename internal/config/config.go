package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Agent struct {
	ID             string `toml:"id" yaml:"id" json:"id"`
	ProcessPattern string `toml:"process_pattern" yaml:"process_pattern" json:"process_pattern"`
}

type Config struct {
	CollabFile string
	Port       string
	HTTPAddr   string
	WebDir     string

	LogLevel  string
	LogFormat string

	PollInterval     time.Duration
	LivenessInterval time.Duration
	RecencyWindow    time.Duration
	ProbeTimeout     time.Duration

	SnapshotSize     int
	SubscriberBuffer int

	Agents []Agent
}

// fileConfig mirrors Config for the on-disk formats. Durations are strings
// so every format accepts "500ms" and "5s".
type fileConfig struct {
	CollabFile       string  `toml:"collab_file" yaml:"collab_file" json:"collab_file"`
	Port             string  `toml:"port" yaml:"port" json:"port"`
	HTTPAddr         string  `toml:"http_addr" yaml:"http_addr" json:"http_addr"`
	WebDir           string  `toml:"web_dir" yaml:"web_dir" json:"web_dir"`
	LogLevel         string  `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat        string  `toml:"log_format" yaml:"log_format" json:"log_format"`
	PollInterval     string  `toml:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	LivenessInterval string  `toml:"liveness_interval" yaml:"liveness_interval" json:"liveness_interval"`
	RecencyWindow    string  `toml:"recency_window" yaml:"recency_window" json:"recency_window"`
	ProbeTimeout     string  `toml:"probe_timeout" yaml:"probe_timeout" json:"probe_timeout"`
	SnapshotSize     *int    `toml:"snapshot_size" yaml:"snapshot_size" json:"snapshot_size"`
	SubscriberBuffer *int    `toml:"subscriber_buffer" yaml:"subscriber_buffer" json:"subscriber_buffer"`
	Agents           []Agent `toml:"agents" yaml:"agents" json:"agents"`
}

func Default() Config {
	return Config{
		CollabFile:       "/root/.openclaw/collab/collaboration.jsonl",
		Port:             "3010",
		WebDir:           "frontend/dist",
		LogLevel:         "info",
		LogFormat:        "text",
		PollInterval:     500 * time.Millisecond,
		LivenessInterval: 5 * time.Second,
		RecencyWindow:    15 * time.Second,
		ProbeTimeout:     2 * time.Second,
		SnapshotSize:     200,
		SubscriberBuffer: 256,
		Agents: []Agent{
			{ID: "claude_code", ProcessPattern: `claude.*\s-p(\s|$)`},
			{ID: "clawbot", ProcessPattern: `openclaw.agent`},
		},
	}
}

// Load layers defaults, the optional config file at path, a .env file in
// the working directory and the process environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	loadDotEnv(".env")
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.resolve()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}

	setString(&c.CollabFile, fc.CollabFile)
	setString(&c.Port, fc.Port)
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.WebDir, fc.WebDir)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"liveness_interval", fc.LivenessInterval, &c.LivenessInterval},
		{"recency_window", fc.RecencyWindow, &c.RecencyWindow},
		{"probe_timeout", fc.ProbeTimeout, &c.ProbeTimeout},
	} {
		if err := setDuration(d.dst, d.key, d.raw); err != nil {
			return err
		}
	}
	if fc.SnapshotSize != nil {
		c.SnapshotSize = *fc.SnapshotSize
	}
	if fc.SubscriberBuffer != nil {
		c.SubscriberBuffer = *fc.SubscriberBuffer
	}
	if len(fc.Agents) > 0 {
		c.Agents = fc.Agents
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.CollabFile, os.Getenv("COLLAB_FILE"))
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.HTTPAddr, os.Getenv("COLLAB_HUB_HTTP_ADDR"))
	setString(&c.WebDir, os.Getenv("COLLAB_HUB_WEB_DIR"))
	setString(&c.LogLevel, os.Getenv("COLLAB_HUB_LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("COLLAB_HUB_LOG_FORMAT"))

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"COLLAB_HUB_POLL_INTERVAL", &c.PollInterval},
		{"COLLAB_HUB_LIVENESS_INTERVAL", &c.LivenessInterval},
		{"COLLAB_HUB_RECENCY_WINDOW", &c.RecencyWindow},
		{"COLLAB_HUB_PROBE_TIMEOUT", &c.ProbeTimeout},
	} {
		if err := setDuration(d.dst, d.key, os.Getenv(d.key)); err != nil {
			return err
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"COLLAB_HUB_SNAPSHOT_SIZE", &c.SnapshotSize},
		{"COLLAB_HUB_SUBSCRIBER_BUFFER", &c.SubscriberBuffer},
	} {
		raw := os.Getenv(n.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", n.key, err)
		}
		*n.dst = v
	}
	return nil
}

// resolve fills values derived from other keys.
func (c *Config) resolve() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":" + c.Port
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CollabFile) == "" {
		errs = append(errs, errors.New("collab_file is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":     c.PollInterval,
		"liveness_interval": c.LivenessInterval,
		"recency_window":    c.RecencyWindow,
		"probe_timeout":     c.ProbeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SnapshotSize <= 0 {
		errs = append(errs, fmt.Errorf("snapshot_size must be positive, got %d", c.SnapshotSize))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent is required"))
	}
	seen := map[string]bool{}
	for _, agent := range c.Agents {
		if agent.ID == "" {
			errs = append(errs, errors.New("agent id is required"))
			continue
		}
		if seen[agent.ID] {
			errs = append(errs, fmt.Errorf("duplicate agent %q", agent.ID))
		}
		seen[agent.ID] = true
		if agent.ProcessPattern == "" {
			continue
		}
		if _, err := regexp.Compile(agent.ProcessPattern); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", agent.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for _, agent := range c.Agents {
		ids = append(ids, agent.ID)
	}
	return ids
}

// Signatures maps agent ids to their process patterns. Agents without a
// pattern are never reported as running.
func (c Config) Signatures() map[string]string {
	out := make(map[string]string, len(c.Agents))
	for _, agent := range c.Agents {
		if agent.ProcessPattern != "" {
			out[agent.ID] = agent.ProcessPattern
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
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
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
