package config

import (
	"encoding/json"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ExchangeConf struct {
	Host       string `json:"host" yaml:"host"`
	RecvWindow int64  `json:"recvWindow" yaml:"recv_window"` // ms
	Timeout    int    `json:"timeout" yaml:"timeout"`        // seconds
}

type StorageConf struct {
	Driver   string `json:"driver" yaml:"driver"` // mongo or sqlite
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

type SupervisorConf struct {
	Interval int `json:"interval" yaml:"interval"` // seconds
	Grace    int `json:"grace" yaml:"grace"`       // seconds to wait for workers on shutdown
}

type WorkerConf struct {
	Interval int `json:"interval" yaml:"interval"` // seconds
	Backoff  int `json:"backoff" yaml:"backoff"`   // seconds
}

type LogConf struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"maxSize" yaml:"max_size"`
	MaxBackups int    `json:"maxBackups" yaml:"max_backups"`
	MaxAge     int    `json:"maxAge" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type MetricsConf struct {
	Listen string `json:"listen" yaml:"listen"` // empty disables the ops server
}

type Config struct {
	Exchange   ExchangeConf   `json:"exchange" yaml:"exchange"`
	Storage    StorageConf    `json:"storage" yaml:"storage"`
	Supervisor SupervisorConf `json:"supervisor" yaml:"supervisor"`
	Worker     WorkerConf     `json:"worker" yaml:"worker"`
	Log        LogConf        `json:"log" yaml:"log"`
	Metrics    MetricsConf    `json:"metrics" yaml:"metrics"`
}

const (
	DefaultHost       = "https://api.bybit.com"
	DefaultRecvWindow = 5000
)

func Default() Config {
	return Config{
		Exchange: ExchangeConf{
			Host:       DefaultHost,
			RecvWindow: DefaultRecvWindow,
			Timeout:    10,
		},
		Storage: StorageConf{
			Driver:   "mongo",
			URI:      "mongodb://localhost:27017",
			Database: "grid",
		},
		Supervisor: SupervisorConf{Interval: 10, Grace: 15},
		Worker:     WorkerConf{Interval: 5, Backoff: 5},
		Log:        LogConf{Level: "info", MaxSize: 100, MaxBackups: 7, MaxAge: 30},
	}
}

// Load reads a JSON or YAML file (chosen by extension), then applies .env and
// environment overrides. Priority: ENV > file > defaults.
func Load(filename string) (Config, error) {
	cfg := Default()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, &cfg)
		default:
			err = json.Unmarshal(b, &cfg)
		}
		if err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", filename)
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)
	cfg.fillDefaults()

	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GRID_EXCHANGE_HOST"); v != "" {
		cfg.Exchange.Host = v
	}
	if v := os.Getenv("GRID_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	// DATABASE_URL is what the account service itself is configured with.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.URI = v
	}
	if v := os.Getenv("GRID_STORAGE_URI"); v != "" {
		cfg.Storage.URI = v
	}
	if v := os.Getenv("GRID_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GRID_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Exchange.Host == "" {
		c.Exchange.Host = d.Exchange.Host
	}
	if c.Exchange.RecvWindow <= 0 {
		c.Exchange.RecvWindow = d.Exchange.RecvWindow
	}
	if c.Exchange.Timeout <= 0 {
		c.Exchange.Timeout = d.Exchange.Timeout
	}
	if c.Supervisor.Interval <= 0 {
		c.Supervisor.Interval = d.Supervisor.Interval
	}
	if c.Supervisor.Grace <= 0 {
		c.Supervisor.Grace = d.Supervisor.Grace
	}
	if c.Worker.Interval <= 0 {
		c.Worker.Interval = d.Worker.Interval
	}
	if c.Worker.Backoff <= 0 {
		c.Worker.Backoff = d.Worker.Backoff
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "mongo", "sqlite":
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.URI == "" {
		return errors.New("storage uri is empty")
	}
	if c.Storage.Driver == "mongo" && c.Storage.Database == "" {
		return errors.New("mongo database is empty")
	}
	return nil
}

func (e ExchangeConf) RequestTimeout() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

func (s SupervisorConf) IntervalDuration() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

func (s SupervisorConf) GraceDuration() time.Duration {
	return time.Duration(s.Grace) * time.Second
}

func (w WorkerConf) IntervalDuration() time.Duration {
	return time.Duration(w.Interval) * time.Second
}

func (w WorkerConf) BackoffDuration() time.Duration {
	return time.Duration(w.Backoff) * time.Second
}
