package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// File is the on-disk configuration of the command line runner.
type File struct {
	LogLevel  string         `toml:"log_level"`
	Connector map[string]any `toml:"connector"`
	Sink      SinkConfig     `toml:"sink"`
	Store     StoreConfig    `toml:"checkpoint_store"`
	Admin     AdminConfig    `toml:"admin"`
}

type SinkConfig struct {
	Type    string   `toml:"type"`
	Topic   string   `toml:"topic"`
	Brokers []string `toml:"brokers"`
	NatsURL string   `toml:"nats_url"`

	BatchSize       int     `toml:"batch_size"`
	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	MaxRetries      uint    `toml:"max_retries"`
	FlushIntervalMS int     `toml:"checkpoint_flush_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
}

type StoreConfig struct {
	Type  string `toml:"type"`
	Path  string `toml:"path"`
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

type AdminConfig struct {
	Addr string `toml:"addr"`
}

func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	f.SetDefault()
	return &f, nil
}

func (f *File) SetDefault() {
	if isEmpty(f.Sink.Type) {
		f.Sink.Type = "stdout"
	}
	if isEmpty(f.Store.Type) {
		f.Store.Type = StoreMemory
	}
	if isEmpty(f.Store.Table) {
		f.Store.Table = "mongocdc_checkpoints"
	}
	if f.Sink.FlushIntervalMS <= 0 {
		f.Sink.FlushIntervalMS = 1000
	}
}

// ConnectorConfig decodes the [connector] section and applies defaults.
func (f *File) ConnectorConfig() (*Config, error) {
	cfg, err := FromMap(f.Connector)
	if err != nil {
		return nil, err
	}
	cfg.SetDefault()
	if !isEmpty(f.LogLevel) {
		cfg.Logger.LogLevel = parseLevel(f.LogLevel)
	}
	return cfg, nil
}

func (f *File) Validate() error {
	var err error
	switch strings.ToLower(f.Store.Type) {
	case StoreMemory:
	case StorePebble:
		if isEmpty(f.Store.Path) {
			err = errors.Join(err, errors.New("checkpoint_store.path cannot be empty for pebble"))
		}
	case StorePostgres:
		if isEmpty(f.Store.DSN) {
			err = errors.Join(err, errors.New("checkpoint_store.dsn cannot be empty for postgres"))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown checkpoint_store.type %q", f.Store.Type))
	}

	if isEmpty(f.Sink.Topic) && f.Sink.Type != "stdout" {
		err = errors.Join(err, errors.New("sink.topic cannot be empty"))
	}

	return err
}

func parseLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
