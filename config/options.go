package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// options mirrors the recognized option surface of a connector definition.
type options struct {
	Server         string         `mapstructure:"server"`
	DB             string         `mapstructure:"db"`
	Collection     string         `mapstructure:"collection"`
	Source         string         `mapstructure:"source"`
	Code           string         `mapstructure:"code"`
	Mapper         string         `mapstructure:"mapper"`
	Mappings       string         `mapstructure:"mappings"`
	IDColumn       string         `mapstructure:"id_column"`
	MaxSendCount   int            `mapstructure:"maxSendCount"`
	MaxSendDelay   int64          `mapstructure:"maxSendDelay"`
	ReconnectDelay int64          `mapstructure:"reconnectDelay"`
	ReadPreference string         `mapstructure:"readPreference"`
	LogDatabase    string         `mapstructure:"logDb"`
	LogCollection  string         `mapstructure:"logCollection"`
	Checkpoint     map[string]any `mapstructure:"checkpoint"`
}

// FromMap decodes a loosely typed option map. Durations are milliseconds.
// Checkpoint values may be plain strings or objects carrying a "checkpoint"
// key. Defaults are not applied so the result can be used as an update.
func FromMap(m map[string]any) (*Config, error) {
	var opts options
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("option decoder: %w", err)
	}

	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	cfg := &Config{
		Server:         opts.Server,
		Database:       opts.DB,
		Collection:     opts.Collection,
		Source:         opts.Source,
		Code:           opts.Code,
		Mapper:         opts.Mapper,
		Mappings:       opts.Mappings,
		IDColumn:       opts.IDColumn,
		MaxSendCount:   opts.MaxSendCount,
		MaxSendDelay:   time.Duration(opts.MaxSendDelay) * time.Millisecond,
		ReconnectDelay: time.Duration(opts.ReconnectDelay) * time.Millisecond,
		ReadPreference: opts.ReadPreference,
		LogDatabase:    opts.LogDatabase,
		LogCollection:  opts.LogCollection,
	}

	if opts.Checkpoint != nil {
		cfg.Checkpoint = make(map[string]string, len(opts.Checkpoint))
		for ref, v := range opts.Checkpoint {
			value, err := checkpointValue(v)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %q: %w", ref, err)
			}
			if value != "" {
				cfg.Checkpoint[ref] = value
			}
		}
	}

	return cfg, nil
}

func checkpointValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case map[string]any, map[any]any:
		obj, err := cast.ToStringMapE(val)
		if err != nil {
			return "", err
		}
		return cast.ToStringE(obj["checkpoint"])
	default:
		return cast.ToStringE(val)
	}
}
