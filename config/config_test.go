package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig(WithDatabase("app"), WithCollection("orders"))

	assert.Equal(t, "localhost", cfg.Server)
	assert.Equal(t, "_id", cfg.IDColumn)
	assert.Equal(t, 300, cfg.MaxSendCount)
	assert.Equal(t, 500*time.Millisecond, cfg.MaxSendDelay)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, "return $;", cfg.Script())
	assert.Equal(t, "app.orders", cfg.Namespace())
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, logrus.InfoLevel, cfg.Logger.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db cannot be empty")
	assert.Contains(t, err.Error(), "collection cannot be empty")
	assert.Contains(t, err.Error(), "maxSendCount must be greater than 0")
}

func TestScriptPrecedence(t *testing.T) {
	cfg := &Config{Mapper: "return 1;", Mappings: "return 2;"}
	assert.Equal(t, "return 1;", cfg.Script())

	cfg.Code = "  "
	assert.Equal(t, "return 1;", cfg.Script())

	cfg.Code = "return 0;"
	assert.Equal(t, "return 0;", cfg.Script())
}

func TestURI(t *testing.T) {
	cfg := NewConfig(WithDatabase("app"), WithCollection("orders"))
	assert.Equal(t, "mongodb://localhost/local?readPreference=secondaryPreferred", cfg.URI("local"))

	cfg.Server = "mongodb://user:pw@db1:27017/?replicaSet=rs0"
	uri := cfg.URI("app")
	assert.Contains(t, uri, "mongodb://user:pw@db1:27017/app?")
	assert.Contains(t, uri, "replicaSet=rs0")
	assert.Contains(t, uri, "readPreference=secondaryPreferred")
}

func TestMerge(t *testing.T) {
	base := NewConfig(WithDatabase("app"), WithCollection("orders"), WithCode("return $;"))

	t.Run("code only", func(t *testing.T) {
		merged, restart, recompile := base.Merge(&Config{Code: "return null;"})
		assert.False(t, restart)
		assert.True(t, recompile)
		assert.Equal(t, "return null;", merged.Script())
		assert.Equal(t, "return $;", base.Script())
	})

	t.Run("collection only", func(t *testing.T) {
		merged, restart, recompile := base.Merge(&Config{Collection: "other"})
		assert.True(t, restart)
		assert.False(t, recompile)
		assert.Equal(t, "other", merged.Collection)
		assert.Equal(t, "orders", base.Collection)
	})

	t.Run("both", func(t *testing.T) {
		_, restart, recompile := base.Merge(&Config{Server: "db2", Code: "return 1;"})
		assert.True(t, restart)
		assert.True(t, recompile)
	})

	t.Run("nothing", func(t *testing.T) {
		merged, restart, recompile := base.Merge(&Config{MaxSendCount: 5})
		assert.False(t, restart)
		assert.False(t, recompile)
		assert.Equal(t, 5, merged.MaxSendCount)
	})

	t.Run("checkpoint map does not alias", func(t *testing.T) {
		merged, _, _ := base.Merge(&Config{Checkpoint: map[string]string{"queue:a": "1"}})
		merged.Checkpoint["queue:b"] = "2"
		assert.Nil(t, base.Checkpoint)
	})
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"server":       "db1",
		"db":           "app",
		"collection":   "orders",
		"source":       "system:mongo.orders",
		"mapper":       "return $.obj;",
		"id_column":    "sku",
		"maxSendCount": "3",
		"maxSendDelay": 250,
		"checkpoint": map[string]any{
			"system:mongo.orders": map[string]any{"checkpoint": "1487965675:3"},
			"other":               "42",
			"empty":               nil,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "db1", cfg.Server)
	assert.Equal(t, "app", cfg.Database)
	assert.Equal(t, "orders", cfg.Collection)
	assert.Equal(t, "return $.obj;", cfg.Script())
	assert.Equal(t, "sku", cfg.IDColumn)
	assert.Equal(t, 3, cfg.MaxSendCount)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxSendDelay)
	assert.Equal(t, map[string]string{
		"system:mongo.orders": "1487965675:3",
		"other":               "42",
	}, cfg.Checkpoint)
}

func TestFromMapInvalid(t *testing.T) {
	_, err := FromMap(map[string]any{"maxSendCount": "many"})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongocdc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[connector]
db = "app"
collection = "orders"
source = "orders-stream"
maxSendDelay = 100

[sink]
type = "kafka"
topic = "orders"
brokers = ["k1:9092"]

[checkpoint_store]
type = "pebble"
path = "/var/lib/mongocdc"
`), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, "kafka", f.Sink.Type)
	assert.Equal(t, []string{"k1:9092"}, f.Sink.Brokers)
	assert.Equal(t, StorePebble, f.Store.Type)
	assert.Equal(t, "mongocdc_checkpoints", f.Store.Table)

	cfg, err := f.ConnectorConfig()
	require.NoError(t, err)
	assert.Equal(t, "app.orders", cfg.Namespace())
	assert.Equal(t, 100*time.Millisecond, cfg.MaxSendDelay)
	assert.Equal(t, 300, cfg.MaxSendCount)
	assert.Equal(t, logrus.DebugLevel, cfg.Logger.LogLevel)
}

func TestFileValidate(t *testing.T) {
	f := &File{Store: StoreConfig{Type: "etcd"}, Sink: SinkConfig{Type: "nats"}}
	err := f.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown checkpoint_store.type")
	assert.Contains(t, err.Error(), "sink.topic cannot be empty")
}
