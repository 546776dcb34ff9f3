package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultServer         = "localhost"
	DefaultIDColumn       = "_id"
	DefaultScript         = "return $;"
	DefaultMaxSendCount   = 300
	DefaultMaxSendDelay   = 500 * time.Millisecond
	DefaultReconnectDelay = 2000 * time.Millisecond
	DefaultLogDatabase    = "local"
	DefaultLogCollection  = "oplog.rs"
	DefaultReadPreference = "secondaryPreferred"
)

type Config struct {
	Logger LoggerConfig

	// InstanceID tags log lines and published messages of one connector.
	InstanceID string

	Server     string
	Database   string
	Collection string

	// Source identifies the stream for checkpoint lookup.
	Source string

	// Code, Mapper and Mappings are alternative names for the transform
	// script; the first non-empty one wins.
	Code     string
	Mapper   string
	Mappings string

	IDColumn       string
	MaxSendCount   int
	MaxSendDelay   time.Duration
	ReconnectDelay time.Duration

	// Checkpoint overrides the checkpoint store when non-nil: source
	// reference -> checkpoint string.
	Checkpoint map[string]string

	LogDatabase    string
	LogCollection  string
	ReadPreference string
}

type LoggerConfig struct {
	LogLevel logrus.Level
}

type Option func(*Config)

func NewConfig(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	c.SetDefault()
	return c
}

func WithServer(server string) Option {
	return func(c *Config) {
		c.Server = server
	}
}

func WithDatabase(database string) Option {
	return func(c *Config) {
		c.Database = database
	}
}

func WithCollection(collection string) Option {
	return func(c *Config) {
		c.Collection = collection
	}
}

func WithSource(source string) Option {
	return func(c *Config) {
		c.Source = source
	}
}

func WithCode(code string) Option {
	return func(c *Config) {
		c.Code = code
	}
}

func WithIDColumn(column string) Option {
	return func(c *Config) {
		c.IDColumn = column
	}
}

func WithMaxSendCount(count int) Option {
	return func(c *Config) {
		c.MaxSendCount = count
	}
}

func WithMaxSendDelay(delay time.Duration) Option {
	return func(c *Config) {
		c.MaxSendDelay = delay
	}
}

func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Config) {
		c.ReconnectDelay = delay
	}
}

func WithCheckpoint(checkpoints map[string]string) Option {
	return func(c *Config) {
		c.Checkpoint = checkpoints
	}
}

func WithLogLevel(level logrus.Level) Option {
	return func(c *Config) {
		c.Logger.LogLevel = level
	}
}

func WithReadPreference(pref string) Option {
	return func(c *Config) {
		c.ReadPreference = pref
	}
}

func (c *Config) SetDefault() {
	if c.InstanceID == "" {
		c.InstanceID = ksuid.New().String()
	}
	if isEmpty(c.Server) {
		c.Server = DefaultServer
	}
	if isEmpty(c.IDColumn) {
		c.IDColumn = DefaultIDColumn
	}
	if c.MaxSendCount <= 0 {
		c.MaxSendCount = DefaultMaxSendCount
	}
	if c.MaxSendDelay <= 0 {
		c.MaxSendDelay = DefaultMaxSendDelay
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if isEmpty(c.LogDatabase) {
		c.LogDatabase = DefaultLogDatabase
	}
	if isEmpty(c.LogCollection) {
		c.LogCollection = DefaultLogCollection
	}
	if isEmpty(c.ReadPreference) {
		c.ReadPreference = DefaultReadPreference
	}
	if c.Logger.LogLevel == 0 {
		c.Logger.LogLevel = logrus.InfoLevel
	}
}

// Script returns the transform source, falling back to the identity script.
func (c *Config) Script() string {
	for _, s := range []string{c.Code, c.Mapper, c.Mappings} {
		if !isEmpty(s) {
			return s
		}
	}
	return DefaultScript
}

func (c *Config) Namespace() string {
	return c.Database + "." + c.Collection
}

// URI builds the connection string for the named database on the configured
// server. Server may be a bare host list or a full mongodb:// URI.
func (c *Config) URI(database string) string {
	server := c.Server
	if !strings.HasPrefix(server, "mongodb://") && !strings.HasPrefix(server, "mongodb+srv://") {
		server = "mongodb://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return fmt.Sprintf("mongodb://%s/%s?readPreference=%s", c.Server, database, c.ReadPreference)
	}

	u.Path = "/" + database
	q := u.Query()
	if q.Get("readPreference") == "" {
		q.Set("readPreference", c.ReadPreference)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) Validate() error {
	var err error
	if isEmpty(c.Server) {
		err = errors.Join(err, errors.New("server cannot be empty"))
	}

	if isEmpty(c.Database) {
		err = errors.Join(err, errors.New("db cannot be empty"))
	}

	if isEmpty(c.Collection) {
		err = errors.Join(err, errors.New("collection cannot be empty"))
	}

	if isEmpty(c.IDColumn) {
		err = errors.Join(err, errors.New("id_column cannot be empty"))
	}

	if c.MaxSendCount <= 0 {
		err = errors.Join(err, errors.New("maxSendCount must be greater than 0"))
	}

	if c.MaxSendDelay <= 0 {
		err = errors.Join(err, errors.New("maxSendDelay must be greater than 0"))
	}

	return err
}

func (c *Config) Print() {
	fmt.Printf("Config: Server=%s Database=%s Collection=%s Source=%s IDColumn=%s MaxSendCount=%d MaxSendDelay=%s\n",
		redact(c.Server), c.Database, c.Collection, c.Source, c.IDColumn, c.MaxSendCount, c.MaxSendDelay)
}

// Clone returns a deep copy; the checkpoint map is not shared.
func (c *Config) Clone() *Config {
	cfg := *c
	if c.Checkpoint != nil {
		cfg.Checkpoint = make(map[string]string, len(c.Checkpoint))
		for k, v := range c.Checkpoint {
			cfg.Checkpoint[k] = v
		}
	}
	return &cfg
}

// Merge applies the non-empty fields of update onto a copy of c. restart
// reports that the server, database or collection changed; recompile reports
// that the effective transform script changed.
func (c *Config) Merge(update *Config) (merged *Config, restart, recompile bool) {
	merged = c.Clone()
	if update == nil {
		return merged, false, false
	}

	setString(&merged.Server, update.Server)
	setString(&merged.Database, update.Database)
	setString(&merged.Collection, update.Collection)
	setString(&merged.Source, update.Source)
	setString(&merged.Code, update.Code)
	setString(&merged.Mapper, update.Mapper)
	setString(&merged.Mappings, update.Mappings)
	setString(&merged.IDColumn, update.IDColumn)
	setString(&merged.ReadPreference, update.ReadPreference)
	setString(&merged.LogDatabase, update.LogDatabase)
	setString(&merged.LogCollection, update.LogCollection)

	if update.MaxSendCount > 0 {
		merged.MaxSendCount = update.MaxSendCount
	}
	if update.MaxSendDelay > 0 {
		merged.MaxSendDelay = update.MaxSendDelay
	}
	if update.ReconnectDelay > 0 {
		merged.ReconnectDelay = update.ReconnectDelay
	}
	if update.Checkpoint != nil {
		if merged.Checkpoint == nil {
			merged.Checkpoint = make(map[string]string, len(update.Checkpoint))
		}
		for k, v := range update.Checkpoint {
			merged.Checkpoint[k] = v
		}
	}

	restart = merged.Server != c.Server ||
		merged.Database != c.Database ||
		merged.Collection != c.Collection
	recompile = merged.Script() != c.Script()

	return merged, restart, recompile
}

func setString(dst *string, v string) {
	if !isEmpty(v) {
		*dst = v
	}
}

func redact(server string) string {
	u, err := url.Parse(server)
	if err != nil || u.User == nil {
		return server
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "*******")
	}
	return u.String()
}

func isEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
