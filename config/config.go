package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hlsnet/hls-core/libs/log"
)

const (
	// DBBackendGoLevelDB is the default persistent backend.
	DBBackendGoLevelDB = "goleveldb"
	// DBBackendMemDB keeps everything in memory.
	DBBackendMemDB = "memdb"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultHLSDir    = ".hlsnode"
	DefaultConfigDir = "config"
	DefaultDataDir   = "data"

	DefaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(DefaultConfigDir, DefaultConfigFileName)
)

// Config defines the top level configuration for a node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	HeaderSync      *HeaderSyncConfig      `mapstructure:"header_sync" toml:"header_sync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" toml:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		HeaderSync:      DefaultHeaderSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		HeaderSync:      TestHeaderSyncConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.HeaderSync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [header_sync] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home" toml:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker" toml:"moniker"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend" toml:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir" toml:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level" toml:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format" toml:"log_format"`

	// Unix time and difficulty of the genesis header
	GenesisTime       uint64 `mapstructure:"genesis_time" toml:"genesis_time"`
	GenesisDifficulty uint64 `mapstructure:"genesis_difficulty" toml:"genesis_difficulty"`
}

// DefaultBaseConfig returns a default base configuration for a node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:           defaultMoniker,
		DBBackend:         DBBackendGoLevelDB,
		DBPath:            DefaultDataDir,
		LogLevel:          DefaultLogLevel,
		LogFormat:         log.LogFormatPlain,
		GenesisTime:       1700000000,
		GenesisDifficulty: 0,
	}
}

// TestBaseConfig returns a base configuration for testing a node.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test"
	cfg.DBBackend = DBBackendMemDB
	return cfg
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	switch cfg.DBBackend {
	case DBBackendGoLevelDB, DBBackendMemDB:
	default:
		return fmt.Errorf("unknown db_backend %q (must be %q or %q)", cfg.DBBackend, DBBackendGoLevelDB, DBBackendMemDB)
	}
	if _, err := log.AllowLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// HeaderSyncConfig

// HeaderSyncConfig defines the configuration for the header chain syncer.
type HeaderSyncConfig struct {
	// Minimum number of connected peers before a sync is started
	MinPeersToSync int `mapstructure:"min_peers_to_sync" toml:"min_peers_to_sync"`

	// Number of blocks below the local head that are requested again at the
	// start of every sync, so a reorg of that depth is picked up
	MaxReorgDepth uint64 `mapstructure:"max_reorg_depth" toml:"max_reorg_depth"`

	// Verify the seal of one in this many headers (plus the last header of
	// every batch)
	SealCheckRandomSampleRate int `mapstructure:"seal_check_random_sample_rate" toml:"seal_check_random_sample_rate"`

	// Upper bound on the number of headers requested at once
	MaxHeadersFetch int `mapstructure:"max_headers_fetch" toml:"max_headers_fetch"`

	// How long to wait for a peer to answer a header request
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`

	// Number of consecutive fully redundant batches tolerated from a peer
	MaxRedundantBatches int `mapstructure:"max_redundant_batches" toml:"max_redundant_batches"`

	// Size of the inbound message queue
	MsgQueueSize int `mapstructure:"msg_queue_size" toml:"msg_queue_size"`

	// Maximum number of queued headers persisted at once
	ImportBatchSize int `mapstructure:"import_batch_size" toml:"import_batch_size"`
}

// DefaultHeaderSyncConfig returns a default configuration for the header
// chain syncer.
func DefaultHeaderSyncConfig() *HeaderSyncConfig {
	return &HeaderSyncConfig{
		MinPeersToSync:            1,
		MaxReorgDepth:             24,
		SealCheckRandomSampleRate: 48,
		MaxHeadersFetch:           192,
		RequestTimeout:            20 * time.Second,
		MaxRedundantBatches:       16,
		MsgQueueSize:              2000,
		ImportBatchSize:           192,
	}
}

// TestHeaderSyncConfig returns a configuration for testing the header chain
// syncer.
func TestHeaderSyncConfig() *HeaderSyncConfig {
	cfg := DefaultHeaderSyncConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.MsgQueueSize = 100
	return cfg
}

// HeaderQueueSize is the capacity of the queue between the syncer and the
// importer.
func (cfg *HeaderSyncConfig) HeaderQueueSize() int {
	return cfg.MaxHeadersFetch * 8
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *HeaderSyncConfig) ValidateBasic() error {
	if cfg.MinPeersToSync < 0 {
		return errors.New("min_peers_to_sync can't be negative")
	}
	if cfg.SealCheckRandomSampleRate < 0 {
		return errors.New("seal_check_random_sample_rate can't be negative")
	}
	if cfg.MaxHeadersFetch <= 0 {
		return errors.New("max_headers_fetch must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if cfg.MaxRedundantBatches < 0 {
		return errors.New("max_redundant_batches can't be negative")
	}
	if cfg.MsgQueueSize <= 0 {
		return errors.New("msg_queue_size must be positive")
	}
	if cfg.ImportBatchSize <= 0 {
		return errors.New("import_batch_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting and
// tracing.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus" toml:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr" toml:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections" toml:"max_open_connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace" toml:"namespace"`

	// When true, sync sessions are traced and spans are written to stdout.
	TraceStdout bool `mapstructure:"trace_stdout" toml:"trace_stdout"`

	// If set, metrics are also pushed to a Prometheus push gateway at this
	// URL every PushInterval.
	PushGatewayURL string        `mapstructure:"push_gateway_url" toml:"push_gateway_url"`
	PushInterval   time.Duration `mapstructure:"push_interval" toml:"push_interval"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "hlsnode",
		TraceStdout:          false,
		PushGatewayURL:       "",
		PushInterval:         5 * time.Second,
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr can't be empty when prometheus is enabled")
	}
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.PushGatewayURL != "" && cfg.PushInterval <= 0 {
		return errors.New("push_interval must be positive when push_gateway_url is set")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
