package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/BurntSushi/toml"

	hlsos "github.com/hlsnet/hls-core/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := hlsos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := hlsos.EnsureDir(filepath.Join(rootDir, DefaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := hlsos.EnsureDir(filepath.Join(rootDir, DefaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !hlsos.FileExists(configFilePath) {
		writeDefaultConfigFile(configFilePath)
	}
}

func writeDefaultConfigFile(configFilePath string) {
	WriteConfigFile(configFilePath, DefaultConfig())
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	hlsos.MustWriteFile(configFilePath, buffer.Bytes(), 0o644)
}

// ConfigFilePath returns the path of the config file inside rootDir.
func ConfigFilePath(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// LoadConfigFile reads the config file at path on top of the defaults.
// Options missing from the file keep their default value.
func LoadConfigFile(path string) (*Config, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(bz), cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/myawesomeapp/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.hlsnode" by default, but could be changed via $HLS_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Database backend: goleveldb | memdb
# * goleveldb (github.com/syndtr/goleveldb - most popular implementation)
#   - pure go
#   - stable
# * memdb
#   - nothing is persisted, for tests and simulations only
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ .BaseConfig.DBPath }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

# Unix time and difficulty of the genesis header
genesis_time = {{ .BaseConfig.GenesisTime }}
genesis_difficulty = {{ .BaseConfig.GenesisDifficulty }}

#######################################################################
###                 Header Sync Configuration Options               ###
#######################################################################
[header_sync]

# Minimum number of connected peers before a sync is started
min_peers_to_sync = {{ .HeaderSync.MinPeersToSync }}

# Number of blocks below the local head requested again at the start of
# every sync so that a reorg of that depth is picked up
max_reorg_depth = {{ .HeaderSync.MaxReorgDepth }}

# Verify the seal of one in this many headers, plus the last header of
# every batch. 1 verifies every seal.
seal_check_random_sample_rate = {{ .HeaderSync.SealCheckRandomSampleRate }}

# Upper bound on the number of headers requested at once
max_headers_fetch = {{ .HeaderSync.MaxHeadersFetch }}

# How long to wait for a peer to answer a header request
request_timeout = "{{ .HeaderSync.RequestTimeout }}"

# Number of consecutive fully redundant batches tolerated from a peer
# before it is dropped
max_redundant_batches = {{ .HeaderSync.MaxRedundantBatches }}

# Size of the inbound message queue
msg_queue_size = {{ .HeaderSync.MsgQueueSize }}

# Maximum number of queued headers persisted at once
import_batch_size = {{ .HeaderSync.ImportBatchSize }}

#######################################################################
###       Instrumentation Configuration Options                     ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# If you want to accept a larger number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max_open_connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"

# When true, sync sessions are traced and the spans are printed to stdout
trace_stdout = {{ .Instrumentation.TraceStdout }}

# If set, metrics are also pushed to the Prometheus push gateway at this URL
push_gateway_url = "{{ .Instrumentation.PushGatewayURL }}"

# How often metrics are pushed to the push gateway
push_interval = "{{ .Instrumentation.PushInterval }}"
`
