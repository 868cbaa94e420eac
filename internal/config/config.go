// Package config loads the indexer configuration from the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/codec"
	internalcommon "github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

// ErrNoStreamConfigured is returned when neither HUB_RPC_URLS nor CONTROLLER_RPC_URLS selects a stream.
var ErrNoStreamConfigured = errors.New("no stream configured: set HUB_RPC_URLS and/or CONTROLLER_RPC_URLS")

// ErrUnprefixedSetting is returned when a per-stream or TRC20 setting is set
// without its HUB_, CONTROLLER_ or TRC20_ prefix.
var ErrUnprefixedSetting = errors.New("setting must carry a HUB_, CONTROLLER_ or TRC20_ prefix")

const (
	DefaultTronUsdt = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

	defaultHubReorgScanDepth        = 128
	defaultControllerReorgScanDepth = 256
)

// List is a comma and/or whitespace separated environment value.
type List []string

// Decode implements envconfig.Decoder.
func (l *List) Decode(value string) error {
	*l = strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	return nil
}

// ComponentLevels is a comma separated list of component=level pairs.
type ComponentLevels map[string]string

// Decode implements envconfig.Decoder.
func (c *ComponentLevels) Decode(value string) error {
	out := make(ComponentLevels)
	var pairs List
	_ = pairs.Decode(value)
	for _, pair := range pairs {
		component, level, ok := strings.Cut(pair, "=")
		if !ok || component == "" || level == "" {
			return fmt.Errorf("invalid component level %q, want component=level", pair)
		}
		out[internalcommon.ToLowerWithTrim(component)] = internalcommon.ToLowerWithTrim(level)
	}
	*c = out
	return nil
}

// Config is the complete indexer configuration.
type Config struct {
	DatabaseURL             string `envconfig:"DATABASE_URL"`
	DBMaxConnections        int    `envconfig:"DB_MAX_CONNECTIONS"`
	BlockHeaderConcurrency  int    `envconfig:"BLOCK_HEADER_CONCURRENCY"`
	BlockTimestampCacheSize int    `envconfig:"BLOCK_TIMESTAMP_CACHE_SIZE"`
	ProgressIntervalSecs    uint64 `envconfig:"INDEXER_PROGRESS_INTERVAL_SECS"`
	Stream                  string `envconfig:"INDEXER_STREAM"`

	RPCMaxRateLimitRetries   int `envconfig:"RPC_MAX_RATE_LIMIT_RETRIES"`
	RPCInitialBackoffMs      int `envconfig:"RPC_INITIAL_BACKOFF_MS"`
	RPCComputeUnitsPerSecond int `envconfig:"RPC_COMPUTE_UNITS_PER_SECOND"`
	RPCPerTryTimeoutMs       int `envconfig:"RPC_PER_TRY_TIMEOUT_MS"`

	Hub        StreamConfig `envconfig:"HUB"`
	Controller StreamConfig `envconfig:"CONTROLLER"`

	Receiver                ReceiverConfig `envconfig:"TRC20"`
	PreknownReceiverSalts   List           `envconfig:"PREKNOWN_RECEIVER_SALTS"`
	ControllerCreate2Prefix string         `envconfig:"UNTRON_CONTROLLER_CREATE2_PREFIX"`

	LoggingConfig
	MetricsConfig

	selection types.StreamSelection
}

// StreamConfig is the HUB_* or CONTROLLER_* group. envconfig falls back to the
// unprefixed name when a prefixed variable is unset.
type StreamConfig struct {
	RPCURLs          List   `envconfig:"RPC_URLS"`
	ChainID          uint64 `envconfig:"CHAIN_ID"`
	ContractAddress  string `envconfig:"CONTRACT_ADDRESS"`
	DeploymentBlock  uint64 `envconfig:"DEPLOYMENT_BLOCK"`
	Confirmations    uint64 `envconfig:"CONFIRMATIONS"`
	PollIntervalSecs uint64 `envconfig:"POLL_INTERVAL_SECS"`
	ChunkBlocks      uint64 `envconfig:"CHUNK_BLOCKS"`
	ReorgScanDepth   int    `envconfig:"REORG_SCAN_DEPTH"`
	IndexName        string `envconfig:"INDEX_NAME"`

	// Contract is ContractAddress after validation.
	Contract common.Address `ignored:"true"`
}

// Enabled reports whether the stream has RPC endpoints.
func (s *StreamConfig) Enabled() bool {
	return len(s.RPCURLs) > 0
}

// PollInterval returns the poll interval as a duration.
func (s *StreamConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

func (s *StreamConfig) applyDefaults(stream types.Stream) {
	if s.PollIntervalSecs == 0 {
		s.PollIntervalSecs = 1
	}
	if s.ChunkBlocks == 0 {
		s.ChunkBlocks = 2000
	}
	if s.ReorgScanDepth == 0 {
		s.ReorgScanDepth = defaultHubReorgScanDepth
		if stream == types.StreamController {
			s.ReorgScanDepth = defaultControllerReorgScanDepth
		}
	}
}

func (s *StreamConfig) validate(prefix string, stream types.Stream) error {
	if s.ChainID == 0 {
		return fmt.Errorf("%s_CHAIN_ID is required when %s_RPC_URLS is set", prefix, prefix)
	}
	if s.ContractAddress == "" {
		return fmt.Errorf("%s_CONTRACT_ADDRESS is required when %s_RPC_URLS is set", prefix, prefix)
	}

	if stream.UsesTronAddresses() {
		addr, err := codec.ParseTronAddress(s.ContractAddress)
		if err != nil {
			return fmt.Errorf("%s_CONTRACT_ADDRESS: %w", prefix, err)
		}
		s.Contract = addr.EVM()
	} else {
		addr, err := codec.ParseEVMAddress(s.ContractAddress)
		if err != nil {
			return fmt.Errorf("%s_CONTRACT_ADDRESS: %w", prefix, err)
		}
		s.Contract = addr
	}

	if s.ReorgScanDepth < 1 {
		return fmt.Errorf("%s_REORG_SCAN_DEPTH must be positive", prefix)
	}
	return nil
}

// ReceiverConfig is the TRC20_* group.
type ReceiverConfig struct {
	Enabled               bool   `envconfig:"ENABLED" default:"true"`
	TokenAddresses        List   `envconfig:"TOKEN_ADDRESSES"`
	PollIntervalSecs      uint64 `envconfig:"POLL_INTERVAL_SECS"`
	ChunkBlocks           uint64 `envconfig:"CHUNK_BLOCKS"`
	ToBatchSize           int    `envconfig:"TO_BATCH_SIZE"`
	BackfillConcurrency   int    `envconfig:"BACKFILL_CONCURRENCY"`
	DiscoveryIntervalSecs uint64 `envconfig:"DISCOVERY_INTERVAL_SECS"`

	// resolved by Validate
	Tokens        []common.Address `ignored:"true"`
	PreknownSalts []common.Hash    `ignored:"true"`
	Create2Prefix byte             `ignored:"true"`
}

func (r *ReceiverConfig) applyDefaults() {
	if len(r.TokenAddresses) == 0 {
		r.TokenAddresses = List{DefaultTronUsdt}
	}
	if r.PollIntervalSecs == 0 {
		r.PollIntervalSecs = 2
	}
	if r.ChunkBlocks == 0 {
		r.ChunkBlocks = 2000
	}
	if r.ToBatchSize == 0 {
		r.ToBatchSize = 50
	}
	if r.BackfillConcurrency == 0 {
		r.BackfillConcurrency = 2
	}
	if r.DiscoveryIntervalSecs == 0 {
		r.DiscoveryIntervalSecs = 30
	}
}

// PollInterval returns the receiver poll interval as a duration.
func (r *ReceiverConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSecs) * time.Second
}

// DiscoveryInterval returns the receiver discovery interval as a duration.
func (r *ReceiverConfig) DiscoveryInterval() time.Duration {
	return time.Duration(r.DiscoveryIntervalSecs) * time.Second
}

func (r *ReceiverConfig) validate(salts List, create2Prefix string) error {
	r.Tokens = r.Tokens[:0]
	for _, t := range r.TokenAddresses {
		addr, err := codec.ParseTronAddress(t)
		if err != nil {
			return fmt.Errorf("TRC20_TOKEN_ADDRESSES: %w", err)
		}
		r.Tokens = append(r.Tokens, addr.EVM())
	}

	r.PreknownSalts = r.PreknownSalts[:0]
	for _, s := range salts {
		salt, err := codec.ParseHash32(s)
		if err != nil {
			return fmt.Errorf("PREKNOWN_RECEIVER_SALTS: %w", err)
		}
		r.PreknownSalts = append(r.PreknownSalts, salt)
	}

	prefix, err := codec.ParseBytesHex(create2Prefix)
	if err != nil || len(prefix) != 1 {
		return fmt.Errorf("UNTRON_CONTROLLER_CREATE2_PREFIX must be a single byte, got %q", create2Prefix)
	}
	r.Create2Prefix = prefix[0]

	if r.ToBatchSize < 1 {
		return errors.New("TRC20_TO_BATCH_SIZE must be positive")
	}
	if r.BackfillConcurrency < 1 {
		return errors.New("TRC20_BACKFILL_CONCURRENCY must be positive")
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	LogLevel           string          `envconfig:"LOG_LEVEL"`
	LogDevelopment     bool            `envconfig:"LOG_DEVELOPMENT"`
	LogComponentLevels ComponentLevels `envconfig:"LOG_COMPONENT_LEVELS"`
}

var _ logger.LoggingConfig = (*LoggingConfig)(nil)

func (l *LoggingConfig) applyDefaults() {
	if l.LogLevel == "" {
		l.LogLevel = "info"
	}
	if l.LogComponentLevels == nil {
		l.LogComponentLevels = make(ComponentLevels)
	}
}

func (l *LoggingConfig) validate() error {
	if _, valid := logger.ValidLogLevels[l.GetDefaultLevel()]; !valid {
		return fmt.Errorf("LOG_LEVEL: must be one of: debug, info, warn, error")
	}

	for component, level := range l.LogComponentLevels {
		if _, ok := internalcommon.AllComponents[component]; !ok {
			return fmt.Errorf("LOG_COMPONENT_LEVELS: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[level]; !valid {
			return fmt.Errorf("LOG_COMPONENT_LEVELS[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to LOG_LEVEL if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.LogComponentLevels[component]; ok {
		return level
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return internalcommon.ToLowerWithTrim(l.LogLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.LogDevelopment
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	MetricsEnabled       bool   `envconfig:"METRICS_ENABLED"`
	MetricsListenAddress string `envconfig:"METRICS_LISTEN_ADDRESS"`
	MetricsPath          string `envconfig:"METRICS_PATH"`
}

func (m *MetricsConfig) applyDefaults() {
	if m.MetricsListenAddress == "" {
		m.MetricsListenAddress = ":9090"
	}
	if m.MetricsPath == "" {
		m.MetricsPath = "/metrics"
	}
}

func (m *MetricsConfig) validate() error {
	if m.MetricsEnabled && !strings.HasPrefix(m.MetricsPath, "/") {
		return fmt.Errorf("METRICS_PATH must start with '/'")
	}
	return nil
}

// Load reads the configuration from the environment, applies defaults and validates it.
func Load() (*Config, error) {
	// envconfig falls back to the bare key of a nested field when the prefixed
	// one is unset, so a bare RPC_URLS would configure both streams.
	if err := checkUnprefixed(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func checkUnprefixed() error {
	seen := make(map[string]struct{})
	for _, t := range []reflect.Type{reflect.TypeOf(StreamConfig{}), reflect.TypeOf(ReceiverConfig{})} {
		for i := 0; i < t.NumField(); i++ {
			key := t.Field(i).Tag.Get("envconfig")
			if key == "" {
				continue
			}
			if _, ok := os.LookupEnv(key); ok {
				seen[key] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("%w: %s", ErrUnprefixedSetting, strings.Join(keys, ", "))
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	if c.DBMaxConnections == 0 {
		c.DBMaxConnections = 5
	}
	if c.BlockHeaderConcurrency == 0 {
		c.BlockHeaderConcurrency = 16
	}
	if c.BlockTimestampCacheSize == 0 {
		c.BlockTimestampCacheSize = 2048
	}
	if c.ProgressIntervalSecs == 0 {
		c.ProgressIntervalSecs = 5
	}

	if c.RPCMaxRateLimitRetries == 0 {
		c.RPCMaxRateLimitRetries = 8
	}
	if c.RPCInitialBackoffMs == 0 {
		c.RPCInitialBackoffMs = 250
	}
	if c.RPCComputeUnitsPerSecond == 0 {
		c.RPCComputeUnitsPerSecond = 500
	}
	if c.RPCPerTryTimeoutMs == 0 {
		c.RPCPerTryTimeoutMs = 2500
	}

	c.Hub.applyDefaults(types.StreamHub)
	c.Controller.applyDefaults(types.StreamController)
	c.Receiver.applyDefaults()
	if c.ControllerCreate2Prefix == "" {
		c.ControllerCreate2Prefix = "0x41"
	}
	c.LoggingConfig.applyDefaults()
	c.MetricsConfig.applyDefaults()
}

// Validate checks the configuration and resolves parsed addresses.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	sel, err := types.ParseStreamSelection(c.Stream)
	if err != nil {
		return fmt.Errorf("INDEXER_STREAM: %w", err)
	}
	c.selection = sel

	if c.Hub.Enabled() {
		if err := c.Hub.validate("HUB", types.StreamHub); err != nil {
			return err
		}
	}
	if c.Controller.Enabled() {
		if err := c.Controller.validate("CONTROLLER", types.StreamController); err != nil {
			return err
		}
	}
	if len(c.EnabledStreams()) == 0 {
		return ErrNoStreamConfigured
	}

	if c.ReceiverEnabled() {
		if err := c.Receiver.validate(c.PreknownReceiverSalts, c.ControllerCreate2Prefix); err != nil {
			return err
		}
	}

	if err := c.LoggingConfig.validate(); err != nil {
		return err
	}
	return c.MetricsConfig.validate()
}

// EnabledStreams lists the streams that have endpoints and are selected by INDEXER_STREAM.
func (c *Config) EnabledStreams() []types.Stream {
	sel := c.selection
	if sel == "" {
		sel = types.SelectAll
	}

	var out []types.Stream
	for _, s := range types.AllStreams {
		if sel.Includes(s) && c.StreamConfig(s).Enabled() {
			out = append(out, s)
		}
	}
	return out
}

// StreamConfig returns the settings group of a stream.
func (c *Config) StreamConfig(stream types.Stream) *StreamConfig {
	if stream == types.StreamController {
		return &c.Controller
	}
	return &c.Hub
}

// ReceiverEnabled reports whether the receiver indexer runs: it needs the controller stream.
func (c *Config) ReceiverEnabled() bool {
	if !c.Receiver.Enabled {
		return false
	}
	for _, s := range c.EnabledStreams() {
		if s == types.StreamController {
			return true
		}
	}
	return false
}

// ProgressInterval returns the progress log interval as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalSecs) * time.Second
}

// PerTryTimeout returns the RPC per-try timeout as a duration.
func (c *Config) PerTryTimeout() time.Duration {
	return time.Duration(c.RPCPerTryTimeoutMs) * time.Millisecond
}

// InitialBackoff returns the RPC rate-limit initial backoff as a duration.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.RPCInitialBackoffMs) * time.Millisecond
}
