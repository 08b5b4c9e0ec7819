package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/oracle"
)

type Engine struct {
	ChainID    int64
	Address    common.Address
	Comparison oracle.Comparison

	// FeeNumerator seeds the open-fill fee when genesis leaves fee_numerator unset.
	FeeNumerator uint64
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	LogLevel    string
	GenesisFile string

	// JournalFile receives every committed event as a JSON line. Empty disables the journal.
	JournalFile     string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type Relay struct {
	URL           string // empty disables the NATS sink
	Stream        string
	SubjectPrefix string
}

type Gossip struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
	Topic      string
}

type Config struct {
	Engine Engine
	Node   Node
	Relay  Relay
	Gossip Gossip
}

func Default() Config {
	return Config{
		Engine: Engine{
			ChainID:      31337,
			Address:      common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
			Comparison:   oracle.Above,
			FeeNumerator: governance.DefaultFeeNumerator,
		},
		Node: Node{
			DataDir:         "data/stoplimit",
			APIAddr:         ":8080",
			LogFile:         "data/node.log",
			LogLevel:        "info",
			GenesisFile:     "genesis.yaml",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 5 * time.Second,
		},
		Relay: Relay{
			Stream:        "STOPLIMIT_EVENTS",
			SubjectPrefix: "stoplimit.events",
		},
		Gossip: Gossip{
			ListenAddr: "/ip4/0.0.0.0/tcp/0",
			Topic:      "stoplimit-events",
		},
	}
}

// ChainSource returns the chain id as the engine's domain reads it.
func (e Engine) ChainSource() func() *big.Int {
	id := e.ChainID
	return func() *big.Int { return big.NewInt(id) }
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return cfg, fmt.Errorf("CHAIN_ID: invalid value %q", v)
		}
		cfg.Engine.ChainID = id
	}
	if v := os.Getenv("ENGINE_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("ENGINE_ADDRESS: invalid address %q", v)
		}
		cfg.Engine.Address = common.HexToAddress(v)
	}
	if v := os.Getenv("STOP_COMPARISON"); v != "" {
		c, err := oracle.ParseComparison(v)
		if err != nil {
			return cfg, fmt.Errorf("STOP_COMPARISON: %w", err)
		}
		cfg.Engine.Comparison = c
	}
	if v := os.Getenv("OPEN_FEE_NUMERATOR"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n > governance.FeeDivisor {
			return cfg, fmt.Errorf("OPEN_FEE_NUMERATOR: invalid value %q", v)
		}
		cfg.Engine.FeeNumerator = n
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Node.LogFile = v
	}
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	cfg.Node.JournalFile = getEnv("JOURNAL_FILE", cfg.Node.JournalFile)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SHUTDOWN_TIMEOUT_MS: invalid value %q", v)
		}
		cfg.Node.ShutdownTimeout = time.Duration(ms) * time.Millisecond
	}

	cfg.Relay.URL = getEnv("NATS_URL", cfg.Relay.URL)
	cfg.Relay.Stream = getEnv("NATS_STREAM", cfg.Relay.Stream)
	cfg.Relay.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.Relay.SubjectPrefix)

	cfg.Gossip.Enabled = os.Getenv("P2P_ENABLED") == "true"
	cfg.Gossip.ListenAddr = getEnv("P2P_LISTEN", cfg.Gossip.ListenAddr)
	cfg.Gossip.Topic = getEnv("P2P_TOPIC", cfg.Gossip.Topic)
	// Example: "/ip4/10.0.0.2/tcp/4001/p2p/12D3...,/ip4/10.0.0.3/tcp/4001/p2p/12D3..."
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.Gossip.Bootstrap = splitList(v)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
