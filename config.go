package punkd

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"

	"github.com/arkpunks/punkd/escrow"
	"github.com/arkpunks/punkd/punkdb"
	"github.com/arkpunks/punkd/punktx"
)

const (
	defaultDataDirname  = ".punkd"
	defaultConfigName   = "punkd.conf"
	defaultDatabaseName = "punks.db"
	defaultLogDirname   = "logs"
	defaultLogFilename  = "punkd.log"

	defaultListenAddr = "0.0.0.0:3000"

	// DefaultMaxTotalPunks is the hard supply cap enforced by the
	// registry.
	DefaultMaxTotalPunks = 2016

	// DefaultReserveSats is the exact escrow deposit every listing must
	// fund before it becomes buyable.
	DefaultReserveSats = 10_000

	// DefaultFeePercent is the marketplace fee, in percent of the listing
	// price, deducted from the seller's payout.
	DefaultFeePercent = 0

	defaultLogLevel       = "info"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

var (
	// DefaultPunkdDir is the default directory where punkd stores its
	// database and logs.
	DefaultPunkdDir = btcutil.AppDataDir("punkd", false)

	// DefaultConfigFile is the default full path of punkd's config file.
	DefaultConfigFile = filepath.Join(DefaultPunkdDir, defaultConfigName)
)

// Config holds the main configuration of the punkd server. All durations,
// amounts and keys are fully parsed and validated by LoadConfig before the
// server sees them.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	PunkdDir   string `long:"punkddir" description:"The base directory that contains punkd's data and logs"`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	DatabaseFileName string `long:"db.file" description:"Path of the sqlite database file"`

	ListenAddr string `long:"listen" description:"host:port the HTTP API listens on"`

	Network string `long:"network" description:"The Ark network to run on" choice:"mainnet" choice:"mutinynet" choice:"regtest"`

	ArkServerURL string `long:"arkserverurl" description:"Base URL of the Ark wallet daemon REST API"`
	EsploraURL   string `long:"esploraurl" description:"Base URL of the esplora instance used for chain lookups"`

	EscrowWalletAddress    string `long:"escrowwalletaddress" description:"The Ark address of the marketplace escrow wallet"`
	EscrowWalletPrivateKey string `long:"escrowwalletprivatekey" description:"32-byte hex private key of the escrow wallet"`

	ServerPrivateKey string `long:"serverprivatekey" description:"32-byte hex private key used for punk attestations and script trees"`

	AdminPassword string `long:"adminpassword" description:"Password protecting the admin endpoints, empty disables them"`

	MaxTotalPunks int64  `long:"maxtotalpunks" description:"Hard cap on the number of punks that can ever be registered"`
	ReserveSats   int64  `long:"reservesats" description:"Exact escrow deposit in satoshis required per listing"`
	FeePercent    uint64 `long:"feepercent" description:"Marketplace fee in percent of the listing price, deducted from the seller payout"`

	SendTimeout time.Duration `long:"sendtimeout" description:"Timeout for a single Ark wallet send"`

	// ServerKey is the parsed attestation key.
	ServerKey *btcec.PrivateKey

	// EscrowKey is the parsed escrow wallet key.
	EscrowKey *btcec.PrivateKey
}

// DefaultConfig returns the config populated with all defaults. The caller
// still has to supply the network, wallet and key settings.
func DefaultConfig() Config {
	return Config{
		DebugLevel:       defaultLogLevel,
		PunkdDir:         DefaultPunkdDir,
		ConfigFile:       DefaultConfigFile,
		LogDir:           filepath.Join(DefaultPunkdDir, defaultLogDirname),
		DatabaseFileName: filepath.Join(DefaultPunkdDir, defaultDatabaseName),
		ListenAddr:       defaultListenAddr,
		Network:          "mutinynet",
		MaxTotalPunks:    DefaultMaxTotalPunks,
		ReserveSats:      DefaultReserveSats,
		FeePercent:       DefaultFeePercent,
		SendTimeout:      escrow.DefaultSendTimeout,
	}
}

// LoadConfig parses the command line flags and, if present, the config file,
// then validates the result. It returns the fully populated config or an
// error that is suitable to be shown to the user directly.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	// Pre-parse the command line to pick up an alternative config file.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != DefaultConfigFile ||
		fileExists(cfg.ConfigFile) {

		parser := flags.NewParser(&cfg, flags.Default)
		err := flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config "+
				"file: %w", err)
		}

		// Flags on the command line take precedence over the file.
		if _, err := flags.Parse(&cfg); err != nil {
			return nil, err
		}
	}

	return ValidateConfig(cfg)
}

// ValidateConfig normalizes paths, parses keys and checks all settings for
// consistency.
func ValidateConfig(cfg Config) (*Config, error) {
	cfg.PunkdDir = CleanAndExpandPath(cfg.PunkdDir)

	if err := os.MkdirAll(cfg.PunkdDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create punkd dir: %w", err)
	}

	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.DatabaseFileName = CleanAndExpandPath(cfg.DatabaseFileName)

	if cfg.ArkServerURL == "" {
		return nil, fmt.Errorf("arkserverurl is required")
	}
	if _, err := url.ParseRequestURI(cfg.ArkServerURL); err != nil {
		return nil, fmt.Errorf("invalid arkserverurl: %w", err)
	}
	if cfg.EsploraURL != "" {
		if _, err := url.ParseRequestURI(cfg.EsploraURL); err != nil {
			return nil, fmt.Errorf("invalid esploraurl: %w", err)
		}
	}

	if cfg.EscrowWalletAddress == "" {
		return nil, fmt.Errorf("escrowwalletaddress is required")
	}

	var err error
	cfg.ServerKey, err = parsePrivKey(cfg.ServerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid serverprivatekey: %w", err)
	}

	if cfg.EscrowWalletPrivateKey != "" {
		cfg.EscrowKey, err = parsePrivKey(cfg.EscrowWalletPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid "+
				"escrowwalletprivatekey: %w", err)
		}
	}

	if cfg.MaxTotalPunks <= 0 {
		return nil, fmt.Errorf("maxtotalpunks must be positive")
	}
	if cfg.ReserveSats <= 0 {
		return nil, fmt.Errorf("reservesats must be positive")
	}
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("feepercent must be at most 100")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = escrow.DefaultSendTimeout
	}

	return &cfg, nil
}

// HRP returns the bech32m human readable part for the configured network.
func (c *Config) HRP() string {
	if c.Network == "mainnet" {
		return "ark"
	}
	return "tark"
}

// parsePrivKey decodes a 32-byte hex encoded secp256k1 private key.
func parsePrivKey(keyHex string) (*btcec.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d",
			len(keyBytes))
	}

	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	return priv, nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// CreateServerFromConfig opens the database, constructs the registry,
// marketplace store, escrow engine and wallet client, and wires them into a
// ready-to-start server.
func CreateServerFromConfig(cfg *Config, logWriter *build.RotatingLogWriter,
	interceptor signal.Interceptor) (*Server, error) {

	SetupLoggers(logWriter, interceptor)

	err := logWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		defaultMaxLogFileSize, defaultMaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize log "+
			"rotator: %w", err)
	}

	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, logWriter)
	if err != nil {
		return nil, err
	}

	punkLog.Infof("Opening sqlite database at %v", cfg.DatabaseFileName)
	db, err := punkdb.NewSqliteStore(&punkdb.SqliteConfig{
		CreateTables:     true,
		DatabaseFileName: cfg.DatabaseFileName,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	registry := punkdb.NewRegistry(
		punkdb.NewBatchedRegistryStore(db), punkdb.RegistryConfig{
			ServerKey: cfg.ServerKey,
			MaxPunks:  cfg.MaxTotalPunks,
			HRP:       cfg.HRP(),
		},
	)
	market := punkdb.NewMarketplaceStore(punkdb.NewBatchedMarketStore(db))

	wallet, err := punktx.NewRestClient(cfg.ArkServerURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create ark client: %w", err)
	}

	engine := escrow.NewEngine(escrow.EngineConfig{
		Wallet:        wallet,
		Store:         market,
		Registry:      registry,
		EscrowAddress: cfg.EscrowWalletAddress,
		EscrowPubkey:  escrowPubkey(cfg),
		Reserve:       btcutil.Amount(cfg.ReserveSats),
		FeePercent:    cfg.FeePercent,
		SendTimeout:   cfg.SendTimeout,
	})

	rpcServer := newRPCServer(&rpcServerConfig{
		ListenAddr:    cfg.ListenAddr,
		Network:       cfg.Network,
		AdminPassword: cfg.AdminPassword,
		Registry:      registry,
		Market:        market,
		Engine:        engine,
		Wallet:        wallet,
		ServerPubkey:  cfg.ServerKey.PubKey(),
		HRP:           cfg.HRP(),
	})

	return NewServer(&ServerConfig{
		DB:        db,
		RPCServer: rpcServer,
	}), nil
}

// escrowPubkey returns the public key of the escrow wallet when its private
// key is configured, nil otherwise.
func escrowPubkey(cfg *Config) *btcec.PublicKey {
	if cfg.EscrowKey == nil {
		return nil
	}
	return cfg.EscrowKey.PubKey()
}
