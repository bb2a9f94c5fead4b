package mtproto

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
)

// StoreKind selects which internal/sessionstore backend a Client uses
// (§4.7, §12).
type StoreKind string

const (
	// StoreBbolt is the default go.etcd.io/bbolt-backed store.
	StoreBbolt StoreKind = "bbolt"
	// StoreFile is the teacher-idiom atomic-rename encrypted file store.
	StoreFile StoreKind = "file"
)

// Config configures one Client. Zero-valued durations fall back to
// the §4.6/§4.8 defaults applied by internal/netdriver and
// internal/updates.
type Config struct {
	// DCID, Addr, and Port name the DC to connect to. When Addr is
	// empty, DCID is resolved against the built-in table (Test
	// selects internal/dc.Test instead of internal/dc.Production,
	// PreferIPv6 selects that table's IPv6 endpoint when published).
	DCID       int
	Addr       string
	Port       int
	Test       bool
	PreferIPv6 bool

	Mode      codec.Mode
	Obfuscate bool
	ProxyAddr string

	// RSAKeys are Telegram's baked-in long-term DC public keys (§4.2,
	// §6). TOML has no natural encoding for arbitrary-precision
	// integers, so this field is always set programmatically, never
	// loaded through LoadConfig.
	RSAKeys []*mtcrypto.RSAPublicKey

	// SessionPath names the on-disk session store (a bbolt database
	// or, when StoreKind is StoreFile, an encrypted flat file).
	SessionPath       string
	StoreKind         StoreKind
	SessionLockWait   time.Duration
	SessionPassphrase []byte `toml:"-"`

	DialTimeout         time.Duration
	PingInterval        time.Duration
	PingDisconnectDelay time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration

	PersistInterval     time.Duration
	PersistEveryUpdates int

	// Metrics, if non-nil, wires prometheus/client_golang counters and
	// gauges into the driver and sender (§11).
	Metrics *Metrics `toml:"-"`
}

// Validate checks the invariants Connect relies on, matching the
// reference stack's Config.Validate idiom (§10).
func (c *Config) Validate() error {
	if len(c.RSAKeys) == 0 {
		return fmt.Errorf("mtproto: Config.RSAKeys must carry at least one baked-in DC public key")
	}
	if c.SessionPath == "" {
		return fmt.Errorf("mtproto: Config.SessionPath is required")
	}
	if c.StoreKind == StoreFile && len(c.SessionPassphrase) == 0 {
		return fmt.Errorf("mtproto: Config.SessionPassphrase is required when StoreKind is StoreFile")
	}
	if c.DCID == 0 && c.Addr == "" {
		return fmt.Errorf("mtproto: Config must name either a DCID (resolved via the built-in table) or an explicit Addr")
	}
	return nil
}

// LoadConfig reads a TOML configuration file, the same format the
// reference stack's daemon/client tools use for theirs (§10). RSAKeys
// and Metrics are never populated this way; set them on the returned
// Config before calling New.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("mtproto: loading config %q: %w", path, err)
	}
	return &cfg, nil
}
