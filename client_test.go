package mtproto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/dc"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/netdriver"
	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/sessionstore"
)

func testRSAKey() *mtcrypto.RSAPublicKey {
	n, _ := new(big.Int).SetString("c150023e2f70db7985ded064759cfecf0af328e69a41daf4d6f01b538135a6f", 16)
	return &mtcrypto.RSAPublicKey{N: n, E: big.NewInt(65537), Fingerprint: 0xc3b42b026ce86b21}
}

func baseConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DCID:        2,
		RSAKeys:     []*mtcrypto.RSAPublicKey{testRSAKey()},
		SessionPath: filepath.Join(t.TempDir(), "session.bbolt"),
	}
}

func TestConfigValidateRequiresRSAKeys(t *testing.T) {
	cfg := baseConfig(t)
	cfg.RSAKeys = nil
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRequiresSessionPath(t *testing.T) {
	cfg := baseConfig(t)
	cfg.SessionPath = ""
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRequiresPassphraseForFileStore(t *testing.T) {
	cfg := baseConfig(t)
	cfg.StoreKind = StoreFile
	require.Error(t, cfg.Validate())

	cfg.SessionPassphrase = []byte("correct horse battery staple")
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateRequiresDCIDOrAddr(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DCID = 0
	require.Error(t, cfg.Validate())

	cfg.Addr = "1.2.3.4"
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigReadsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "dcid = 2\naddr = \"149.154.167.51\"\nport = 443\ntest = false\nsessionpath = \"/tmp/session.bbolt\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.DCID)
	require.Equal(t, "149.154.167.51", cfg.Addr)
	require.Equal(t, 443, cfg.Port)
	require.Equal(t, "/tmp/session.bbolt", cfg.SessionPath)
}

func TestNewOpensBboltStoreAndValidatesConfig(t *testing.T) {
	cfg := baseConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.store)
	require.NotNil(t, c.log)
	require.Equal(t, 256, cap(c.updatesCh))

	_, err = New(Config{})
	require.Error(t, err)
}

func TestDCTableSelectsProductionOrTest(t *testing.T) {
	c, err := New(baseConfig(t))
	require.NoError(t, err)
	require.Equal(t, dc.Production, c.dcTable())

	c.cfg.Test = true
	require.Equal(t, dc.Test, c.dcTable())
}

func TestErrorAliasesMatchCoreerrVariants(t *testing.T) {
	var rpcErr error = &RpcError{Code: 400, Name: "SOME_ERROR"}
	var target *coreerr.RpcError
	require.True(t, coreerr.As(rpcErr, &target))
	require.Equal(t, int32(400), target.Code)

	require.Same(t, coreerr.ErrDisconnected, ErrDisconnected)
	require.Same(t, coreerr.ErrCancelled, ErrCancelled)
}

// TestSessionDataImportRoundTrip exercises SessionData/ImportSession
// against a Client whose driver was constructed directly (no dial),
// the same way Connect would build one, to avoid a real network
// handshake while still exercising the CBOR export/import path.
func TestSessionDataImportRoundTrip(t *testing.T) {
	cfg := baseConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)

	c.driver = netdriver.New(netdriver.Config{
		DCID:     cfg.DCID,
		Addr:     "149.154.167.51",
		Port:     443,
		KeyStore: authkey.NewStaticKeyStore(cfg.RSAKeys...),
	})

	sess := c.driver.SessionData()
	raw, err := mtcrypto.SecureRandom(256)
	require.NoError(t, err)
	key, err := session.NewAuthKey(raw)
	require.NoError(t, err)
	sess.Lock()
	sess.Key = key
	sess.ServerSalt = 0x0102030405060708
	sess.SessionID = 0x1122334455667788
	sess.Updates.PTS = 42
	sess.Unlock()

	data, err := c.SessionData()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	c2, err := New(baseConfig(t))
	require.NoError(t, err)
	require.NoError(t, c2.ImportSession(data))

	rec, ok, err := c2.store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(42), rec.UpdatesPTS)
	require.Equal(t, int64(0x0102030405060708), rec.ServerSalt)
}

func TestStoreFileKind(t *testing.T) {
	cfg := baseConfig(t)
	cfg.StoreKind = StoreFile
	cfg.SessionPath = filepath.Join(t.TempDir(), "session.bin")
	cfg.SessionPassphrase = []byte("correct horse battery staple")

	c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.store)
	_, ok := c.store.(*sessionstore.FileStore)
	require.True(t, ok)
}
