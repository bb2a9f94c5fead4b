package mtproto

import (
	"context"
	"fmt"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/errgroup"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/dc"
	"github.com/LonamiWebs/gomtproto/internal/netdriver"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/sessionstore"
	"github.com/LonamiWebs/gomtproto/internal/updates"
)

// Client is the public core API surface (§6): Connect, Invoke,
// InvokeMany, Updates, Disconnect, Close, SessionData, ImportSession.
type Client struct {
	cfg   Config
	log   *charmlog.Logger
	store sessionstore.Store

	driver    *netdriver.Driver
	recon     *updates.Reconciler
	persister *updates.Persister

	updatesCh chan updates.Update

	group     *errgroup.Group
	groupCtx  context.Context
	runCancel context.CancelFunc

	connectOnce sync.Once
	connectErr  error
	closeOnce   sync.Once
}

// New validates cfg and opens its configured session store. The
// returned Client is not yet connected; call Connect to dial and
// start servicing the connection.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lockWait := cfg.SessionLockWait
	var store sessionstore.Store
	var err error
	switch cfg.StoreKind {
	case StoreFile:
		store, err = sessionstore.OpenFileStore(cfg.SessionPath, cfg.SessionPassphrase)
	default:
		store, err = sessionstore.OpenBboltStore(cfg.SessionPath, lockWait)
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		log:       charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Prefix: "mtproto"}),
		store:     store,
		updatesCh: make(chan updates.Update, 256),
	}, nil
}

// dcTable picks the production or test network table per Config.Test.
func (c *Client) dcTable() dc.Table {
	if c.cfg.Test {
		return dc.Test
	}
	return dc.Production
}

// Connect dials the configured (or previously persisted) DC,
// performs the handshake if no auth key is on file, and starts the
// background reader/writer/ticker tasks, the event pump, and the
// update-state persister. It returns once the Driver has been
// launched; Connect does not block until the handshake completes.
func (c *Client) Connect(ctx context.Context) error {
	c.connectOnce.Do(func() { c.connectErr = c.connect(ctx) })
	return c.connectErr
}

func (c *Client) connect(ctx context.Context) error {
	rec, loaded, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("mtproto: loading session: %w", err)
	}

	dcID, addr, port := c.cfg.DCID, c.cfg.Addr, c.cfg.Port
	if loaded {
		dcID, addr, port = rec.DCID, rec.Addr, rec.Port
	} else if addr == "" {
		addr, port, _ = c.dcTable().Resolve(dcID, c.cfg.PreferIPv6)
	}

	ncfg := netdriver.Config{
		DCID:                dcID,
		Addr:                addr,
		Port:                port,
		Mode:                c.cfg.Mode,
		Obfuscate:           c.cfg.Obfuscate,
		DialTimeout:         c.cfg.DialTimeout,
		PingInterval:        c.cfg.PingInterval,
		PingDisconnectDelay: c.cfg.PingDisconnectDelay,
		ReconnectBaseDelay:  c.cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:   c.cfg.ReconnectMaxDelay,
		ProxyAddr:           c.cfg.ProxyAddr,
		KeyStore:            authkey.NewStaticKeyStore(c.cfg.RSAKeys...),
		Resolver:            c.dcTable().Resolver(c.cfg.PreferIPv6),
		Metrics:             c.cfg.Metrics,
	}
	c.driver = netdriver.New(ncfg)

	if loaded {
		restored, err := rec.Session()
		if err != nil {
			return fmt.Errorf("mtproto: restoring session: %w", err)
		}
		sess := c.driver.SessionData()
		sess.Lock()
		sess.Key = restored.Key
		sess.ServerSalt = restored.ServerSalt
		sess.SessionID = restored.SessionID
		sess.TimeOffset = restored.TimeOffset
		sess.Updates = restored.Updates
		sess.Unlock()
	}

	c.recon = updates.New(c.driver.SessionData(), c.driver.Sender())
	c.recon.SetMetrics(c.cfg.Metrics)
	c.recon.SetDisconnector(c.driver.Disconnect)
	c.persister = updates.NewPersister(c.driver.SessionData(), c.store, c.cfg.PersistInterval, c.cfg.PersistEveryUpdates)

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	c.group = group
	c.groupCtx = groupCtx

	group.Go(func() error { return c.driver.Run(groupCtx) })
	group.Go(c.pumpEvents)
	c.persister.Start()

	return nil
}

// pumpEvents drains the driver's event channel for the lifetime of
// the connection, feeding update/completion events to the reconciler
// and releasing whatever it decides is ready on Updates().
func (c *Client) pumpEvents() error {
	for ev := range c.driver.Events() {
		switch ev.Kind {
		case sender.EventUpdateReceived, sender.EventRPCComplete:
			c.recon.Dispatch(ev)
			for _, u := range c.recon.Ready() {
				select {
				case c.updatesCh <- u:
				case <-c.groupCtx.Done():
				}
			}
			c.persister.NotifyApplied()
			c.cfg.Metrics.PendingRequestsSet(c.driver.Sender().PendingCount())
		case sender.EventMigrate:
			// For FILE migration the driver replays the triggering
			// request against the target DC itself and resolves it as
			// an ordinary EventRPCComplete above; this case is purely
			// informational. Other kinds only report a reachable,
			// authorized target DC, and leave promoting it to the
			// primary connection to the caller.
			c.log.Warn("migration requested", "kind", ev.MigrateKind, "dc", ev.MigrateDC)
		case sender.EventDisconnect:
			c.log.Warn("disconnected", "reason", ev.Reason)
		}
	}
	return nil
}

// Updates returns the channel of reconciled, gap-free updates (§4.8).
// Payloads are still TL-boxed; a caller with generated domain codecs
// decodes them further.
func (c *Client) Updates() <-chan updates.Update { return c.updatesCh }

// Invoke pushes one RPC request and blocks until it completes, ctx is
// cancelled, or the connection is torn down.
func (c *Client) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	h := c.driver.Push(body, sender.PushOptions{AckRequired: true})
	return c.wait(ctx, h)
}

// InvokeMany pushes a batch of requests, ordered (each waits on the
// previous's success, per §4.5's SkippedDueToPriorFailure semantics)
// or independent, and waits for every one to settle.
func (c *Client) InvokeMany(ctx context.Context, bodies [][]byte, ordered bool) ([][]byte, []error) {
	handles := c.driver.PushMany(bodies, ordered)
	results := make([][]byte, len(handles))
	errs := make([]error, len(handles))
	for i, h := range handles {
		results[i], errs[i] = c.wait(ctx, h)
	}
	return results, errs
}

func (c *Client) wait(ctx context.Context, h *sender.Handle) ([]byte, error) {
	pr, ok := c.driver.Sender().Completion(h)
	if !ok {
		return nil, ErrCancelled
	}
	select {
	case res := <-pr.Done():
		return res.Payload, res.Err
	case <-ctx.Done():
		c.driver.Cancel(h)
		return nil, ctx.Err()
	}
}

// Disconnect tears the connection down. It cancels the connection at
// once, so requests still in flight receive no further replies, then
// waits until the driver and its companion goroutines stop or ctx is
// done; in the latter case it forces the driver closed, which fails every
// pending request. Requests still pending when the goroutines stop first
// are not failed by Disconnect. It then stops the persister and closes
// the store.
func (c *Client) Disconnect(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.runCancel == nil {
			return
		}
		c.runCancel()

		done := make(chan error, 1)
		go func() { done <- c.group.Wait() }()

		select {
		case err = <-done:
		case <-ctx.Done():
			c.driver.Close()
			err = <-done
		}

		c.persister.Stop()
		if closeErr := c.store.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}

// Close tears the connection down immediately, failing every pending
// request with ErrDisconnected rather than waiting out a grace period.
func (c *Client) Close() error {
	if c.driver != nil {
		c.driver.Close()
	}
	return c.Disconnect(context.Background())
}

// SessionData returns a CBOR-encoded snapshot of the session (§6, §12)
// suitable for ImportSession on a later run.
func (c *Client) SessionData() ([]byte, error) {
	rec := sessionstore.ToRecord(c.driver.SessionData())
	return cbor.Marshal(rec)
}

// ImportSession loads a snapshot produced by SessionData into this
// Client's session store, so the next Connect restores it instead of
// starting a fresh handshake. Call it before Connect.
func (c *Client) ImportSession(data []byte) error {
	var rec sessionstore.Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("mtproto: decoding imported session: %w", err)
	}
	return c.store.Save(&rec)
}
