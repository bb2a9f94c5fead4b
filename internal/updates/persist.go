package updates

import (
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/sessionstore"
	"github.com/LonamiWebs/gomtproto/internal/worker"
)

// DefaultPersistInterval and DefaultPersistEveryUpdates are §4.8's
// "every N updates or every 5s" persistence cadence.
const (
	DefaultPersistInterval     = 5 * time.Second
	DefaultPersistEveryUpdates = 50
)

// Persister periodically snapshots a Session into a sessionstore.Store
// so a crash between two persists loses at most the last few seconds
// of update-state bookkeeping (the "at-least-once across restarts"
// requirement of §4.8 — a replayed update is caught by the
// Duplicate verdict in HandleSeq/HandleAccountPTS/HandleChannelPTS).
type Persister struct {
	worker.Worker

	sess  *session.Session
	store sessionstore.Store
	log   *charmlog.Logger

	interval     time.Duration
	everyUpdates int

	appliedSinceSave chan struct{}
}

// NewPersister returns a Persister for sess, saving to store. Zero
// interval/everyUpdates fall back to the §4.8 defaults.
func NewPersister(sess *session.Session, store sessionstore.Store, interval time.Duration, everyUpdates int) *Persister {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	if everyUpdates <= 0 {
		everyUpdates = DefaultPersistEveryUpdates
	}
	return &Persister{
		sess:             sess,
		store:            store,
		log:              charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Prefix: "updates"}),
		interval:         interval,
		everyUpdates:     everyUpdates,
		appliedSinceSave: make(chan struct{}, 1),
	}
}

// Start launches the background save-on-timer-or-count loop.
func (p *Persister) Start() { p.Go(p.run) }

// Stop halts the loop and waits for it to exit, saving one last time.
func (p *Persister) Stop() {
	p.Halt()
	p.Wait()
	if err := p.save(); err != nil {
		p.log.Error("final save failed", "err", err)
	}
}

// NotifyApplied signals that an update was just applied; the save loop
// counts these and saves as soon as the count reaches everyUpdates,
// without waiting for the next tick. A notification sent while the
// previous one is still unread is dropped, so a burst may count as fewer.
func (p *Persister) NotifyApplied() {
	select {
	case p.appliedSinceSave <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-p.HaltCh():
			return
		case <-p.appliedSinceSave:
			count++
			if count >= p.everyUpdates {
				count = 0
				if err := p.save(); err != nil {
					p.log.Error("periodic save failed", "err", err)
				}
			}
		case <-ticker.C:
			count = 0
			if err := p.save(); err != nil {
				p.log.Error("periodic save failed", "err", err)
			}
		}
	}
}

func (p *Persister) save() error {
	return p.store.Save(sessionstore.ToRecord(p.sess))
}
