// Package sender implements the sans-I/O RPC multiplexer (§4.5): the
// state machine that accepts outbound requests, emits frames to write,
// consumes frames read, matches replies to requests, handles acks,
// bad-salt/bad-msg-id correction, and surfaces updates. It never
// performs I/O itself — internal/netdriver owns the actual
// read/write/timer loop and drives this type through Push/PollOutbound/
// PushInbound/Cancel/Tick.
package sender

import (
	"time"

	"github.com/eapache/queue"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/msgcodec"
	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// State is one of the Sender's lifecycle states (§4.5): "Disconnected
// -> Handshaking -> Authorized -> (running) -> Disconnected".
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateAuthorized
)

// Defaults per §4.5.
const (
	DefaultMaxRetries          = 5
	DefaultAckDeadline         = 90 * time.Second
	DefaultCoalesceDeadline    = 5 * time.Millisecond
	DefaultMaxContainerMsgs    = msgcodec.MaxContainerMessages
	DefaultMaxContainerBytes   = msgcodec.MaxContainerByteBudget
	DefaultFloodSleepThreshold = 60
)

// Handle identifies one Push'd request across however many times it
// gets retried (each retry gets a fresh message-id, but the same
// Handle).
type Handle struct {
	id uint64
}

// PushOptions configures one request (§3 PendingRequest flags).
type PushOptions struct {
	AckRequired    bool
	GzipCandidate  bool
	OrderedGroupID uint64
	orderIndex     int
}

// EventKind discriminates the union PushInbound/Tick return (§4.5:
// "events is a list of (RpcComplete | UpdateReceived | Disconnect)").
type EventKind int

const (
	EventRPCComplete EventKind = iota
	EventUpdateReceived
	EventDisconnect
	EventMigrate
)

// Event is one entry of the list PushInbound/Tick/Disconnect/Close
// return.
type Event struct {
	Kind EventKind

	Handle  *Handle
	Payload []byte
	Err     error

	Reason error // EventDisconnect

	MigrateKind string // EventMigrate
	MigrateDC   int    // EventMigrate
}

type outboundItem struct {
	handle *Handle
	body   []byte
	opts   PushOptions

	retryCount int
	msgID      int64
	delayUntil time.Time
}

// Sender is the RPC multiplexer for one connection's Session.
type Sender struct {
	session *session.Session
	randFn  func(int) ([]byte, error)

	MaxRetries          int
	AckDeadline         time.Duration
	CoalesceDeadline    time.Duration
	MaxContainerMsgs    int
	MaxContainerBytes   int
	FloodSleepThreshold int

	state State
	now   time.Time

	nextHandleID uint64

	queue        *queue.Queue
	delayed      []*outboundItem
	inFlight     map[int64]*outboundItem
	completions  map[uint64]*session.PendingRequest
	groupOrder   map[uint64][]*outboundItem // ordered-batch membership, in submission order
	failedGroups map[uint64]bool

	pendingAcks     []int64
	oldestUnackedAt time.Time
}

// New returns a Sender bound to sess, initially Disconnected.
func New(sess *session.Session, randFn func(int) ([]byte, error)) *Sender {
	return &Sender{
		session:             sess,
		randFn:              randFn,
		MaxRetries:          DefaultMaxRetries,
		AckDeadline:         DefaultAckDeadline,
		CoalesceDeadline:    DefaultCoalesceDeadline,
		MaxContainerMsgs:    DefaultMaxContainerMsgs,
		MaxContainerBytes:   DefaultMaxContainerBytes,
		FloodSleepThreshold: DefaultFloodSleepThreshold,
		state:               StateDisconnected,
		queue:               queue.New(),
		inFlight:            make(map[int64]*outboundItem),
		completions:         make(map[uint64]*session.PendingRequest),
		groupOrder:          make(map[uint64][]*outboundItem),
		failedGroups:        make(map[uint64]bool),
	}
}

// State returns the Sender's current lifecycle state.
func (s *Sender) State() State { return s.state }

// PendingCount returns the number of requests awaiting completion
// (queued, delayed, or in flight), for an optional Metrics gauge.
func (s *Sender) PendingCount() int { return len(s.completions) }

// SetAuthorized transitions the Sender into Authorized once the
// network driver's handshake has produced a Session with a live
// AuthKey. PollOutbound refuses to emit anything before this point.
func (s *Sender) SetAuthorized() { s.state = StateAuthorized }

// SetHandshaking marks the connection as mid-handshake; PollOutbound
// still refuses to emit RPC traffic in this state (the handshake
// itself is driven directly by internal/authkey, not through Push).
func (s *Sender) SetHandshaking() { s.state = StateHandshaking }

// Push enqueues body for sending and returns a Handle the caller can
// Cancel or wait on via Completion.
func (s *Sender) Push(body []byte, opts PushOptions) *Handle {
	s.nextHandleID++
	h := &Handle{id: s.nextHandleID}
	pr := session.NewPendingRequest(0, body, opts.AckRequired, opts.GzipCandidate)
	s.completions[h.id] = pr

	item := &outboundItem{handle: h, body: body, opts: opts}
	s.queue.Add(item)
	if opts.OrderedGroupID != 0 {
		s.groupOrder[opts.OrderedGroupID] = append(s.groupOrder[opts.OrderedGroupID], item)
	}
	return h
}

// PushMany enqueues bodies as one batch. When ordered is true they
// share a group id, execute in the given order, and a failure part-way
// through completes every later entry with SkippedDueToPriorFailure
// (§4.5 Ordered pipelining).
func (s *Sender) PushMany(bodies [][]byte, ordered bool) []*Handle {
	handles := make([]*Handle, len(bodies))
	var groupID uint64
	if ordered {
		s.nextHandleID++
		groupID = s.nextHandleID
	}
	for i, body := range bodies {
		opts := PushOptions{AckRequired: true, GzipCandidate: true}
		if ordered {
			opts.OrderedGroupID = groupID
			opts.orderIndex = i
		}
		handles[i] = s.Push(body, opts)
	}
	return handles
}

// Completion returns the PendingRequest backing h, so a caller (or the
// network driver's invoke() wrapper) can Wait() on it.
func (s *Sender) Completion(h *Handle) (*session.PendingRequest, bool) {
	pr, ok := s.completions[h.id]
	return pr, ok
}

// CompleteMigratedReplay resolves h with result from outside the usual
// dispatch flow, for a request the network driver pulled out of this
// Sender on EventMigrate and replayed itself against a secondary
// connection to the target DC (§4.5 Migration, §8 scenario 5). h's
// completions entry is otherwise untouched by this Sender once the
// migrate event fires, so this is the only path that resolves it.
func (s *Sender) CompleteMigratedReplay(h *Handle, result session.Result) []Event {
	var events []Event
	pr, ok := s.completions[h.id]
	if !ok {
		return nil
	}
	delete(s.completions, h.id)
	pr.Complete(result)
	events = append(events, Event{Kind: EventRPCComplete, Handle: h, Payload: result.Payload, Err: result.Err})
	return events
}

// Cancel marks h Cancelled immediately and idempotently (§5
// Cancellation, §8 invariant 7). If the request was never sent it is
// simply dropped from the queue; if it was already sent, any later
// reply for its msg-id is silently discarded.
func (s *Sender) Cancel(h *Handle) {
	pr, ok := s.completions[h.id]
	if !ok {
		return
	}
	delete(s.completions, h.id)

	if item := s.findQueued(h.id); item != nil {
		s.removeQueued(item)
	}
	for msgID, item := range s.inFlight {
		if item.handle.id == h.id {
			delete(s.inFlight, msgID)
			break
		}
	}
	pr.Complete(session.Result{Err: errCancelled})
}

// Tick advances the Sender's notion of the current time and releases
// any flood-wait-delayed requests whose delay has elapsed back onto
// the send queue (§4.5 Retry semantics). The network driver calls this
// on its own timer, default 100 ms (§4.6).
func (s *Sender) Tick(now time.Time) []Event {
	s.now = now
	var ready []*outboundItem
	var stillDelayed []*outboundItem
	for _, item := range s.delayed {
		if !now.Before(item.delayUntil) {
			ready = append(ready, item)
		} else {
			stillDelayed = append(stillDelayed, item)
		}
	}
	s.delayed = stillDelayed
	for _, item := range ready {
		s.queue.Add(item)
	}
	return nil
}

// findQueued scans the pending queue for the item backing handle id,
// without removing it.
func (s *Sender) findQueued(handleID uint64) *outboundItem {
	for i := 0; i < s.queue.Length(); i++ {
		if item, ok := s.queue.Peek().(*outboundItem); ok && item.handle.id == handleID {
			return item
		}
		s.cycleQueue()
	}
	return nil
}

// removeQueued drops target from the pending queue, preserving the
// relative order of everything else. eapache/queue has no arbitrary
// removal, so this rebuilds the queue once.
func (s *Sender) removeQueued(target *outboundItem) {
	n := s.queue.Length()
	kept := make([]*outboundItem, 0, n)
	for i := 0; i < n; i++ {
		item := s.queue.Remove().(*outboundItem)
		if item != target {
			kept = append(kept, item)
		}
	}
	for _, item := range kept {
		s.queue.Add(item)
	}
}

// cycleQueue rotates the queue's front item to its back, used by
// findQueued to scan without a native peek-at-index operation.
func (s *Sender) cycleQueue() {
	if s.queue.Length() == 0 {
		return
	}
	item := s.queue.Remove()
	s.queue.Add(item)
}

// PollOutbound drains as much of the ready queue as fits the container
// budgets and returns one serialized frame ready to write, or nil if
// there is nothing to send. Calling PollOutbound is itself one of the
// three flush triggers (§4.5): it always drains whatever is ready
// rather than waiting for a timer.
func (s *Sender) PollOutbound(now time.Time) ([]byte, error) {
	if s.state != StateAuthorized {
		return nil, nil
	}
	s.now = now

	drained := make([]*outboundItem, 0, s.queue.Length())
	for s.queue.Length() > 0 {
		drained = append(drained, s.queue.Remove().(*outboundItem))
	}

	var toSend []*outboundItem
	var requeue []*outboundItem
	totalBytes := 0
	for _, item := range drained {
		if item.opts.OrderedGroupID != 0 && s.failedGroups[item.opts.OrderedGroupID] {
			if pr, ok := s.completions[item.handle.id]; ok {
				delete(s.completions, item.handle.id)
				pr.Complete(session.Result{Err: errSkippedPriorFailure})
			}
			continue
		}
		if len(toSend) >= s.MaxContainerMsgs {
			requeue = append(requeue, item)
			continue
		}
		body := item.body
		if item.opts.GzipCandidate {
			gz, ok, err := msgcodec.GzipIfSmaller(body)
			if err != nil {
				return nil, err
			}
			if ok {
				body = gz
			}
		}
		if len(toSend) > 0 && !msgcodec.FitsContainerBudget(totalBytes, len(body), s.MaxContainerBytes) {
			requeue = append(requeue, item)
			continue
		}
		item.body = body
		toSend = append(toSend, item)
		totalBytes += len(body)
	}
	for _, item := range requeue {
		s.queue.Add(item)
	}

	if len(toSend) == 0 && len(s.pendingAcks) == 0 {
		return nil, nil
	}

	entries := make([]tl.ContainerMessage, 0, len(toSend)+1)
	s.session.Lock()
	for _, item := range toSend {
		msgID := msgcodec.AssignMessageID(s.session, now.Unix(), true)
		seqNo := msgcodec.NextSeqNo(s.session, true)
		item.msgID = msgID
		s.inFlight[msgID] = item
		entries = append(entries, tl.ContainerMessage{MsgID: msgID, SeqNo: seqNo, Body: item.body})
	}
	if len(s.pendingAcks) > 0 {
		ackMsgID := msgcodec.AssignMessageID(s.session, now.Unix(), false)
		ackSeqNo := msgcodec.NextSeqNo(s.session, false)
		ackBody := tl.EncodeBoxed(&tl.MsgsAck{MsgIDs: s.pendingAcks})
		entries = append(entries, tl.ContainerMessage{MsgID: ackMsgID, SeqNo: ackSeqNo, Body: ackBody})
		s.pendingAcks = nil
	}
	var finalMsgID int64
	var finalSeqNo int32
	var finalBody []byte
	if len(entries) == 1 {
		finalMsgID = entries[0].MsgID
		finalSeqNo = entries[0].SeqNo
		finalBody = entries[0].Body
	} else {
		finalMsgID = msgcodec.AssignMessageID(s.session, now.Unix(), false)
		finalSeqNo = msgcodec.NextSeqNo(s.session, false)
		finalBody = msgcodec.PackContainer(entries)
	}
	s.session.Unlock()

	enc, err := msgcodec.SerializeOutbound(s.session, finalMsgID, finalSeqNo, finalBody, s.randFn)
	if err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// retryOrExhaust counts one more retry against item's budget (§4.5
// Retry semantics: at most MaxRetries, default 5). Once the budget is
// spent it completes item with err and reports false so the caller
// does not requeue it; otherwise it reports true and leaves item
// untouched for the caller to requeue or delay as usual.
func (s *Sender) retryOrExhaust(item *outboundItem, err error, events *[]Event) bool {
	item.retryCount++
	if item.retryCount > s.MaxRetries {
		s.completeItem(item, session.Result{Err: err}, events)
		return false
	}
	return true
}

// Disconnect handles a transient connection loss (§4.6): in-flight
// requests are re-queued for retry on reconnect, up to MaxRetries,
// queued-but-unsent requests are retained untouched.
func (s *Sender) Disconnect(reason error) []Event {
	var events []Event
	for msgID, item := range s.inFlight {
		delete(s.inFlight, msgID)
		item.msgID = 0
		if s.retryOrExhaust(item, &coreerr.IoError{Err: reason}, &events) {
			s.queue.Add(item)
		}
	}
	s.state = StateDisconnected
	events = append(events, Event{Kind: EventDisconnect, Reason: reason})
	return events
}

// Close is a final shutdown (§4.6): every outstanding request, queued
// or in flight, is failed with Disconnected.
func (s *Sender) Close(reason error) []Event {
	events := []Event{}
	fail := func(item *outboundItem) {
		pr, ok := s.completions[item.handle.id]
		if !ok {
			return
		}
		delete(s.completions, item.handle.id)
		pr.Complete(session.Result{Err: errDisconnected})
		events = append(events, Event{Kind: EventRPCComplete, Handle: item.handle, Err: errDisconnected})
	}
	for s.queue.Length() > 0 {
		fail(s.queue.Remove().(*outboundItem))
	}
	for msgID, item := range s.inFlight {
		delete(s.inFlight, msgID)
		fail(item)
	}
	for _, item := range s.delayed {
		fail(item)
	}
	s.delayed = nil
	s.groupOrder = make(map[uint64][]*outboundItem)
	s.failedGroups = make(map[uint64]bool)
	s.state = StateDisconnected
	events = append(events, Event{Kind: EventDisconnect, Reason: reason})
	return events
}
