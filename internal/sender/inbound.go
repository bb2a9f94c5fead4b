package sender

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/msgcodec"
	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// PushInbound decrypts one frame read off the wire, dispatches its
// (possibly container- or gzip-wrapped) contents, and returns the
// events that fall out of it: completed RPCs, received updates, or
// (from dispatch's callers, not this method) a disconnect.
func (s *Sender) PushInbound(frame []byte) ([]Event, error) {
	sessionID, msgID, seqNo, body, err := msgcodec.DecryptInbound(s.session, frame)
	if err != nil {
		if errors.Is(err, msgcodec.ErrBadAuthKey) {
			return nil, &coreerr.BadAuthKeyError{}
		}
		return nil, &coreerr.ProtocolError{Err: err}
	}
	if sessionID != s.session.SessionID {
		return nil, &coreerr.ProtocolError{Err: errSessionIDMismatch}
	}

	obj, err := tl.DecodeBoxed(body)
	if err != nil {
		return nil, &coreerr.ProtocolError{Err: err}
	}

	events := []Event{}
	if err := s.dispatch(msgID, seqNo, obj, &events); err != nil {
		return events, err
	}
	return events, nil
}

// dispatch interprets one decoded protocol object, recursing through
// msg_container and gzip_packed wrappers (§4.4, §4.5).
func (s *Sender) dispatch(msgID int64, seqNo int32, obj interface{}, events *[]Event) error {
	switch v := obj.(type) {
	case *tl.MsgContainer:
		for _, inner := range v.Messages {
			innerObj, err := tl.DecodeBoxed(inner.Body)
			if err != nil {
				return &coreerr.ProtocolError{Err: err}
			}
			if err := s.dispatch(inner.MsgID, inner.SeqNo, innerObj, events); err != nil {
				return err
			}
		}
		return nil

	case *tl.GZIPPacked:
		raw, err := msgcodec.Gunzip(v.PackedData)
		if err != nil {
			return &coreerr.ProtocolError{Err: err}
		}
		innerObj, err := tl.DecodeBoxed(raw)
		if err != nil {
			return &coreerr.ProtocolError{Err: err}
		}
		return s.dispatch(msgID, seqNo, innerObj, events)

	case *tl.RPCResult:
		if seqNo%2 == 1 {
			s.recordAck(msgID)
		}
		return s.completeRPC(v.ReqMsgID, v.Body, events)

	case *tl.BadServerSalt:
		s.handleBadServerSalt(v, events)
		return nil

	case *tl.BadMsgNotification:
		return s.handleBadMsgNotification(msgID, v, events)

	case *tl.MsgsAck:
		return nil

	case *tl.NewSessionCreated:
		s.session.Lock()
		s.session.ServerSalt = v.ServerSalt
		s.session.Unlock()
		return nil

	case *tl.Pong:
		return nil

	case *tl.RawObject:
		if seqNo%2 == 1 {
			s.recordAck(msgID)
		}
		*events = append(*events, Event{Kind: EventUpdateReceived, Payload: tl.EncodeBoxed(v)})
		return nil

	default:
		return &coreerr.ProtocolError{Err: errUnknownInboundObject}
	}
}

// completeRPC matches an rpc_result to its originating request and
// resolves its Handle (§3 RpcComplete, §6/§7 error classification).
func (s *Sender) completeRPC(reqMsgID int64, resultBody []byte, events *[]Event) error {
	resultObj, err := tl.DecodeBoxed(resultBody)
	if err != nil {
		return &coreerr.ProtocolError{Err: err}
	}
	if gz, ok := resultObj.(*tl.GZIPPacked); ok {
		raw, err := msgcodec.Gunzip(gz.PackedData)
		if err != nil {
			return &coreerr.ProtocolError{Err: err}
		}
		resultBody = raw
		resultObj, err = tl.DecodeBoxed(raw)
		if err != nil {
			return &coreerr.ProtocolError{Err: err}
		}
	}

	item, ok := s.inFlight[reqMsgID]
	if !ok {
		// Late reply to an already-cancelled or already-retried request;
		// drop it silently (§5 Cancellation).
		return nil
	}
	delete(s.inFlight, reqMsgID)

	if rpcErr, ok := resultObj.(*tl.RPCError); ok {
		classified := coreerr.ParseRPCError(rpcErr.ErrorCode, rpcErr.ErrorMessage)

		if migrate, ok := classified.(*coreerr.MigrateError); ok {
			if migrate.Kind == "FILE" {
				// File migration moves only this one request (§4.5
				// Migration, §8 scenario 5): keep its completions entry
				// alive and hand the body back to the caller so a
				// secondary connection can replay it and complete the
				// handle itself, instead of failing it here.
				*events = append(*events, Event{
					Kind: EventMigrate, Handle: item.handle, Payload: item.body,
					MigrateKind: migrate.Kind, MigrateDC: migrate.DC,
				})
				return nil
			}
			*events = append(*events, Event{Kind: EventMigrate, MigrateKind: migrate.Kind, MigrateDC: migrate.DC})
		}

		if flood, ok := classified.(*coreerr.FloodWaitError); ok && flood.Seconds < s.FloodSleepThreshold {
			if s.retryOrExhaust(item, classified, events) {
				item.delayUntil = s.now.Add(time.Duration(flood.Seconds) * time.Second)
				s.delayed = append(s.delayed, item)
			} else if item.opts.OrderedGroupID != 0 {
				s.failedGroups[item.opts.OrderedGroupID] = true
				s.advanceOrderedGroup(item.opts.OrderedGroupID, events)
			}
			return nil
		}

		if _, ok := classified.(*coreerr.RpcMcgetFailError); ok {
			if s.retryOrExhaust(item, classified, events) {
				item.msgID = 0
				s.queue.Add(item)
			} else if item.opts.OrderedGroupID != 0 {
				s.failedGroups[item.opts.OrderedGroupID] = true
				s.advanceOrderedGroup(item.opts.OrderedGroupID, events)
			}
			return nil
		}

		s.completeItem(item, session.Result{Err: classified}, events)
		if item.opts.OrderedGroupID != 0 {
			s.failedGroups[item.opts.OrderedGroupID] = true
			s.advanceOrderedGroup(item.opts.OrderedGroupID, events)
		}
		return nil
	}

	s.completeItem(item, session.Result{Payload: resultBody}, events)
	return nil
}

// completeItem resolves item's Handle, unless it was already cancelled
// (in which case its completions entry is already gone).
func (s *Sender) completeItem(item *outboundItem, result session.Result, events *[]Event) {
	pr, ok := s.completions[item.handle.id]
	if !ok {
		return
	}
	delete(s.completions, item.handle.id)
	pr.Complete(result)
	*events = append(*events, Event{Kind: EventRPCComplete, Handle: item.handle, Payload: result.Payload, Err: result.Err})
}

// advanceOrderedGroup completes every still-pending entry of groupID
// with SkippedDueToPriorFailure once an earlier entry in the same
// ordered batch has failed (§4.5 Ordered pipelining).
func (s *Sender) advanceOrderedGroup(groupID uint64, events *[]Event) {
	for _, item := range s.groupOrder[groupID] {
		pr, ok := s.completions[item.handle.id]
		if !ok {
			continue
		}
		s.removeQueued(item)
		if item.msgID != 0 {
			delete(s.inFlight, item.msgID)
		}
		delete(s.completions, item.handle.id)
		pr.Complete(session.Result{Err: errSkippedPriorFailure})
		*events = append(*events, Event{Kind: EventRPCComplete, Handle: item.handle, Err: errSkippedPriorFailure})
	}
	delete(s.groupOrder, groupID)
}

// handleBadServerSalt installs the replacement salt and resends the
// offending request with a fresh message id, up to MaxRetries (§4.5
// bad-salt code 48, Retry semantics).
func (s *Sender) handleBadServerSalt(v *tl.BadServerSalt, events *[]Event) {
	s.session.Lock()
	s.session.ServerSalt = v.NewServerSalt
	s.session.Unlock()

	item, ok := s.inFlight[v.BadMsgID]
	if !ok {
		return
	}
	delete(s.inFlight, v.BadMsgID)
	if !s.retryOrExhaust(item, &coreerr.ProtocolError{Err: errBadServerSaltRetriesExceeded}, events) {
		if item.opts.OrderedGroupID != 0 {
			s.failedGroups[item.opts.OrderedGroupID] = true
			s.advanceOrderedGroup(item.opts.OrderedGroupID, events)
		}
		return
	}
	item.msgID = 0
	s.queue.Add(item)
}

// handleBadMsgNotification corrects the session's clock or session id
// and resends (codes 16/17/32/33), or fails the request outright (code
// 64) (§4.5).
func (s *Sender) handleBadMsgNotification(envMsgID int64, v *tl.BadMsgNotification, events *[]Event) error {
	switch v.ErrorCode {
	case 16, 17:
		// The server's own clock is the upper 32 bits of the msg_id of
		// the message that carried this notification (§3 MessageId).
		serverTime := envMsgID >> 32
		s.session.Lock()
		s.session.TimeOffset = serverTime - s.now.Unix()
		s.session.Unlock()
		s.requeueBadMsg(v.BadMsgID, events)
		return nil

	case 32, 33:
		raw, err := s.randFn(8)
		if err != nil {
			return &coreerr.IoError{Err: err}
		}
		s.session.Lock()
		s.session.SessionID = int64(binary.LittleEndian.Uint64(raw))
		s.session.Unlock()
		s.requeueBadMsg(v.BadMsgID, events)
		return nil

	case 64:
		item, ok := s.inFlight[v.BadMsgID]
		if !ok {
			return nil
		}
		delete(s.inFlight, v.BadMsgID)
		s.completeItem(item, session.Result{Err: &coreerr.ProtocolError{Err: errBadMsgTooOld}}, events)
		return nil

	default:
		return nil
	}
}

// requeueBadMsg moves the request that msgID named back onto the send
// queue so PollOutbound assigns it a fresh msg id on the next flush,
// up to MaxRetries (§4.5 Retry semantics).
func (s *Sender) requeueBadMsg(msgID int64, events *[]Event) {
	item, ok := s.inFlight[msgID]
	if !ok {
		return
	}
	delete(s.inFlight, msgID)
	if !s.retryOrExhaust(item, &coreerr.ProtocolError{Err: errBadMsgRetriesExceeded}, events) {
		if item.opts.OrderedGroupID != 0 {
			s.failedGroups[item.opts.OrderedGroupID] = true
			s.advanceOrderedGroup(item.opts.OrderedGroupID, events)
		}
		return
	}
	item.msgID = 0
	s.queue.Add(item)
}

// recordAck appends msgID to the pending-ack list, marking the start
// of the ack-deadline window if it was empty (§4.5 ack policy).
func (s *Sender) recordAck(msgID int64) {
	if len(s.pendingAcks) == 0 {
		s.oldestUnackedAt = s.now
	}
	s.pendingAcks = append(s.pendingAcks, msgID)
}
