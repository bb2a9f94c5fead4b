package updates

import (
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// Dispatch feeds one event from the network driver's event stream
// through the reconciler. Callers should pass every EventUpdateReceived
// and EventRPCComplete here (other kinds pass through untouched and
// are not this package's concern); newly released updates, if any,
// become visible through Ready.
func (r *Reconciler) Dispatch(ev sender.Event) {
	switch ev.Kind {
	case sender.EventUpdateReceived:
		r.handleEnvelope(ev.Payload)
	case sender.EventRPCComplete:
		r.handleCompletion(ev)
	}
}

// handleEnvelope decodes payload and routes it to the matching gap
// check, or, for updates/updatesCombined/updatesTooLong (which this
// package cannot decode past their CRC — see package doc), issues an
// unconditional difference fetch.
func (r *Reconciler) handleEnvelope(payload []byte) {
	obj, err := tl.DecodeBoxed(payload)
	if err != nil {
		return
	}

	switch v := obj.(type) {
	case *tl.UpdateShortMessage:
		r.releaseOrBuffer(payload, r.HandleAccountPTS(v.PTS, v.PTSCount))
	case *tl.UpdateShortChatMessage:
		r.releaseOrBuffer(payload, r.HandleAccountPTS(v.PTS, v.PTSCount))
	case *tl.UpdateShortSentMessage:
		r.releaseOrBuffer(payload, r.HandleAccountPTS(v.PTS, v.PTSCount))
	case *tl.RawObject:
		switch v.CRCValue {
		case tl.CRCUpdates, tl.CRCUpdatesCombined, tl.CRCUpdatesTooLong, tl.CRCUpdateShort:
			r.mu.Lock()
			r.bufferedDuringGap.Add(payload)
			r.issueGetDifferenceLocked()
			r.mu.Unlock()
		default:
			// Not a protocol-level object this package recognizes at
			// all (a bare domain update, or something layered above
			// it) — pass through unconditionally, there is nothing
			// here to reconcile.
			r.mu.Lock()
			r.ready = append(r.ready, Update{Body: payload})
			r.mu.Unlock()
		}
	}
}

// releaseOrBuffer emits payload immediately when verdict is Applied
// (or Duplicate, which is simply dropped), or buffers it until the
// in-flight difference fetch resolves.
func (r *Reconciler) releaseOrBuffer(payload []byte, verdict Gap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch verdict {
	case Applied:
		r.ready = append(r.ready, Update{Body: payload})
	case Detected:
		r.bufferedDuringGap.Add(payload)
	case Duplicate:
	}
}

// handleCompletion notices when a getDifference/getChannelDifference
// this Reconciler issued has completed. On success it releases
// whatever was buffered during the gap and surfaces the (still-boxed)
// difference response itself as a ready Update — the domain layer
// above is responsible for decoding updates.difference/updates.state
// and feeding any corrected pts/qts/date/seq back via HandleSeq/
// HandleAccountPTS/HandleQTS/HandleChannelPTS, since this package
// cannot decode those constructors either (§1 Non-goals). On failure
// the fetch is retried once; a second consecutive failure drops the
// connection instead of releasing the buffered updates, since the gap
// was never actually closed (§4.8, §8 invariant 6).
func (r *Reconciler) handleCompletion(ev sender.Event) {
	r.mu.Lock()

	if r.pendingDifference != nil && ev.Handle == r.pendingDifference {
		r.pendingDifference = nil
		if ev.Err != nil {
			retry := !r.differenceRetried
			r.differenceRetried = true
			if retry {
				r.issueGetDifferenceLocked()
				r.mu.Unlock()
				return
			}
			r.differenceRetried = false
			r.mu.Unlock()
			r.signalDisconnect(ev.Err)
			return
		}
		r.differenceRetried = false
		r.ready = append(r.ready, Update{Body: ev.Payload})
		for r.bufferedDuringGap.Length() > 0 {
			buffered := r.bufferedDuringGap.Remove()
			r.ready = append(r.ready, Update{Body: buffered.([]byte)})
		}
		r.mu.Unlock()
		return
	}

	for channelID, handle := range r.pendingChannelDiff {
		if ev.Handle != handle {
			continue
		}
		delete(r.pendingChannelDiff, channelID)
		if ev.Err != nil {
			retry := !r.channelDiffRetried[channelID]
			r.channelDiffRetried[channelID] = true
			if retry {
				r.issueGetChannelDifferenceLocked(channelID, r.channelPTSLocked(channelID))
				r.mu.Unlock()
				return
			}
			delete(r.channelDiffRetried, channelID)
			r.mu.Unlock()
			r.signalDisconnect(ev.Err)
			return
		}
		delete(r.channelDiffRetried, channelID)
		r.ready = append(r.ready, Update{Body: ev.Payload})
		if q, ok := r.bufferedChannel[channelID]; ok {
			for q.Length() > 0 {
				buffered := q.Remove()
				r.ready = append(r.ready, Update{Body: buffered.([]byte)})
			}
			delete(r.bufferedChannel, channelID)
		}
		r.mu.Unlock()
		return
	}

	r.mu.Unlock()
}

// signalDisconnect calls the configured disconnector, if any, outside
// r.mu so it never blocks the reconciler on network-driver internals.
func (r *Reconciler) signalDisconnect(err error) {
	if r.disconnect != nil {
		r.disconnect(err)
	}
}

// channelPTSLocked reads channelID's last-known local pts, for a
// retried getChannelDifference's PTS field. The caller must hold r.mu.
func (r *Reconciler) channelPTSLocked(channelID int64) int32 {
	r.sess.Lock()
	defer r.sess.Unlock()
	return r.sess.Updates.ChannelPTS[channelID]
}
