package msgcodec

import (
	"github.com/LonamiWebs/gomtproto/internal/session"
)

// contentRelatedBits / nonContentBits set the two low bits of a
// message id as required by §3 MessageId: 00 for client-to-server
// content-related, 01 for non-content.
const (
	contentRelatedBits int64 = 0
	nonContentBits     int64 = 1
)

// AssignMessageID computes the next outbound message id for s,
// enforcing the strict-monotonicity invariant of §3/§8 invariant 1:
// if the clock (corrected by s.TimeOffset) would not advance past the
// last assigned id, the low bits are incremented instead. Callers must
// hold s's lock.
func AssignMessageID(s *session.Session, unixNowSeconds int64, contentRelated bool) int64 {
	corrected := unixNowSeconds + s.TimeOffset
	candidate := corrected << 32
	tag := nonContentBits
	if contentRelated {
		tag = contentRelatedBits
	}
	candidate |= tag

	last := s.LastMsgID()
	if candidate <= last {
		// Clock didn't advance (or server time offset made it regress);
		// bump the low bits by 4 to preserve the two-bit tag while
		// staying strictly greater than the last assigned id.
		candidate = last + 4
		candidate = (candidate &^ 3) | tag
		if candidate <= last {
			candidate = last + 4
		}
	}
	s.SetLastMsgID(candidate)
	return candidate
}

// NextSeqNo computes the seqno for the message currently being
// assigned and advances the session's content-related counter as a
// side effect (§3 SequenceNumber, §8 invariant 2):
//
//	seq_no = 2*content_related_count_before + (1 if content-related else 0)
//
// Callers must hold s's lock and call this only once per message, in
// assignment order.
func NextSeqNo(s *session.Session, contentRelated bool) int32 {
	count := s.ContentRelatedCount()
	seqNo := int32(2 * count)
	if contentRelated {
		seqNo++
		s.IncrementContentRelatedCount()
	}
	return seqNo
}
