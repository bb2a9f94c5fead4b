package msgcodec

import "github.com/LonamiWebs/gomtproto/internal/tl"

// MaxContainerFrameBudget is the default single-frame size budget a
// container's combined inner messages must fit within (§4.4).
const MaxContainerFrameBudget = 1 * 1024 * 1024

// MaxContainerMessages is the default soft message-count budget for
// container flushing (§4.5).
const MaxContainerMessages = 16

// MaxContainerByteBudget is the default soft byte-size budget for
// container flushing (§4.5).
const MaxContainerByteBudget = 768 * 1024

// PackContainer wraps msgs (already msg-id/seq-no assigned, in send
// order) into a msg_container body. The container itself is not
// content-related; order is preserved (§4.4).
func PackContainer(msgs []tl.ContainerMessage) []byte {
	c := &tl.MsgContainer{Messages: msgs}
	return tl.EncodeBoxed(c)
}

// FitsContainerBudget reports whether adding candidateLen bytes to a
// container already totaling currentLen bytes stays within budget
// (§4.4's single-frame budget, default 1 MiB).
func FitsContainerBudget(currentLen, candidateLen, budget int) bool {
	if budget <= 0 {
		budget = MaxContainerFrameBudget
	}
	return currentLen+candidateLen <= budget
}
