package sender

import (
	"errors"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
)

var (
	errCancelled           = coreerr.ErrCancelled
	errDisconnected        = coreerr.ErrDisconnected
	errSkippedPriorFailure = &coreerr.SkippedDueToPriorFailureError{}

	errUnknownInboundObject = errors.New("sender: unknown inbound protocol object")
	errSessionIDMismatch    = errors.New("sender: frame session id does not match the session's current id")
	errBadMsgTooOld         = errors.New("sender: message rejected as too old or duplicate (bad_msg_notification code 64)")

	errBadServerSaltRetriesExceeded = errors.New("sender: max_retries exceeded correcting bad_server_salt")
	errBadMsgRetriesExceeded        = errors.New("sender: max_retries exceeded correcting bad_msg_notification")
)
