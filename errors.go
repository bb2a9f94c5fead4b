package mtproto

import "github.com/LonamiWebs/gomtproto/internal/coreerr"

// The public error taxonomy (§6, §7) is a direct re-export of
// internal/coreerr's CoreError variants: callers match on these with
// errors.As, exactly as they would against the internal types, without
// ever importing an internal package themselves.
type (
	IoError                       = coreerr.IoError
	ProtocolError                 = coreerr.ProtocolError
	BadAuthKeyError               = coreerr.BadAuthKeyError
	SessionLockedError            = coreerr.SessionLockedError
	RpcError                      = coreerr.RpcError
	FloodWaitError                = coreerr.FloodWaitError
	MigrateError                  = coreerr.MigrateError
	DisconnectedError             = coreerr.DisconnectedError
	CancelledError                = coreerr.CancelledError
	SkippedDueToPriorFailureError = coreerr.SkippedDueToPriorFailureError
)

var (
	// ErrDisconnected is returned by Invoke/InvokeMany for a request
	// that was still pending when the connection closed.
	ErrDisconnected = coreerr.ErrDisconnected
	// ErrCancelled is returned for a request whose context was
	// cancelled before it completed.
	ErrCancelled = coreerr.ErrCancelled
)
