package authkey

import "errors"

var (
	// ErrWrongState is returned when a Handshake method is called out
	// of sequence for the state machine's current state (§4.3).
	ErrWrongState = errors.New("authkey: handshake method called out of sequence")

	// ErrNonceMismatch is returned when a reply's nonce does not match
	// the one this handshake sent.
	ErrNonceMismatch = errors.New("authkey: nonce mismatch")

	// ErrServerNonceMismatch is returned when a reply's server_nonce
	// does not match the one the server sent in res_pq.
	ErrServerNonceMismatch = errors.New("authkey: server_nonce mismatch")

	// ErrUnknownRSAKey is returned when none of the server's offered
	// fingerprints match a configured key (§4.2).
	ErrUnknownRSAKey = errors.New("authkey: server offered no recognized rsa key fingerprint")

	// ErrDHParamsRejected is returned when the server replies with
	// server_DH_params_fail.
	ErrDHParamsRejected = errors.New("authkey: server rejected dh params")

	// ErrDHCheckFailed is returned when the server-supplied generator,
	// prime, or public DH value fails the §4.3 range checks.
	ErrDHCheckFailed = errors.New("authkey: dh parameter range check failed")

	// ErrNewNonceHashMismatch is returned when a dh_gen_* reply's nonce
	// hash does not match the locally recomputed one, meaning the
	// negotiated auth key does not agree with the server's.
	ErrNewNonceHashMismatch = errors.New("authkey: new_nonce hash mismatch")

	// ErrDHGenFailed is returned when the server replies with
	// dh_gen_fail.
	ErrDHGenFailed = errors.New("authkey: server reported dh_gen_fail")

	// ErrUnexpectedMessage is returned when a reply's constructor id
	// does not match any expected for the handshake's current state.
	ErrUnexpectedMessage = errors.New("authkey: unexpected message for current handshake state")
)
