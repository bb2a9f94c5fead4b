// Package mtproto is a client library for Telegram's MTProto protocol:
// the transport codec, cryptographic session, RPC multiplexer, and
// update-state reconciler that turn a plain TCP stream into a
// reliable, encrypted, multiplexed request/response channel with
// ordered update delivery.
//
// Client is the entry point: New validates a Config and opens its
// session store, Connect dials and starts servicing the connection,
// Invoke/InvokeMany submit requests, Updates returns the channel of
// reconciled updates, and Disconnect/Close tear the connection down.
//
// Command-line tooling lives under cmd/; the packages under internal/
// implement the transport codec, crypto primitives, auth-key
// handshake, MTProto message layer, RPC multiplexer, network driver,
// session store, updates reconciler, and DC address table Client
// wires together. See SPEC_FULL.md and DESIGN.md in the module root
// for the full component breakdown and the grounding ledger behind
// each one.
package mtproto
