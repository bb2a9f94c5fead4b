package authkey

import (
	"math/big"
	"time"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// State is one of the handshake's five states (three request steps,
// StateDone and StateFailed), after §4.3: "State machine
// with these states: ReqPQ -> ReqDHParams -> SetClientDHParams ->
// Done | Retry."
type State int

const (
	StateReqPQ State = iota
	StateReqDHParams
	StateSetClientDHParams
	StateDone
	StateFailed
)

// dhBitSize is the bit length of Telegram's published 2048-bit DH
// prime; DHCheckPublicValue's bound is relative to it (§4.3).
const dhBitSize = 2048

// Result is what a successful handshake produces: "(auth_key[256],
// server_salt[8], time_offset_seconds)" (§4.3).
type Result struct {
	AuthKey    []byte
	ServerSalt int64
	TimeOffset int64
}

// Handshake drives one run of the auth-key exchange. It performs no
// I/O itself: Start and HandleMessage return the bytes to send next,
// mirroring internal/sender's sans-I/O push/poll split so the network
// driver owns the actual read/write loop.
type Handshake struct {
	state    State
	keyStore KeyStore
	randFn   func(int) ([]byte, error)
	now      func() time.Time

	nonce       [16]byte
	serverNonce [16]byte
	newNonce    [32]byte

	tmpAESKey []byte
	tmpAESIV  []byte

	dhPrime *big.Int
	g       *big.Int
	ga      *big.Int
	gb      *big.Int

	authKeyRaw []byte
	retryID    int64
	timeOffset int64
}

// New returns a Handshake in its initial ReqPQ state. randFn must be a
// cryptographically secure source (mtcrypto.SecureRandom in
// production; tests may substitute a deterministic one).
func New(keyStore KeyStore, randFn func(int) ([]byte, error)) *Handshake {
	return &Handshake{
		keyStore: keyStore,
		randFn:   randFn,
		now:      time.Now,
		state:    StateReqPQ,
	}
}

// State returns the handshake's current step.
func (h *Handshake) State() State { return h.state }

// Start returns the wire bytes for req_pq_multi, the handshake's
// opening message.
func (h *Handshake) Start() ([]byte, error) {
	if h.state != StateReqPQ {
		return nil, ErrWrongState
	}
	nonce, err := h.randFn(16)
	if err != nil {
		return nil, err
	}
	copy(h.nonce[:], nonce)
	return tl.EncodeBoxed(&tl.ReqPQMulti{Nonce: h.nonce}), nil
}

// HandleMessage feeds one plaintext reply into the state machine and
// returns the next request to send (nil once done), whether the
// handshake has finished, and the final Result once it has.
func (h *Handshake) HandleMessage(data []byte) (outbound []byte, done bool, result *Result, err error) {
	switch h.state {
	case StateReqPQ:
		return h.handleResPQ(data)
	case StateReqDHParams:
		return h.handleServerDHParams(data)
	case StateSetClientDHParams:
		return h.handleDHGenResult(data)
	default:
		return nil, false, nil, ErrWrongState
	}
}

func (h *Handshake) handleResPQ(data []byte) ([]byte, bool, *Result, error) {
	r := tl.NewReader(data)
	crc, err := r.Uint32()
	if err != nil {
		return nil, false, nil, err
	}
	if crc != tl.CRCResPQ {
		return nil, false, nil, ErrUnexpectedMessage
	}
	resPQ, err := tl.DecodeResPQ(r)
	if err != nil {
		return nil, false, nil, err
	}
	if resPQ.Nonce != h.nonce {
		return nil, false, nil, ErrNonceMismatch
	}
	h.serverNonce = resPQ.ServerNonce

	pqInt := new(big.Int).SetBytes(resPQ.PQ)
	if !pqInt.IsUint64() {
		return nil, false, nil, ErrDHCheckFailed
	}
	pq := pqInt.Uint64()
	p, err := mtcrypto.FactorizePQ(pq, mtcrypto.DefaultFactorizationBudget)
	if err != nil {
		return nil, false, nil, err
	}
	q := pq / p
	if p > q {
		p, q = q, p
	}

	key, ok := h.keyStore.Lookup(resPQ.ServerPublicKeyFingerprints)
	if !ok {
		return nil, false, nil, ErrUnknownRSAKey
	}

	newNonce, err := h.randFn(32)
	if err != nil {
		return nil, false, nil, err
	}
	copy(h.newNonce[:], newNonce)

	inner := &tl.PQInnerData{
		PQ:          resPQ.PQ,
		P:           big.NewInt(0).SetUint64(p).Bytes(),
		Q:           big.NewInt(0).SetUint64(q).Bytes(),
		Nonce:       h.nonce,
		ServerNonce: h.serverNonce,
		NewNonce:    h.newNonce,
	}
	plain := tl.EncodeBoxed(inner)
	encryptedData, err := mtcrypto.RSAPad(plain, key, h.randFn)
	if err != nil {
		return nil, false, nil, err
	}

	req := &tl.ReqDHParams{
		Nonce:                h.nonce,
		ServerNonce:          h.serverNonce,
		P:                    inner.P,
		Q:                    inner.Q,
		PublicKeyFingerprint: key.Fingerprint,
		EncryptedData:        encryptedData,
	}
	h.state = StateReqDHParams
	return tl.EncodeBoxed(req), false, nil, nil
}

func (h *Handshake) handleServerDHParams(data []byte) ([]byte, bool, *Result, error) {
	r := tl.NewReader(data)
	crc, err := r.Uint32()
	if err != nil {
		return nil, false, nil, err
	}
	parsed, err := tl.DecodeServerDHParams(crc, r)
	if err != nil {
		return nil, false, nil, err
	}

	switch v := parsed.(type) {
	case *tl.ServerDHParamsFail:
		return nil, false, nil, ErrDHParamsRejected
	case *tl.ServerDHParamsOK:
		if v.Nonce != h.nonce || v.ServerNonce != h.serverNonce {
			return nil, false, nil, ErrNonceMismatch
		}

		tmpKey, tmpIV := deriveTmpAES(h.newNonce, h.serverNonce)
		plain, err := mtcrypto.IGEDecrypt(tmpKey, tmpIV, v.EncryptedData)
		if err != nil {
			return nil, false, nil, err
		}
		h.tmpAESKey, h.tmpAESIV = tmpKey, tmpIV

		ir := tl.NewReader(plain)
		innerCRC, err := ir.Uint32()
		if err != nil {
			return nil, false, nil, err
		}
		if innerCRC != tl.CRCServerDHInnerData {
			return nil, false, nil, ErrUnexpectedMessage
		}
		inner, err := tl.DecodeServerDHInnerData(ir)
		if err != nil {
			return nil, false, nil, err
		}
		if inner.Nonce != h.nonce || inner.ServerNonce != h.serverNonce {
			return nil, false, nil, ErrNonceMismatch
		}

		dhPrime := new(big.Int).SetBytes(inner.DHPrime)
		g := big.NewInt(int64(inner.G))
		ga := new(big.Int).SetBytes(inner.GA)

		if !mtcrypto.DHCheckGenerator(g, dhPrime) {
			return nil, false, nil, ErrDHCheckFailed
		}
		if !mtcrypto.DHCheckPublicValue(ga, dhPrime, dhBitSize) {
			return nil, false, nil, ErrDHCheckFailed
		}

		bBytes, err := h.randFn(256)
		if err != nil {
			return nil, false, nil, err
		}
		b := new(big.Int).SetBytes(bBytes)
		b.Mod(b, dhPrime)

		gb := mtcrypto.DHModExp(g, b, dhPrime)
		if !mtcrypto.DHCheckPublicValue(gb, dhPrime, dhBitSize) {
			return nil, false, nil, ErrDHCheckFailed
		}

		authKeyInt := mtcrypto.DHModExp(ga, b, dhPrime)
		authKeyRaw := make([]byte, 256)
		authKeyInt.FillBytes(authKeyRaw)

		h.dhPrime = dhPrime
		h.g = g
		h.ga = ga
		h.gb = gb
		h.authKeyRaw = authKeyRaw
		h.timeOffset = int64(inner.ServerTime) - h.now().Unix()

		outbound, err := h.buildSetClientDHParams()
		if err != nil {
			return nil, false, nil, err
		}
		h.state = StateSetClientDHParams
		return outbound, false, nil, nil
	default:
		return nil, false, nil, ErrUnexpectedMessage
	}
}

func (h *Handshake) buildSetClientDHParams() ([]byte, error) {
	inner := &tl.ClientDHInnerData{
		Nonce:       h.nonce,
		ServerNonce: h.serverNonce,
		Retry:       h.retryID,
		GB:          h.gb.Bytes(),
	}
	plain := tl.EncodeBoxed(inner)
	padded, err := padTo16(plain, h.randFn)
	if err != nil {
		return nil, err
	}
	enc, err := mtcrypto.IGEEncrypt(h.tmpAESKey, h.tmpAESIV, padded)
	if err != nil {
		return nil, err
	}
	req := &tl.SetClientDHParams{
		Nonce:         h.nonce,
		ServerNonce:   h.serverNonce,
		EncryptedData: enc,
	}
	return tl.EncodeBoxed(req), nil
}

func (h *Handshake) handleDHGenResult(data []byte) ([]byte, bool, *Result, error) {
	r := tl.NewReader(data)
	crc, err := r.Uint32()
	if err != nil {
		return nil, false, nil, err
	}
	parsed, err := tl.DecodeDHGenResult(crc, r)
	if err != nil {
		return nil, false, nil, err
	}

	authKeyAuxHash := mtcrypto.SHA1(h.authKeyRaw)[:8]

	switch v := parsed.(type) {
	case *tl.DHGenOK:
		if v.Nonce != h.nonce || v.ServerNonce != h.serverNonce {
			return nil, false, nil, ErrNonceMismatch
		}
		expected := newNonceHash(h.newNonce, 1, authKeyAuxHash)
		if !mtcrypto.ConstantTimeCompare(expected, v.NewNonceHash1[:]) {
			return nil, false, nil, ErrNewNonceHashMismatch
		}
		h.state = StateDone
		return nil, true, &Result{
			AuthKey:    h.authKeyRaw,
			ServerSalt: computeServerSalt(h.newNonce, h.serverNonce),
			TimeOffset: h.timeOffset,
		}, nil

	case *tl.DHGenRetry:
		if v.Nonce != h.nonce || v.ServerNonce != h.serverNonce {
			return nil, false, nil, ErrNonceMismatch
		}
		expected := newNonceHash(h.newNonce, 2, authKeyAuxHash)
		if !mtcrypto.ConstantTimeCompare(expected, v.NewNonceHash2[:]) {
			return nil, false, nil, ErrNewNonceHashMismatch
		}
		// The server found the auth key colliding with one already on
		// file for this (nonce, server_nonce); regenerate b and retry
		// with retry_id set to the rejected key's aux hash (§4.3 Retry).
		h.retryID = int64(leUint64(authKeyAuxHash))
		bBytes, err := h.randFn(256)
		if err != nil {
			return nil, false, nil, err
		}
		b := new(big.Int).SetBytes(bBytes)
		b.Mod(b, h.dhPrime)
		gb := mtcrypto.DHModExp(h.g, b, h.dhPrime)
		if !mtcrypto.DHCheckPublicValue(gb, h.dhPrime, dhBitSize) {
			return nil, false, nil, ErrDHCheckFailed
		}
		h.gb = gb
		authKeyInt := mtcrypto.DHModExp(h.ga, b, h.dhPrime)
		authKeyInt.FillBytes(h.authKeyRaw)
		outbound, err := h.buildSetClientDHParams()
		if err != nil {
			return nil, false, nil, err
		}
		return outbound, false, nil, nil

	case *tl.DHGenFail:
		expected := newNonceHash(h.newNonce, 3, authKeyAuxHash)
		h.state = StateFailed
		if !mtcrypto.ConstantTimeCompare(expected, v.NewNonceHash3[:]) {
			return nil, false, nil, ErrNewNonceHashMismatch
		}
		return nil, false, nil, ErrDHGenFailed

	default:
		return nil, false, nil, ErrUnexpectedMessage
	}
}

// deriveTmpAES derives the temporary AES-IGE key/iv the handshake uses
// to wrap server_DH_inner_data and client_DH_inner_data (§4.3):
//
//	tmp_aes_key = SHA1(new_nonce+server_nonce) ++ SHA1(server_nonce+new_nonce)[0:12]
//	tmp_aes_iv  = SHA1(server_nonce+new_nonce)[12:20] ++ SHA1(new_nonce+new_nonce) ++ new_nonce[0:4]
func deriveTmpAES(newNonce [32]byte, serverNonce [16]byte) (key, iv []byte) {
	a := mtcrypto.SHA1(newNonce[:], serverNonce[:])
	b := mtcrypto.SHA1(serverNonce[:], newNonce[:])
	c := mtcrypto.SHA1(newNonce[:], newNonce[:])

	key = append(append([]byte(nil), a...), b[0:12]...)
	iv = append(append(append([]byte(nil), b[12:20]...), c...), newNonce[0:4]...)
	return key, iv
}

// newNonceHash computes substr(SHA1(new_nonce ++ marker ++ auxHash), 4, 16),
// the nonce-hash construction shared by dh_gen_ok/retry/fail (§4.3),
// where marker is 1, 2, or 3 respectively.
func newNonceHash(newNonce [32]byte, marker byte, auxHash []byte) []byte {
	digest := mtcrypto.SHA1(newNonce[:], []byte{marker}, auxHash)
	return digest[4:20]
}

// computeServerSalt XORs the leading 8 bytes of new_nonce and
// server_nonce, interpreted little-endian, the handshake's recipe for
// deriving the session's initial server_salt (§4.3).
func computeServerSalt(newNonce [32]byte, serverNonce [16]byte) int64 {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = newNonce[i] ^ serverNonce[i]
	}
	return int64(leUint64(out))
}

func padTo16(data []byte, randFn func(int) ([]byte, error)) ([]byte, error) {
	if rem := len(data) % 16; rem != 0 {
		pad, err := randFn(16 - rem)
		if err != nil {
			return nil, err
		}
		return append(append([]byte(nil), data...), pad...), nil
	}
	return data, nil
}
