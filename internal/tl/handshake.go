package tl

// Constructor ids for the plaintext auth-key handshake exchange (§4.3).
// These travel outside any encrypted envelope, so unlike the rest of
// this package they are only ever seen by internal/authkey.
const (
	CRCReqPQMulti         uint32 = 0xbe7e8ef1
	CRCResPQ              uint32 = 0x05162463
	CRCPQInnerData        uint32 = 0x83c95aec
	CRCReqDHParams        uint32 = 0xd712e4be
	CRCServerDHParamsFail uint32 = 0x79cb045d
	CRCServerDHParamsOK   uint32 = 0xd0e8075c
	CRCServerDHInnerData  uint32 = 0xb5890dba
	CRCClientDHInnerData  uint32 = 0x6643b654
	CRCSetClientDHParams  uint32 = 0xf5045f1f
	CRCDHGenOK            uint32 = 0x3bcbf734
	CRCDHGenRetry         uint32 = 0x46dc1fb9
	CRCDHGenFail          uint32 = 0xa69dae02
)

// ReqPQMulti is the handshake's opening request: a fresh client nonce.
type ReqPQMulti struct {
	Nonce [16]byte
}

func (r *ReqPQMulti) CRC() uint32      { return CRCReqPQMulti }
func (r *ReqPQMulti) Encode(w *Writer) { w.Raw(r.Nonce[:]) }

// ResPQ is the server's reply: its own nonce, the pq semiprime to
// factor, and the fingerprints of the RSA keys it holds.
type ResPQ struct {
	Nonce                       [16]byte
	ServerNonce                 [16]byte
	PQ                          []byte
	ServerPublicKeyFingerprints []uint64
}

// DecodeResPQ parses the body of a res_pq (constructor id already
// consumed).
func DecodeResPQ(r *Reader) (*ResPQ, error) {
	out := &ResPQ{}
	if err := readFixed(r, out.Nonce[:]); err != nil {
		return nil, err
	}
	if err := readFixed(r, out.ServerNonce[:]); err != nil {
		return nil, err
	}
	pq, err := r.BytesField()
	if err != nil {
		return nil, err
	}
	out.PQ = pq
	if _, err := r.Uint32(); err != nil { // vector constructor
		return nil, err
	}
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	out.ServerPublicKeyFingerprints = make([]uint64, 0, count)
	for i := int32(0); i < count; i++ {
		fp, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out.ServerPublicKeyFingerprints = append(out.ServerPublicKeyFingerprints, fp)
	}
	return out, nil
}

func readFixed(r *Reader, dst []byte) error {
	b, err := r.Raw(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// PQInnerData is the plaintext that gets RSA_PAD-encrypted and sent as
// req_DH_params' encrypted_data (§4.3 step 2).
type PQInnerData struct {
	PQ          []byte
	P           []byte
	Q           []byte
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
}

func (p *PQInnerData) CRC() uint32 { return CRCPQInnerData }
func (p *PQInnerData) Encode(w *Writer) {
	w.BytesField(p.PQ)
	w.BytesField(p.P)
	w.BytesField(p.Q)
	w.Raw(p.Nonce[:])
	w.Raw(p.ServerNonce[:])
	w.Raw(p.NewNonce[:])
}

// ReqDHParams is the handshake's second request: the chosen RSA
// fingerprint plus the RSA_PAD-encrypted PQInnerData.
type ReqDHParams struct {
	Nonce                [16]byte
	ServerNonce          [16]byte
	P                    []byte
	Q                    []byte
	PublicKeyFingerprint uint64
	EncryptedData        []byte
}

func (r *ReqDHParams) CRC() uint32 { return CRCReqDHParams }
func (r *ReqDHParams) Encode(w *Writer) {
	w.Raw(r.Nonce[:])
	w.Raw(r.ServerNonce[:])
	w.BytesField(r.P)
	w.BytesField(r.Q)
	w.Uint64(r.PublicKeyFingerprint)
	w.BytesField(r.EncryptedData)
}

// ServerDHParamsOK is the server's successful reply to req_DH_params:
// an AES-IGE-encrypted ServerDHInnerData blob (§4.3 step 3).
type ServerDHParamsOK struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	EncryptedData []byte
}

// ServerDHParamsFail is the server's rejection of req_DH_params.
type ServerDHParamsFail struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

// DecodeServerDHParams decodes whichever of the two server_DH_params
// variants crc identifies.
func DecodeServerDHParams(crc uint32, r *Reader) (interface{}, error) {
	switch crc {
	case CRCServerDHParamsOK:
		out := &ServerDHParamsOK{}
		if err := readFixed(r, out.Nonce[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, out.ServerNonce[:]); err != nil {
			return nil, err
		}
		data, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		out.EncryptedData = data
		return out, nil
	case CRCServerDHParamsFail:
		out := &ServerDHParamsFail{}
		if err := readFixed(r, out.Nonce[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, out.ServerNonce[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, out.NewNonceHash[:]); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, ErrTruncated
	}
}

// ServerDHInnerData is the plaintext carried inside ServerDHParamsOK's
// encrypted_data: the DH prime, generator, and the server's public DH
// value (§4.3 step 3).
type ServerDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	G           int32
	DHPrime     []byte
	GA          []byte
	ServerTime  int32
}

// DecodeServerDHInnerData parses ServerDHInnerData (constructor id
// already consumed).
func DecodeServerDHInnerData(r *Reader) (*ServerDHInnerData, error) {
	out := &ServerDHInnerData{}
	if err := readFixed(r, out.Nonce[:]); err != nil {
		return nil, err
	}
	if err := readFixed(r, out.ServerNonce[:]); err != nil {
		return nil, err
	}
	g, err := r.Int32()
	if err != nil {
		return nil, err
	}
	out.G = g
	dhPrime, err := r.BytesField()
	if err != nil {
		return nil, err
	}
	out.DHPrime = dhPrime
	ga, err := r.BytesField()
	if err != nil {
		return nil, err
	}
	out.GA = ga
	serverTime, err := r.Int32()
	if err != nil {
		return nil, err
	}
	out.ServerTime = serverTime
	return out, nil
}

// ClientDHInnerData is the plaintext carried inside
// set_client_DH_params' encrypted_data: the client's public DH value
// (§4.3 step 4).
type ClientDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	Retry       int64
	GB          []byte
}

func (c *ClientDHInnerData) CRC() uint32 { return CRCClientDHInnerData }
func (c *ClientDHInnerData) Encode(w *Writer) {
	w.Raw(c.Nonce[:])
	w.Raw(c.ServerNonce[:])
	w.Int64(c.Retry)
	w.BytesField(c.GB)
}

// SetClientDHParams is the handshake's final request.
type SetClientDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	EncryptedData []byte
}

func (s *SetClientDHParams) CRC() uint32 { return CRCSetClientDHParams }
func (s *SetClientDHParams) Encode(w *Writer) {
	w.Raw(s.Nonce[:])
	w.Raw(s.ServerNonce[:])
	w.BytesField(s.EncryptedData)
}

// DHGenOK/DHGenRetry/DHGenFail are the three possible replies to
// set_client_DH_params (§4.3 step 4's Done|Retry outcome).
type DHGenOK struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash1 [16]byte
}

type DHGenRetry struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash2 [16]byte
}

type DHGenFail struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash3 [16]byte
}

// DecodeDHGenResult decodes whichever of the three dh_gen_* variants
// crc identifies; all three share the same wire shape.
func DecodeDHGenResult(crc uint32, r *Reader) (interface{}, error) {
	var nonce, serverNonce, hash [16]byte
	if err := readFixed(r, nonce[:]); err != nil {
		return nil, err
	}
	if err := readFixed(r, serverNonce[:]); err != nil {
		return nil, err
	}
	if err := readFixed(r, hash[:]); err != nil {
		return nil, err
	}
	switch crc {
	case CRCDHGenOK:
		return &DHGenOK{Nonce: nonce, ServerNonce: serverNonce, NewNonceHash1: hash}, nil
	case CRCDHGenRetry:
		return &DHGenRetry{Nonce: nonce, ServerNonce: serverNonce, NewNonceHash2: hash}, nil
	case CRCDHGenFail:
		return &DHGenFail{Nonce: nonce, ServerNonce: serverNonce, NewNonceHash3: hash}, nil
	default:
		return nil, ErrTruncated
	}
}
