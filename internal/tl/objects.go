package tl

import "fmt"

// Constructor ids for the protocol-level (non-domain) objects the core
// must speak regardless of which concrete business RPCs are layered on
// top of it. Values are Telegram's published CRCs for layer 165.
const (
	CRCMsgContainer        uint32 = 0x73f1f8dc
	CRCRPCResult           uint32 = 0xf35c6d01
	CRCRPCError            uint32 = 0x2144ca19
	CRCGZIPPacked          uint32 = 0x3072cfa1
	CRCBadMsgNotification  uint32 = 0xa7eff811
	CRCBadServerSalt       uint32 = 0xedab447b
	CRCMsgsAck             uint32 = 0x62d6b459
	CRCPing                uint32 = 0x7abe77ec
	CRCPong                uint32 = 0x347773c5
	CRCPingDelayDisconnect uint32 = 0xf3427b8c
	CRCNewSessionCreated   uint32 = 0x9ec20908
	CRCVector              uint32 = 0x1cb5c415

	CRCHelpGetConfig         uint32 = 0xc4f9186b
	CRCUpdatesGetDifference  uint32 = 0x19c2f762
	CRCUpdatesGetChannelDiff uint32 = 0x03173d78
)

// Object is satisfied by every concrete protocol object in this
// package, mirroring the (encode, decode) pair a generated TL codec
// would expose for a constructor.
type Object interface {
	CRC() uint32
	Encode(w *Writer)
}

// EncodeBoxed writes obj's constructor id followed by its body — the
// "boxed" TL encoding used whenever a value's type isn't already known
// from context.
func EncodeBoxed(obj Object) []byte {
	w := NewWriter()
	w.Uint32(obj.CRC())
	obj.Encode(w)
	return w.Bytes()
}

// MsgContainer wraps up to N inner (msg_id, seq_no, body) entries in a
// single outer message (§3 Container, §4.4).
type MsgContainer struct {
	Messages []ContainerMessage
}

// ContainerMessage is one entry of a MsgContainer.
type ContainerMessage struct {
	MsgID int64
	SeqNo int32
	Body  []byte
}

func (m *MsgContainer) CRC() uint32 { return CRCMsgContainer }

func (m *MsgContainer) Encode(w *Writer) {
	w.Int32(int32(len(m.Messages)))
	for _, inner := range m.Messages {
		w.Int64(inner.MsgID)
		w.Int32(inner.SeqNo)
		w.Int32(int32(len(inner.Body)))
		w.Raw(inner.Body)
	}
}

// DecodeMsgContainer parses the body of a msg_container (the
// constructor id must already have been consumed).
func DecodeMsgContainer(r *Reader) (*MsgContainer, error) {
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	out := &MsgContainer{Messages: make([]ContainerMessage, 0, count)}
	for i := int32(0); i < count; i++ {
		msgID, err := r.Int64()
		if err != nil {
			return nil, err
		}
		seqNo, err := r.Int32()
		if err != nil {
			return nil, err
		}
		length, err := r.Int32()
		if err != nil {
			return nil, err
		}
		body, err := r.Raw(int(length))
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, ContainerMessage{MsgID: msgID, SeqNo: seqNo, Body: append([]byte(nil), body...)})
	}
	return out, nil
}

// RPCResult is the reply envelope for a content-related request: the
// id it replies to, followed by the raw (still-boxed) result object,
// an rpc_error, or a gzip_packed wrapper (§3 RpcResult).
type RPCResult struct {
	ReqMsgID int64
	Body     []byte
}

func (r *RPCResult) CRC() uint32 { return CRCRPCResult }
func (r *RPCResult) Encode(w *Writer) {
	w.Int64(r.ReqMsgID)
	w.Raw(r.Body)
}

// DecodeRPCResult parses the body of an rpc_result.
func DecodeRPCResult(r *Reader) (*RPCResult, error) {
	id, err := r.Int64()
	if err != nil {
		return nil, err
	}
	return &RPCResult{ReqMsgID: id, Body: append([]byte(nil), r.Remaining()...)}, nil
}

// RPCError is a server-originated RPC failure (§3, §6, §7).
type RPCError struct {
	ErrorCode    int32
	ErrorMessage string
}

func (e *RPCError) CRC() uint32 { return CRCRPCError }
func (e *RPCError) Encode(w *Writer) {
	w.Int32(e.ErrorCode)
	w.String(e.ErrorMessage)
}

// DecodeRPCError parses the body of an rpc_error.
func DecodeRPCError(r *Reader) (*RPCError, error) {
	code, err := r.Int32()
	if err != nil {
		return nil, err
	}
	msg, err := r.String()
	if err != nil {
		return nil, err
	}
	return &RPCError{ErrorCode: code, ErrorMessage: msg}, nil
}

// GZIPPacked wraps a gzip-compressed boxed object (§4.4 gzip heuristic).
type GZIPPacked struct {
	PackedData []byte
}

func (g *GZIPPacked) CRC() uint32      { return CRCGZIPPacked }
func (g *GZIPPacked) Encode(w *Writer) { w.BytesField(g.PackedData) }

// DecodeGZIPPacked parses the body of a gzip_packed.
func DecodeGZIPPacked(r *Reader) (*GZIPPacked, error) {
	data, err := r.BytesField()
	if err != nil {
		return nil, err
	}
	return &GZIPPacked{PackedData: data}, nil
}

// BadMsgNotification signals a message-id/seq problem the sender must
// correct and retry (§4.5 bad-msg codes 16/17/32/33/64).
type BadMsgNotification struct {
	BadMsgID    int64
	BadMsgSeqno int32
	ErrorCode   int32
}

func (b *BadMsgNotification) CRC() uint32 { return CRCBadMsgNotification }
func (b *BadMsgNotification) Encode(w *Writer) {
	w.Int64(b.BadMsgID)
	w.Int32(b.BadMsgSeqno)
	w.Int32(b.ErrorCode)
}

// DecodeBadMsgNotification parses the body of a bad_msg_notification.
func DecodeBadMsgNotification(r *Reader) (*BadMsgNotification, error) {
	id, err := r.Int64()
	if err != nil {
		return nil, err
	}
	seqno, err := r.Int32()
	if err != nil {
		return nil, err
	}
	code, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return &BadMsgNotification{BadMsgID: id, BadMsgSeqno: seqno, ErrorCode: code}, nil
}

// BadServerSalt signals the session salt is stale and supplies the
// replacement (§4.5 bad-salt code 48).
type BadServerSalt struct {
	BadMsgID      int64
	BadMsgSeqno   int32
	ErrorCode     int32
	NewServerSalt int64
}

func (b *BadServerSalt) CRC() uint32 { return CRCBadServerSalt }
func (b *BadServerSalt) Encode(w *Writer) {
	w.Int64(b.BadMsgID)
	w.Int32(b.BadMsgSeqno)
	w.Int32(b.ErrorCode)
	w.Int64(b.NewServerSalt)
}

// DecodeBadServerSalt parses the body of a bad_server_salt.
func DecodeBadServerSalt(r *Reader) (*BadServerSalt, error) {
	id, err := r.Int64()
	if err != nil {
		return nil, err
	}
	seqno, err := r.Int32()
	if err != nil {
		return nil, err
	}
	code, err := r.Int32()
	if err != nil {
		return nil, err
	}
	salt, err := r.Int64()
	if err != nil {
		return nil, err
	}
	return &BadServerSalt{BadMsgID: id, BadMsgSeqno: seqno, ErrorCode: code, NewServerSalt: salt}, nil
}

// MsgsAck piggybacks or stand-alone acks a batch of inbound
// content-related message ids (§4.5 ack policy).
type MsgsAck struct {
	MsgIDs []int64
}

func (m *MsgsAck) CRC() uint32 { return CRCMsgsAck }
func (m *MsgsAck) Encode(w *Writer) {
	w.Uint32(CRCVector)
	w.Int32(int32(len(m.MsgIDs)))
	for _, id := range m.MsgIDs {
		w.Int64(id)
	}
}

// DecodeMsgsAck parses the body of a msgs_ack.
func DecodeMsgsAck(r *Reader) (*MsgsAck, error) {
	if _, err := r.Uint32(); err != nil { // vector constructor
		return nil, err
	}
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, count)
	for i := int32(0); i < count; i++ {
		id, err := r.Int64()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return &MsgsAck{MsgIDs: ids}, nil
}

// Ping is sent by either peer to probe liveness.
type Ping struct{ PingID int64 }

func (p *Ping) CRC() uint32      { return CRCPing }
func (p *Ping) Encode(w *Writer) { w.Int64(p.PingID) }

// Pong is the reply to a Ping or PingDelayDisconnect.
type Pong struct {
	MsgID  int64
	PingID int64
}

func (p *Pong) CRC() uint32 { return CRCPong }
func (p *Pong) Encode(w *Writer) {
	w.Int64(p.MsgID)
	w.Int64(p.PingID)
}

// DecodePong parses the body of a pong.
func DecodePong(r *Reader) (*Pong, error) {
	msgID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	pingID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	return &Pong{MsgID: msgID, PingID: pingID}, nil
}

// PingDelayDisconnect is the network driver's keepalive RPC (§4.6):
// the server is asked to drop the connection if no further ping
// arrives within DisconnectDelay.
type PingDelayDisconnect struct {
	PingID          int64
	DisconnectDelay int32
}

func (p *PingDelayDisconnect) CRC() uint32 { return CRCPingDelayDisconnect }
func (p *PingDelayDisconnect) Encode(w *Writer) {
	w.Int64(p.PingID)
	w.Int32(p.DisconnectDelay)
}

// NewSessionCreated is sent by the server the first time a session id
// is used successfully.
type NewSessionCreated struct {
	FirstMsgID int64
	UniqueID   int64
	ServerSalt int64
}

func (n *NewSessionCreated) CRC() uint32 { return CRCNewSessionCreated }
func (n *NewSessionCreated) Encode(w *Writer) {
	w.Int64(n.FirstMsgID)
	w.Int64(n.UniqueID)
	w.Int64(n.ServerSalt)
}

// DecodeNewSessionCreated parses the body of a new_session_created.
func DecodeNewSessionCreated(r *Reader) (*NewSessionCreated, error) {
	firstMsgID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	uniqueID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	salt, err := r.Int64()
	if err != nil {
		return nil, err
	}
	return &NewSessionCreated{FirstMsgID: firstMsgID, UniqueID: uniqueID, ServerSalt: salt}, nil
}

// HelpGetConfig is the parameterless request used by the fresh-connect
// end-to-end scenario (§8 scenario 1).
type HelpGetConfig struct{}

func (h *HelpGetConfig) CRC() uint32      { return CRCHelpGetConfig }
func (h *HelpGetConfig) Encode(w *Writer) {}

// UpdatesGetDifference requests the server's delta for a gap the
// reconciler has detected (§4.8).
type UpdatesGetDifference struct {
	PTS  int32
	Date int32
	QTS  int32
}

func (u *UpdatesGetDifference) CRC() uint32 { return CRCUpdatesGetDifference }
func (u *UpdatesGetDifference) Encode(w *Writer) {
	w.Int32(u.PTS)
	w.Int32(u.Date)
	w.Int32(u.QTS)
}

// UpdatesGetChannelDifference requests a per-channel delta (§4.8).
type UpdatesGetChannelDifference struct {
	ChannelID int64
	PTS       int32
	Limit     int32
}

func (u *UpdatesGetChannelDifference) CRC() uint32 { return CRCUpdatesGetChannelDiff }
func (u *UpdatesGetChannelDifference) Encode(w *Writer) {
	w.Int64(u.ChannelID)
	w.Int32(u.PTS)
	w.Int32(u.Limit)
}

// DecodeBoxed reads the leading constructor id from data and decodes
// the matching protocol-level object. Unknown constructors (i.e. the
// concrete domain RPC results a TL-generated codec would know about)
// are returned as RawObject so the caller can hand them upstream
// un-interpreted.
func DecodeBoxed(data []byte) (interface{}, error) {
	r := NewReader(data)
	crc, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	switch crc {
	case CRCMsgContainer:
		return DecodeMsgContainer(r)
	case CRCRPCResult:
		return DecodeRPCResult(r)
	case CRCRPCError:
		return DecodeRPCError(r)
	case CRCGZIPPacked:
		return DecodeGZIPPacked(r)
	case CRCBadMsgNotification:
		return DecodeBadMsgNotification(r)
	case CRCBadServerSalt:
		return DecodeBadServerSalt(r)
	case CRCMsgsAck:
		return DecodeMsgsAck(r)
	case CRCPong:
		return DecodePong(r)
	case CRCNewSessionCreated:
		return DecodeNewSessionCreated(r)
	case CRCUpdateShortMessage:
		return DecodeUpdateShortMessage(r)
	case CRCUpdateShortChatMsg:
		return DecodeUpdateShortChatMessage(r)
	case CRCUpdateShortSentMsg:
		return DecodeUpdateShortSentMessage(r)
	default:
		return &RawObject{CRCValue: crc, Body: append([]byte(nil), r.Remaining()...)}, nil
	}
}

// RawObject is an un-decoded boxed TL value: a constructor id this
// package does not itself know the shape of (a domain RPC result)
// plus its remaining bytes, handed upstream to a TL-generated decoder.
type RawObject struct {
	CRCValue uint32
	Body     []byte
}

func (o *RawObject) CRC() uint32 { return o.CRCValue }
func (o *RawObject) Encode(w *Writer) {
	w.Raw(o.Body)
}

func (o *RawObject) String() string {
	return fmt.Sprintf("tl.RawObject{CRC: %#x, %d bytes}", o.CRCValue, len(o.Body))
}
