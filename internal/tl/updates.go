package tl

// Constructor ids for the update-envelope constructors the reconciler
// (§4.8) needs to recognize. updates#74ae4240 and updatesCombined#725b04c3
// carry a Vector<Update>/Vector<User>/Vector<Chat> ahead of their
// seq_start/seq/date fields; decoding those vectors requires the full,
// ever-growing domain schema this package deliberately does not
// generate (§1), so DecodeBoxed hands them back as RawObject and the
// reconciler treats their CRC alone as a signal. The three "short"
// variants below carry no such vectors and are fully decoded here.
const (
	CRCUpdates            uint32 = 0x74ae4240
	CRCUpdatesCombined    uint32 = 0x725b04c3
	CRCUpdateShort        uint32 = 0x78d4dec1
	CRCUpdatesTooLong     uint32 = 0xe317af7e
	CRCUpdateShortMessage uint32 = 0x313bad74
	CRCUpdateShortChatMsg uint32 = 0x16812688
	CRCUpdateShortSentMsg uint32 = 0x9015e101
)

// UpdateShortMessage is a private-chat message delivered outside a
// full updates/updatesCombined container. Its fixed, vector-free
// layout (flags, id, user_id, message, pts, pts_count, date, ...) lets
// this package decode the fields the reconciler needs (pts, pts_count,
// date) without the optional trailing fields (fwd_from, entities, ...)
// that follow them.
type UpdateShortMessage struct {
	Flags    int32
	ID       int32
	UserID   int64
	Message  string
	PTS      int32
	PTSCount int32
	Date     int32
}

func (u *UpdateShortMessage) CRC() uint32 { return CRCUpdateShortMessage }
func (u *UpdateShortMessage) Encode(w *Writer) {
	w.Int32(u.Flags)
	w.Int32(u.ID)
	w.Int64(u.UserID)
	w.String(u.Message)
	w.Int32(u.PTS)
	w.Int32(u.PTSCount)
	w.Int32(u.Date)
}

// DecodeUpdateShortMessage parses the fixed prefix of an
// updateShortMessage body; any trailing optional fields are left
// unread.
func DecodeUpdateShortMessage(r *Reader) (*UpdateShortMessage, error) {
	u := &UpdateShortMessage{}
	var err error
	if u.Flags, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.ID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.UserID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.Message, err = r.String(); err != nil {
		return nil, err
	}
	if u.PTS, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PTSCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateShortChatMessage is updateShortMessage's group-chat sibling:
// the same pts/pts_count/date fields, with an extra from_id/chat_id
// pair ahead of the message text.
type UpdateShortChatMessage struct {
	Flags    int32
	ID       int32
	FromID   int64
	ChatID   int64
	Message  string
	PTS      int32
	PTSCount int32
	Date     int32
}

func (u *UpdateShortChatMessage) CRC() uint32 { return CRCUpdateShortChatMsg }
func (u *UpdateShortChatMessage) Encode(w *Writer) {
	w.Int32(u.Flags)
	w.Int32(u.ID)
	w.Int64(u.FromID)
	w.Int64(u.ChatID)
	w.String(u.Message)
	w.Int32(u.PTS)
	w.Int32(u.PTSCount)
	w.Int32(u.Date)
}

// DecodeUpdateShortChatMessage parses the fixed prefix of an
// updateShortChatMessage body.
func DecodeUpdateShortChatMessage(r *Reader) (*UpdateShortChatMessage, error) {
	u := &UpdateShortChatMessage{}
	var err error
	if u.Flags, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.ID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.FromID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.ChatID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.Message, err = r.String(); err != nil {
		return nil, err
	}
	if u.PTS, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PTSCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateShortSentMessage confirms a message this client itself sent;
// it carries no message text, only the scalars the reconciler needs.
type UpdateShortSentMessage struct {
	Flags    int32
	ID       int32
	PTS      int32
	PTSCount int32
	Date     int32
}

func (u *UpdateShortSentMessage) CRC() uint32 { return CRCUpdateShortSentMsg }
func (u *UpdateShortSentMessage) Encode(w *Writer) {
	w.Int32(u.Flags)
	w.Int32(u.ID)
	w.Int32(u.PTS)
	w.Int32(u.PTSCount)
	w.Int32(u.Date)
}

// DecodeUpdateShortSentMessage parses the fixed prefix of an
// updateShortSentMessage body.
func DecodeUpdateShortSentMessage(r *Reader) (*UpdateShortSentMessage, error) {
	u := &UpdateShortSentMessage{}
	var err error
	if u.Flags, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.ID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PTS, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PTSCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}
