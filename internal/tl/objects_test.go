package tl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesFieldRoundTrip(t *testing.T) {
	for _, s := range [][]byte{
		{},
		[]byte("hi"),
		make([]byte, 253),
		make([]byte, 254),
		make([]byte, 1000),
	} {
		w := NewWriter()
		w.BytesField(s)
		require.Equal(t, 0, w.Len()%4)

		r := NewReader(w.Bytes())
		got, err := r.BytesField()
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, 0, r.Len())
	}
}

func TestMsgContainerRoundTrip(t *testing.T) {
	c := &MsgContainer{Messages: []ContainerMessage{
		{MsgID: 1, SeqNo: 1, Body: []byte("one")},
		{MsgID: 2, SeqNo: 3, Body: []byte("two")},
	}}
	encoded := EncodeBoxed(c)

	decoded, err := DecodeBoxed(encoded)
	require.NoError(t, err)
	got, ok := decoded.(*MsgContainer)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	require.Equal(t, int64(1), got.Messages[0].MsgID)
	require.Equal(t, []byte("two"), got.Messages[1].Body)
}

func TestRPCResultAndErrorRoundTrip(t *testing.T) {
	res := &RPCResult{ReqMsgID: 42, Body: []byte{1, 2, 3, 4}}
	decoded, err := DecodeBoxed(EncodeBoxed(res))
	require.NoError(t, err)
	got := decoded.(*RPCResult)
	require.Equal(t, int64(42), got.ReqMsgID)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Body)

	rpcErr := &RPCError{ErrorCode: 420, ErrorMessage: "FLOOD_WAIT_30"}
	decoded, err = DecodeBoxed(EncodeBoxed(rpcErr))
	require.NoError(t, err)
	gotErr := decoded.(*RPCError)
	require.Equal(t, int32(420), gotErr.ErrorCode)
	require.Equal(t, "FLOOD_WAIT_30", gotErr.ErrorMessage)
}

func TestMsgsAckRoundTrip(t *testing.T) {
	ack := &MsgsAck{MsgIDs: []int64{10, 20, 30}}
	decoded, err := DecodeBoxed(EncodeBoxed(ack))
	require.NoError(t, err)
	got := decoded.(*MsgsAck)
	require.Equal(t, []int64{10, 20, 30}, got.MsgIDs)
}

func TestUnknownConstructorSurfacesAsRawObject(t *testing.T) {
	w := NewWriter()
	w.Uint32(0xaabbccdd)
	w.Int32(7)
	decoded, err := DecodeBoxed(w.Bytes())
	require.NoError(t, err)
	raw := decoded.(*RawObject)
	require.Equal(t, uint32(0xaabbccdd), raw.CRC())
}
