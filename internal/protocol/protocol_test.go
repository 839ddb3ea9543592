package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	apperrors "callrelay-backend/pkg/errors"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDecode_CallOffer(t *testing.T) {
	target := uuid.New()
	data := frame(t, map[string]any{
		"type":      "call-offer",
		"target_id": target,
		"sdp":       map[string]any{"type": "offer", "sdp": testSDP},
		"call_kind": "video",
	})

	msg, err := Decode(data)

	require.NoError(t, err)
	offer, ok := msg.(CallOffer)
	require.True(t, ok)
	assert.Equal(t, target, *offer.TargetID)
	assert.Nil(t, offer.RoomID)
	assert.Equal(t, domain.CallKindVideo, offer.CallKind)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.SDP.Type)
}

func TestDecode_CallOffer_Invalid(t *testing.T) {
	target := uuid.New()
	sdp := map[string]any{"type": "offer", "sdp": testSDP}

	tests := []struct {
		name string
		body map[string]any
		code apperrors.ErrorCode
	}{
		{"no target", map[string]any{"type": "call-offer", "sdp": sdp, "call_kind": "audio"}, apperrors.ErrCodeMissingField},
		{"two targets", map[string]any{"type": "call-offer", "target_id": target, "room_id": target, "sdp": sdp, "call_kind": "audio"}, apperrors.ErrCodeValidation},
		{"no kind", map[string]any{"type": "call-offer", "target_id": target, "sdp": sdp}, apperrors.ErrCodeMissingField},
		{"bad kind", map[string]any{"type": "call-offer", "target_id": target, "sdp": sdp, "call_kind": "hologram"}, apperrors.ErrCodeValidation},
		{"no sdp", map[string]any{"type": "call-offer", "target_id": target, "call_kind": "audio"}, apperrors.ErrCodeMissingField},
		{"answer sdp", map[string]any{"type": "call-offer", "target_id": target, "sdp": map[string]any{"type": "answer", "sdp": testSDP}, "call_kind": "audio"}, apperrors.ErrCodeValidation},
		{"garbage sdp", map[string]any{"type": "call-offer", "target_id": target, "sdp": map[string]any{"type": "offer", "sdp": "hello"}, "call_kind": "audio"}, apperrors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(frame(t, tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, TypeCallOffer, msg.Type())
		})
	}
}

func TestDecode_GroupMessages(t *testing.T) {
	room, peer := uuid.New(), uuid.New()

	msg, err := Decode(frame(t, map[string]any{
		"type":      "group-call-answer",
		"room_id":   room,
		"peer_id":   peer,
		"sdp":       map[string]any{"type": "answer", "sdp": testSDP},
		"call_kind": "audio",
	}))
	require.NoError(t, err)
	assert.Equal(t, room, msg.(GroupAnswer).RoomID)

	msg, err = Decode(frame(t, map[string]any{
		"type":      "group-call-ice-candidate",
		"room_id":   room,
		"peer_id":   peer,
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", "sdpMid": "0"},
		"call_kind": "video",
	}))
	require.NoError(t, err)
	ice := msg.(GroupICECandidate)
	require.NotNil(t, ice.Candidate.SDPMid)
	assert.Equal(t, "0", *ice.Candidate.SDPMid)

	_, err = Decode(frame(t, map[string]any{"type": "group-call-user-left"}))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	msg, err = Decode(frame(t, map[string]any{"type": "group-call-user-left", "room_id": room}))
	require.NoError(t, err)
	assert.Equal(t, room, msg.(GroupLeave).RoomID)
}

func TestDecode_Envelope(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = Decode([]byte(`{"token":"x"}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	msg, err := Decode([]byte(`{"type":"teleport"}`))
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownMessage))

	msg, err = Decode([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, msg.Type())

	msg, err = Decode([]byte(`{"type":"call-end","call_id":"not-a-uuid"}`))
	require.Error(t, err)
	assert.Equal(t, TypeCallEnd, msg.Type())
}

func TestDecode_ChatMessage(t *testing.T) {
	room := uuid.New()

	_, err := Decode(frame(t, map[string]any{"type": "chat-message", "room_id": room, "content": "   "}))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	msg, err := Decode(frame(t, map[string]any{"type": "chat-message", "room_id": room, "content": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.(ChatMessage).Content)
}

func TestEvent_Encode(t *testing.T) {
	callID := uuid.New()
	event := NewEvent(EventCallEnded, CallEndedData{EndedBy: callID, Duration: 3}).
		WithKind(domain.CallKindAudio).
		WithCall(callID)

	data, err := event.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "call-ended", decoded["type"])
	assert.Equal(t, "audio", decoded["call_kind"])
	assert.Equal(t, callID.String(), decoded["call_id"])
	assert.NotContains(t, decoded, "room_id")
	assert.NotContains(t, decoded, "dedupe_key")
}

func TestErrorEvent(t *testing.T) {
	event := ErrorEvent(apperrors.CallNotFoundError(), TypeCallAnswer)
	data := event.Data.(ErrorData)
	assert.Equal(t, "CALL_NOT_FOUND", data.Code)
	assert.Equal(t, TypeCallAnswer, data.Action)

	event = ErrorEvent(errors.New("pq: connection reset"), TypeCallEnd)
	data = event.Data.(ErrorData)
	assert.Equal(t, "INTERNAL_ERROR", data.Code)
	assert.NotContains(t, data.Message, "pq")
}
