package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusSent))
	assert.True(t, StatusSent.CanTransition(StatusDelivered))
	assert.True(t, StatusDelivered.CanTransition(StatusSeen))
	assert.True(t, StatusPending.CanTransition(StatusSeen))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.CanTransition(StatusSent))

	assert.False(t, StatusSeen.CanTransition(StatusDelivered))
	assert.False(t, StatusSent.CanTransition(StatusPending))
	assert.False(t, StatusSent.CanTransition(StatusFailed))
	assert.False(t, StatusSent.CanTransition(StatusSent))

	assert.Equal(t, StatusSeen, StatusSent.Max(StatusSeen))
	assert.Equal(t, StatusSeen, StatusSeen.Max(StatusSent))
	assert.Equal(t, StatusSent, MessageStatus("").Max(StatusSent))
}

func TestValidateMessageSend(t *testing.T) {
	ok := MessageSendPayload{ConversationID: "c1", Content: "hi", Type: ConversationGroup}
	assert.NoError(t, Validate(&ok))

	err := Validate(&MessageSendPayload{ConversationID: "c1", Content: "hi", Type: ConversationPrivate})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "receiverId", verr.Field)
	assert.Equal(t, "receiverId is required", err.Error())

	err = Validate(&MessageSendPayload{ConversationID: "c1", Content: "hi", Type: "broadcast"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)

	err = Validate(&MessageSendPayload{Content: "hi", Type: ConversationGroup})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "conversationId", verr.Field)
}

func TestValidateConversationCreate(t *testing.T) {
	err := Validate(&ConversationCreatePayload{ParticipantIDs: []string{"u2", ""}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "participantIds", verr.Field)

	assert.Error(t, Validate(&ConversationCreatePayload{}))
	assert.NoError(t, Validate(&ConversationCreatePayload{ParticipantIDs: []string{"u2"}}))
}

func TestValidateStoryNeedsContentOrMedia(t *testing.T) {
	assert.Error(t, Validate(&StoryCreatePayload{}))
	assert.NoError(t, Validate(&StoryCreatePayload{Content: "hello"}))
	assert.NoError(t, Validate(&StoryCreatePayload{MediaURL: "https://cdn.example.com/a.png"}))
}

func TestAckShape(t *testing.T) {
	b, err := json.Marshal(Ack{Success: true, MessageID: "m1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"messageId":"m1"}`, string(b))

	b, err = json.Marshal(Fail(CodeValidation, "conversationId is required"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"conversationId is required","code":"VALIDATION_ERROR"}`, string(b))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(CodeInternal))
	assert.True(t, Fail(CodeTimeout, "x").Retryable())
	assert.False(t, Retryable(CodeValidation))
	assert.False(t, Retryable(CodeUnknownAction))
	assert.False(t, OK().Retryable())
}

func TestFrameRoundTrip(t *testing.T) {
	b, err := EncodeFrame(EventAck, "7", OK())
	require.NoError(t, err)

	f, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, EventAck, f.Event)
	assert.Equal(t, "7", f.AckID)
	assert.JSONEq(t, `{"success":true}`, string(f.Data))
}

func TestConversationHelpers(t *testing.T) {
	c := Conversation{Type: ConversationPrivate, Participants: []Participant{{UserID: "a"}, {UserID: "b"}}}
	assert.False(t, c.IsGroup())
	assert.True(t, c.HasParticipant("a"))
	assert.False(t, c.HasParticipant("z"))
	assert.Equal(t, "b", c.Counterpart("a"))
}

func TestDeltaEmpty(t *testing.T) {
	d := DeltaResponse{}
	assert.True(t, d.Empty())
	d.DeletedStoryIDs = []string{"s"}
	assert.False(t, d.Empty())
}
