package domain

// Client → server events.
const (
	EventMessageSend        = "message:send"
	EventMessageRead        = "message:read"
	EventMessageDelete      = "message:delete"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventTypingGet          = "typing:get"
	EventUserGetStatus      = "user:get-status"
	EventConversationCreate = "conversation:create"
	EventConversationJoin   = "conversation:join"
	EventConversationLeave  = "conversation:leave"
	EventFriendRequest      = "friend:request"
	EventFriendAccept       = "friend:accept"
	EventFriendReject       = "friend:reject"
	EventFriendRemove       = "friend:remove"
	EventPing               = "ping"
)

// Server → client events.
const (
	EventAck                   = "ack"
	EventError                 = "error"
	EventPong                  = "pong"
	EventMessageNew            = "message:new"
	EventUserSeen              = "user:seen"
	EventMessageDeleted        = "message:deleted"
	EventUserOnline            = "user:online"
	EventUserOffline           = "user:offline"
	EventConversationCreated   = "conversation:created"
	EventConversationDeleted   = "conversation:deleted"
	EventConversationJoined    = "conversation:member-joined"
	EventConversationLeft      = "conversation:member-left"
	EventFriendRequestReceived = "friend:request-received"
	EventFriendRequestAccepted = "friend:request-accepted"
	EventFriendRequestRejected = "friend:request-rejected"
	EventFriendRemoved         = "friend:removed"
)

// SeenEvent is relayed as user:seen.
type SeenEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	MessageID      string `json:"messageId"`
}

// MessageDeletedEvent is relayed as message:deleted.
type MessageDeletedEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// TypingEvent is relayed as typing:start and typing:stop.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ConversationDeletedEvent is relayed as conversation:deleted.
type ConversationDeletedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MemberEvent is relayed as conversation:member-joined and -left.
type MemberEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// FriendEvent notifies the counterpart of a friendship change.
type FriendEvent struct {
	UserID     string      `json:"userId"`
	Friendship *Friendship `json:"friendship,omitempty"`
}
