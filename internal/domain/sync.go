package domain

import (
	"encoding/json"
	"time"
)

// Action names the deferred operation a QueueItem carries.
type Action string

const (
	ActionMessageSend        Action = "MESSAGE_SEND"
	ActionMessageRead        Action = "MESSAGE_READ"
	ActionMessageDelete      Action = "MESSAGE_DELETE"
	ActionConversationCreate Action = "CONVERSATION_CREATE"
	ActionConversationDelete Action = "CONVERSATION_DELETE"
	ActionStoryCreate        Action = "STORY_CREATE"
	ActionStoryDelete        Action = "STORY_DELETE"
)

// QueueItem is a pending outbound operation.
type QueueItem struct {
	ID        string          `json:"id"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"lastError,omitempty"`
}

// NewQueueItem marshals payload into a QueueItem.
func NewQueueItem(id string, action Action, payload any) (QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueItem{}, err
	}
	return QueueItem{ID: id, Action: action, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

// ItemStatus is the outcome of one flushed item.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
)

// FlushResult reports the outcome of one QueueItem.
type FlushResult struct {
	ID        string     `json:"id"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// Succeeded returns a success result for id.
func Succeeded(id string) FlushResult {
	return FlushResult{ID: id, Status: ItemSuccess}
}

// Failed returns a failure result for id.
func Failed(id, code, message string) FlushResult {
	return FlushResult{ID: id, Status: ItemFailed, Error: message, Code: code, Retryable: Retryable(code)}
}

// FlushResponse is the body of POST /sync.
type FlushResponse struct {
	Success bool          `json:"success"`
	Results []FlushResult `json:"results"`
}

// DeltaResponse is the body of GET /sync.
type DeltaResponse struct {
	Success                bool           `json:"success"`
	Messages               []Message      `json:"messages"`
	Conversations          []Conversation `json:"conversations"`
	Users                  []User         `json:"users"`
	Stories                []Story        `json:"stories"`
	DeletedMessageIDs      []string       `json:"deletedMessageIds"`
	DeletedConversationIDs []string       `json:"deletedConversationIds"`
	DeletedStoryIDs        []string       `json:"deletedStoryIds"`
	Timestamp              time.Time      `json:"timestamp"`
}

// Empty reports whether the delta carries no changes.
func (d *DeltaResponse) Empty() bool {
	return len(d.Messages) == 0 && len(d.Conversations) == 0 && len(d.Users) == 0 &&
		len(d.Stories) == 0 && len(d.DeletedMessageIDs) == 0 &&
		len(d.DeletedConversationIDs) == 0 && len(d.DeletedStoryIDs) == 0
}

// InitialSyncResponse is the body of GET /initial-sync.
type InitialSyncResponse struct {
	Success       bool           `json:"success"`
	Users         []User         `json:"users"`
	Conversations []Conversation `json:"conversations"`
	Timestamp     time.Time      `json:"timestamp"`
}
