package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-sync/pkg/log"
)

// Audit actions.
const (
	ActionConversationCreate = "conversation.create"
	ActionConversationJoin   = "conversation.join"
	ActionConversationLeave  = "conversation.leave"
	ActionConversationDelete = "conversation.delete"
	ActionFriendRequest      = "friend.request"
	ActionFriendAccept       = "friend.accept"
	ActionFriendReject       = "friend.reject"
	ActionFriendRemove       = "friend.remove"
)

// Field constants for audit entries.
const (
	FieldTarget = "target"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, target, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTarget, target).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, target, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTarget, target).
		Str(FieldDetail, detail).
		Msg(msg)
}
