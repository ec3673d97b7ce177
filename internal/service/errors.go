package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/weiawesome/wes-io-live/chat-sync/internal/backplane"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-sync/internal/repository"
)

var (
	ErrTypeMismatch     = &domain.ValidationError{Field: "type", Rule: "mismatch"}
	ErrReceiverMismatch = &domain.ValidationError{Field: "receiverId", Rule: "mismatch"}
	errMalformed        = &domain.ValidationError{Field: "payload", Rule: "json"}
)

// ErrorCode maps err to a stable failure code and a client-safe message.
func ErrorCode(err error) (string, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return domain.CodeValidation, verr.Error()
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, repository.ErrStoryNotFound),
		errors.Is(err, repository.ErrFriendRequestNotFound),
		errors.Is(err, repository.ErrFriendshipNotFound):
		return domain.CodeNotFound, err.Error()
	case errors.Is(err, repository.ErrNotParticipant),
		errors.Is(err, repository.ErrForbidden):
		return domain.CodeForbidden, err.Error()
	case errors.Is(err, repository.ErrInvalidConversation),
		errors.Is(err, repository.ErrInvalidFriendship):
		return domain.CodeValidation, err.Error()
	case errors.Is(err, repository.ErrIDConflict),
		errors.Is(err, repository.ErrAlreadyFriends):
		return domain.CodeConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.CodeTimeout, "request timed out"
	case errors.Is(err, backplane.ErrClosed), errors.Is(err, context.Canceled):
		return domain.CodeUnavailable, "service unavailable"
	default:
		return domain.CodeInternal, "internal error"
	}
}

// ErrorAck maps err to a failed ack.
func ErrorAck(err error) domain.Ack {
	code, msg := ErrorCode(err)
	return domain.Fail(code, msg)
}

// Decode unmarshals and validates a payload.
func Decode[T any](data json.RawMessage) (*T, error) {
	var p T
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errMalformed
	}
	if err := domain.Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
