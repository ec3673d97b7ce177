package domain

// Ack is the structured reply to a client event. Successful replies carry
// the created id next to success ({success, messageId}); failures carry
// {success:false, error, code}.
type Ack struct {
	Success        bool   `json:"success"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// OK returns a successful ack.
func OK() Ack {
	return Ack{Success: true}
}

// OKData returns a successful ack carrying data.
func OKData(data any) Ack {
	return Ack{Success: true, Data: data}
}

// Fail returns a failed ack.
func Fail(code, message string) Ack {
	return Ack{Success: false, Error: message, Code: code}
}

// Retryable reports whether the failure is transient.
func (a Ack) Retryable() bool {
	return !a.Success && Retryable(a.Code)
}
