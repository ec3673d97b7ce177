package domain

import "encoding/json"

// Frame is the websocket envelope in both directions:
//
//	{"event":"message:send","ackId":"7","data":{...}}
//	{"event":"ack","ackId":"7","data":{"success":true,"messageId":"..."}}
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event, ackID string, data any) ([]byte, error) {
	f := Frame{Event: event, AckID: ackID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// DecodeFrame parses an inbound frame.
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
