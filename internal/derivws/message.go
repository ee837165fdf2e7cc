package derivws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is an outbound API message. The client adds req_id on Call.
type Request map[string]any

// Type returns the first known message key of the request, for logging.
func (r Request) Type() string {
	for _, key := range []string{"authorize", "transaction", "proposal", "buy", "proposal_open_contract", "ticks", "forget", "ping"} {
		if _, ok := r[key]; ok {
			return key
		}
	}
	return "unknown"
}

// APIError is the error payload returned by the platform for a rejected request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrNoPayload is returned by Decode when the response carries no body under the requested key.
var ErrNoPayload = errors.New("derivws: response has no payload")

// Response is an inbound API message. The envelope fields are decoded eagerly; the
// body is kept raw and decoded on demand with Decode.
type Response struct {
	MsgType        string
	ReqID          int64
	Error          *APIError
	SubscriptionID string

	raw json.RawMessage
}

type envelope struct {
	MsgType      string    `json:"msg_type"`
	ReqID        int64     `json:"req_id"`
	Error        *APIError `json:"error"`
	Subscription *struct {
		ID string `json:"id"`
	} `json:"subscription"`
}

// UnmarshalJSON decodes the envelope and retains the raw message.
func (r *Response) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.MsgType = env.MsgType
	r.ReqID = env.ReqID
	r.Error = env.Error
	r.SubscriptionID = ""
	if env.Subscription != nil {
		r.SubscriptionID = env.Subscription.ID
	}
	r.raw = append(r.raw[:0], data...)
	return nil
}

// ParseResponse decodes a raw inbound message.
func ParseResponse(data []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}

// Raw returns the undecoded message.
func (r Response) Raw() json.RawMessage { return r.raw }

// Decode unmarshals the body stored under key (usually the msg_type) into v.
func (r Response) Decode(key string, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.raw, &fields); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	body, ok := fields[key]
	if !ok || string(body) == "null" {
		return fmt.Errorf("%w: %s", ErrNoPayload, key)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
