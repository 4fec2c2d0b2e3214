// pkg/wire/error.go
package wire

import "encoding/json"

// RemoteError is a request-level failure signalled by the remote service
// inside a reply frame. It is not retried: a delivered application-level
// error is not the kind of failure retries can fix.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// errorBody mirrors the shapes an embedded error object can take.
type errorBody struct {
	Error json.RawMessage `json:"error,omitempty"`
}

type errorDetail struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ExtractError inspects a frame for a remote-signalled error, checked in two
// places: directly on the frame, or nested inside its response object.
// It returns nil when the frame carries no error.
func ExtractError(f *Frame) *RemoteError {
	if raw := f.Error; len(raw) > 0 && string(raw) != "null" {
		return remoteError(raw)
	}
	if len(f.Response) == 0 || string(f.Response) == "null" {
		return nil
	}
	var body errorBody
	if err := json.Unmarshal(f.Response, &body); err != nil {
		return nil
	}
	if len(body.Error) > 0 && string(body.Error) != "null" {
		return remoteError(body.Error)
	}
	return nil
}

// remoteError extracts a human-readable message from an error value,
// preferring a message field, then a type field, then a generic string.
func remoteError(raw json.RawMessage) *RemoteError {
	var detail errorDetail
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return &RemoteError{Message: detail.Message}
		}
		if detail.Type != "" {
			return &RemoteError{Message: detail.Type}
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &RemoteError{Message: s}
	}
	return &RemoteError{Message: "request failed"}
}
