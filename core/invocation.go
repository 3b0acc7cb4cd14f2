package core

import "encoding/json"

// InvocationStatus is the outcome class of one tool invocation.
type InvocationStatus string

const (
	// InvocationOK marks a successful invocation with a result payload.
	InvocationOK InvocationStatus = "ok"
	// InvocationError marks a failed invocation carrying an error detail.
	// Non-fatal by contract: failures become tool turns, not loop crashes.
	InvocationError InvocationStatus = "error"
)

// InvocationRequest asks the tool server to run one tool. ID is unique within
// a query and correlates the matching InvocationResult; the loop guarantees
// every request has exactly one result appended before the next model call.
type InvocationRequest struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// InvocationResult is the single response to an InvocationRequest.
type InvocationResult struct {
	ID     string           `json:"id"`
	Tool   string           `json:"tool"`
	Status InvocationStatus `json:"status"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`

	// TransientError records a transport failure that was recovered by an
	// automatic reconnect-and-retry. Populated only when the session is
	// configured to surface such failures; the loop turns it into a visible
	// tool-error note ahead of the actual result.
	TransientError string `json:"transient_error,omitempty"`
}

// ErrorResult builds the error-payload result for a request. Used for tool
// failures, schema rejections and transport exhaustion alike so the loop has
// one shape to fold back into the conversation.
func ErrorResult(req InvocationRequest, err error) InvocationResult {
	return InvocationResult{
		ID:     req.ID,
		Tool:   req.Tool,
		Status: InvocationError,
		Error:  err.Error(),
	}
}

// Content renders the result as the text content of a tool turn.
func (r InvocationResult) Content() string {
	if r.Status == InvocationError {
		return "error: " + r.Error
	}
	return string(r.Result)
}
