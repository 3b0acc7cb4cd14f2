package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLoopLimitExceeded terminates a query whose reasoning loop performed more
// model/tool iterations than the configured cap allows.
var ErrLoopLimitExceeded = errors.New("loop iteration limit exceeded")

// ErrQueryDeadlineExceeded terminates a query that outlived the coordinator's
// overall per-query deadline. Distinct from a per-call model timeout, which is
// retried.
var ErrQueryDeadlineExceeded = errors.New("query deadline exceeded")

// ErrSessionClosed is returned for operations against a closed tool session.
var ErrSessionClosed = errors.New("tool server session is closed")

// ConnectionError reports that the tool server transport could not be
// established after the retry policy was exhausted. The session is marked
// Failed when this surfaces.
type ConnectionError struct {
	Endpoint string // transport description (command line, URL)
	Attempts int    // connect attempts performed
	Err      error  // last underlying transport error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server unreachable at %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolInvocationError reports a failure of the tool itself (the server ran it
// and returned an error payload). It is non-fatal: the loop folds it into the
// conversation as a tool turn so the model can adapt.
type ToolInvocationError struct {
	Tool    string
	Message string
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// SchemaValidationError reports arguments rejected before dispatch because
// they do not satisfy the tool descriptor's schema, or because the requested
// tool is not in the catalog at all (Violations then explains that).
type SchemaValidationError struct {
	Tool       string
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("arguments for tool %s rejected: %s", e.Tool, strings.Join(e.Violations, "; "))
}

// ModelTimeoutError reports a single generation call exceeding its per-call
// deadline. Retried with backoff up to the configured attempt cap.
type ModelTimeoutError struct {
	Timeout time.Duration
}

func (e *ModelTimeoutError) Error() string {
	return fmt.Sprintf("model call exceeded %s deadline", e.Timeout)
}

// MalformedResponseError reports unparseable model output. Never retried by
// the client; the loop surfaces it as an error turn and may re-prompt once.
type MalformedResponseError struct {
	Raw string // offending fragment, truncated for logs
	Err error
}

func (e *MalformedResponseError) Error() string {
	raw := e.Raw
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("malformed model response %q: %v", raw, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
