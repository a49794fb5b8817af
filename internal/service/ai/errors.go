package ai

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrMalformedResponse marks a success status whose payload had no usable choice.
var ErrMalformedResponse = errors.New("malformed upstream response")

// maxErrorBody caps how much of a failed upstream body is retained.
const maxErrorBody = 64 << 10

// UpstreamError reports a failed call to a remote model.
type UpstreamError struct {
	Op         string
	StatusCode int
	// Body is the raw response body of a non-success status.
	Body   string
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("upstream")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MalformedResponse builds the error for a success status without choices.
func MalformedResponse(op string) *UpstreamError {
	return &UpstreamError{Op: op, Reason: "no choices in response", Err: ErrMalformedResponse}
}

// StatusError builds an UpstreamError from a non-success HTTP response and
// consumes its body.
func StatusError(op string, resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}

// AsUpstreamError normalises any model-call failure into an UpstreamError,
// keeping status and body when the transport captured them.
func AsUpstreamError(op string, err error) error {
	if err == nil {
		return nil
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Op == "" {
			copied := *upstream
			copied.Op = op
			return &copied
		}
		return upstream
	}

	return &UpstreamError{Op: op, Reason: err.Error(), Err: err}
}
