package verifier

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds recorded on validation logs
const (
	KindTimeout         = "TIMEOUT"
	KindExternalProcess = "EXTERNAL_PROCESS"
	KindMalformedOutput = "MALFORMED_OUTPUT"
	KindUnknown         = "UNKNOWN"
)

// TimeoutError is returned when the verifier outlives its deadline. The
// process has been killed by the time the error is returned.
type TimeoutError struct {
	Timeout time.Duration
	Stdout  []byte
	Stderr  []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("verifier timed out after %s", e.Timeout)
}

// ExternalProcessError is returned when the verifier could not be started or
// exited with a non-zero code.
type ExternalProcessError struct {
	ExitCode int
	Stderr   []byte
	Err      error
}

func (e *ExternalProcessError) Error() string {
	msg := fmt.Sprintf("verifier exited with code %d", e.ExitCode)
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		msg += ": " + truncate(stderr, 512)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// MalformedOutputError is returned when the verifier exited cleanly but its
// stdout does not satisfy the result schema.
type MalformedOutputError struct {
	Raw []byte
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed verifier output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// Kind names the invocation failure for logs and metrics
func Kind(err error) string {
	var (
		timeoutErr   *TimeoutError
		processErr   *ExternalProcessError
		malformedErr *MalformedOutputError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &processErr):
		return KindExternalProcess
	case errors.As(err, &malformedErr):
		return KindMalformedOutput
	default:
		return KindUnknown
	}
}

// Output returns whatever the process wrote before failing
func Output(err error) (stdout, stderr []byte) {
	var (
		timeoutErr   *TimeoutError
		processErr   *ExternalProcessError
		malformedErr *MalformedOutputError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return timeoutErr.Stdout, timeoutErr.Stderr
	case errors.As(err, &processErr):
		return nil, processErr.Stderr
	case errors.As(err, &malformedErr):
		return malformedErr.Raw, nil
	}
	return nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
