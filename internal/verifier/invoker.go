package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type InputMode string

const (
	// InputModeArgs passes the request as discrete command-line flags
	InputModeArgs InputMode = "args"
	// InputModeFile writes the request to a temp JSON file passed as --input
	InputModeFile InputMode = "file"
)

const (
	DefaultTimeout        = 60 * time.Second
	DefaultMaxOutputBytes = 1 << 20

	waitDelay = 500 * time.Millisecond
)

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// inheritedEnv lists the only parent environment variables the verifier sees
var inheritedEnv = []string{"PATH", "HOME", "LANG", "TMPDIR"}

// Config configuration for the verification program
type Config struct {
	Program        string        `json:"program"`
	Args           []string      `json:"args"`
	Timeout        time.Duration `json:"timeout"`
	InputMode      InputMode     `json:"input_mode"`
	MaxOutputBytes int           `json:"max_output_bytes"`
	WorkDir        string        `json:"work_dir"`
	Env            []string      `json:"env"`
}

// Field is one public application field forwarded to the verifier
type Field struct {
	Name  string
	Value string
}

// DocumentRef points the verifier at an uploaded document
type DocumentRef struct {
	DocumentType string
	URL          string
}

// Request is everything the verifier receives for one application
type Request struct {
	ApplicationID string
	Fields        []Field
	Documents     []DocumentRef
}

// Invoker runs the verification program for one application
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// ProcessInvoker runs the verifier as a child process, without a shell
type ProcessInvoker struct {
	config Config
	logger *zap.Logger
}

// NewProcessInvoker creates a new invoker
func NewProcessInvoker(config Config, logger *zap.Logger) (*ProcessInvoker, error) {
	if strings.TrimSpace(config.Program) == "" {
		return nil, errors.New("verifier program is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultMaxOutputBytes
	}
	switch config.InputMode {
	case "":
		config.InputMode = InputModeArgs
	case InputModeArgs, InputModeFile:
	default:
		return nil, fmt.Errorf("unsupported verifier input mode %q", config.InputMode)
	}

	return &ProcessInvoker{config: config, logger: logger}, nil
}

// Invoke runs the verifier and parses its report
func (i *ProcessInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	args := append([]string(nil), i.config.Args...)

	switch i.config.InputMode {
	case InputModeFile:
		path, err := writeInputFile(req)
		if err != nil {
			return nil, &ExternalProcessError{ExitCode: -1, Err: err}
		}
		defer os.Remove(path)
		args = append(args, "--input", path)
	default:
		reqArgs, err := BuildArgs(req)
		if err != nil {
			return nil, &ExternalProcessError{ExitCode: -1, Err: err}
		}
		args = append(args, reqArgs...)
	}

	runCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	stdout := newLimitedBuffer(i.config.MaxOutputBytes)
	stderr := newLimitedBuffer(i.config.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, i.config.Program, args...)
	cmd.Dir = i.config.WorkDir
	cmd.Env = i.environment()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		i.logger.Warn("Verifier timed out",
			zap.String("application_id", req.ApplicationID),
			zap.Duration("timeout", i.config.Timeout))
		return nil, &TimeoutError{
			Timeout: i.config.Timeout,
			Stdout:  stdout.Bytes(),
			Stderr:  stderr.Bytes(),
		}
	}

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		i.logger.Warn("Verifier failed",
			zap.String("application_id", req.ApplicationID),
			zap.Int("exit_code", exitCode),
			zap.Duration("duration", duration),
			zap.Error(runErr))
		return nil, &ExternalProcessError{
			ExitCode: exitCode,
			Stderr:   stderr.Bytes(),
			Err:      runErr,
		}
	}

	if stdout.Truncated() {
		return nil, &MalformedOutputError{
			Raw: stdout.Bytes(),
			Err: fmt.Errorf("output exceeded %d bytes", i.config.MaxOutputBytes),
		}
	}

	result, err := Parse(stdout.Bytes())
	if err != nil {
		i.logger.Warn("Verifier returned malformed output",
			zap.String("application_id", req.ApplicationID),
			zap.Error(err))
		return nil, err
	}

	i.logger.Info("Verifier finished",
		zap.String("application_id", req.ApplicationID),
		zap.String("validation_status", string(result.ValidationStatus)),
		zap.Duration("duration", duration))

	return result, nil
}

func (i *ProcessInvoker) environment() []string {
	env := make([]string, 0, len(inheritedEnv)+len(i.config.Env))
	for _, name := range inheritedEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return append(env, i.config.Env...)
}

// BuildArgs renders a request as
//
//	--application_id <id> [--<field> <value>]... [--document_type <t> --document_url <u>]...
//
// Values starting with "-" are joined to their flag with "=".
func BuildArgs(req Request) ([]string, error) {
	if req.ApplicationID == "" {
		return nil, errors.New("application id is required")
	}

	args := flag(nil, "application_id", req.ApplicationID)
	for _, f := range req.Fields {
		if !fieldNamePattern.MatchString(f.Name) {
			return nil, fmt.Errorf("invalid field name %q", f.Name)
		}
		args = flag(args, f.Name, f.Value)
	}
	for _, d := range req.Documents {
		args = flag(args, "document_type", d.DocumentType)
		args = flag(args, "document_url", d.URL)
	}
	return args, nil
}

func flag(args []string, name, value string) []string {
	if strings.HasPrefix(value, "-") {
		return append(args, "--"+name+"="+value)
	}
	return append(args, "--"+name, value)
}

type inputDocument struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type inputFile struct {
	ApplicationID string            `json:"application_id"`
	Application   map[string]string `json:"application"`
	Documents     []inputDocument   `json:"documents"`
}

func writeInputFile(req Request) (string, error) {
	payload := inputFile{
		ApplicationID: req.ApplicationID,
		Application:   make(map[string]string, len(req.Fields)),
		Documents:     make([]inputDocument, 0, len(req.Documents)),
	}
	for _, f := range req.Fields {
		payload.Application[f.Name] = f.Value
	}
	for _, d := range req.Documents {
		payload.Documents = append(payload.Documents, inputDocument{Type: d.DocumentType, Path: d.URL})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode verifier input: %w", err)
	}

	f, err := os.CreateTemp("", "loan_data_*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create verifier input file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write verifier input file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close verifier input file: %w", err)
	}
	return f.Name(), nil
}

// limitedBuffer keeps the first max bytes written and discards the rest so
// the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *limitedBuffer) Truncated() bool { return b.truncated }
