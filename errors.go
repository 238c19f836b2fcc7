// Package sassplay structured error types for better error handling
package sassplay

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind represents categories of errors
type ErrorKind int

const (
	// External tool failures (compiler, disassembler, assembler)
	KindToolchain ErrorKind = iota
	// Out-of-sequence pipeline invocation
	KindStageOrder
	// Entry point missing from a module
	KindSymbolNotFound
	// Output and expected buffers differ in length
	KindShapeMismatch
	// Device execution fault
	KindLaunch
	// Strict-mode tolerance failure
	KindTolerance
	// Invalid argument errors
	KindInvalidArg
	// Device memory errors
	KindMemory
)

// String returns the error kind as a string
func (k ErrorKind) String() string {
	switch k {
	case KindToolchain:
		return "Toolchain"
	case KindStageOrder:
		return "StageOrder"
	case KindSymbolNotFound:
		return "SymbolNotFound"
	case KindShapeMismatch:
		return "ShapeMismatch"
	case KindLaunch:
		return "Launch"
	case KindTolerance:
		return "Tolerance"
	case KindInvalidArg:
		return "InvalidArgument"
	case KindMemory:
		return "Memory"
	default:
		return "Unknown"
	}
}

// Error represents a structured error with context
type Error struct {
	Kind    ErrorKind
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error in %s: %s (caused by: %v)", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind reports the category of the error.
func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &Error{Kind: KindInvalidArg, Op: op, Message: message}
}

// NewMemoryError creates a memory-related error
func NewMemoryError(op string, message string, err error) error {
	return &Error{Kind: KindMemory, Op: op, Message: message, Err: err}
}

// Common pre-defined errors

var (
	// ErrEmptyBuffer indicates verification of a zero-length buffer
	ErrEmptyBuffer = NewInvalidArgError("Verify", "empty output buffer")

	// ErrNotExecutable indicates an artifact without a binary representation
	ErrNotExecutable = NewInvalidArgError("Execute", "artifact has no executable binary")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)

	// ErrToolUnavailable indicates a toolchain executable that failed the capability probe
	ErrToolUnavailable = errors.New("tool unavailable")
)

// ToolchainError carries the raw diagnostic text of a failed external tool.
// It is scoped to one pipeline stage; earlier artifacts stay usable.
type ToolchainError struct {
	Stage   string // compile, disassemble, assemble, probe
	Tool    string
	Stderr  string
	Timeout bool
	Err     error
}

func (e *ToolchainError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: %s timed out", e.Stage, e.Tool)
	case e.Stderr != "":
		return fmt.Sprintf("%s: %s failed: %s", e.Stage, e.Tool, strings.TrimSpace(e.Stderr))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s failed: %v", e.Stage, e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s: %s failed", e.Stage, e.Tool)
	}
}

func (e *ToolchainError) Unwrap() error         { return e.Err }
func (e *ToolchainError) ErrorKind() ErrorKind { return KindToolchain }

// SyntaxError is one assembler diagnostic. Line is 1-based; 0 means the
// assembler did not report a position.
type SyntaxError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (s SyntaxError) String() string {
	if s.Line > 0 {
		return fmt.Sprintf("line %d: %s", s.Line, s.Message)
	}
	return s.Message
}

// AssembleError is returned when edited text cannot be assembled. SyntaxErrors
// is never empty.
type AssembleError struct {
	Path         string
	SyntaxErrors []SyntaxError
	Stderr       string
}

func (e *AssembleError) Error() string {
	msgs := make([]string, 0, len(e.SyntaxErrors))
	for _, s := range e.SyntaxErrors {
		msgs = append(msgs, s.String())
	}
	return fmt.Sprintf("assemble %s: %d syntax error(s): %s", e.Path, len(e.SyntaxErrors), strings.Join(msgs, "; "))
}

func (e *AssembleError) ErrorKind() ErrorKind { return KindToolchain }

// StageOrderError reports an out-of-sequence pipeline invocation.
type StageOrderError struct {
	ArtifactID string
	Current    Stage
	Target     Stage
	Expected   Stage // predecessor the target requires
}

func (e *StageOrderError) Error() string {
	return fmt.Sprintf("artifact %s: cannot advance %s -> %s: expected predecessor %s",
		e.ArtifactID, e.Current, e.Target, e.Expected)
}

func (e *StageOrderError) ErrorKind() ErrorKind { return KindStageOrder }

// SymbolNotFoundError reports a missing entry point along with up to three
// similarly named candidates.
type SymbolNotFoundError struct {
	Name       string
	Candidates []string
}

func (e *SymbolNotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("entry point %q not found", e.Name)
	}
	return fmt.Sprintf("entry point %q not found (did you mean: %s?)", e.Name, strings.Join(e.Candidates, ", "))
}

func (e *SymbolNotFoundError) ErrorKind() ErrorKind { return KindSymbolNotFound }

// ShapeMismatchError reports output and expected buffers of different length.
type ShapeMismatchError struct {
	Output   int
	Expected int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: output has %d elements, expected %d", e.Output, e.Expected)
}

func (e *ShapeMismatchError) ErrorKind() ErrorKind { return KindShapeMismatch }

// LaunchError is a device execution fault. Message is the raw device diagnostic.
type LaunchError struct {
	Entry   string
	Phase   string // load, warm-up, repetition N, copy
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("launch failed during %s: %s", e.Phase, e.Message)
	}
	return fmt.Sprintf("launch of %s failed during %s: %s", e.Entry, e.Phase, e.Message)
}

func (e *LaunchError) Unwrap() error         { return e.Err }
func (e *LaunchError) ErrorKind() ErrorKind { return KindLaunch }

// ToleranceError is only produced in strict mode; otherwise a failing
// verdict is plain data.
type ToleranceError struct {
	MaxError  float64
	Index     int
	Tolerance float64
	Mode      ToleranceMode
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("%s error %g at index %d exceeds tolerance %g", e.Mode, e.MaxError, e.Index, e.Tolerance)
}

func (e *ToleranceError) ErrorKind() ErrorKind { return KindTolerance }

type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind(), true
	}
	return 0, false
}

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsToolchainError checks if an error is a toolchain error
func IsToolchainError(err error) bool { return isKind(err, KindToolchain) }

// IsStageOrderError checks if an error is a stage order error
func IsStageOrderError(err error) bool { return isKind(err, KindStageOrder) }

// IsLaunchError checks if an error is a device launch error
func IsLaunchError(err error) bool { return isKind(err, KindLaunch) }

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool { return isKind(err, KindInvalidArg) }

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool { return isKind(err, KindMemory) }
