package sassplay

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStructuredErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantOp   string
		wantMsg  string
		checkFn  func(error) bool
	}{
		{
			name:     "Empty Buffer",
			err:      ErrEmptyBuffer,
			wantKind: KindInvalidArg,
			wantOp:   "Verify",
			wantMsg:  "empty output buffer",
			checkFn:  IsInvalidArgError,
		},
		{
			name:     "Not Executable",
			err:      ErrNotExecutable,
			wantKind: KindInvalidArg,
			wantOp:   "Execute",
			wantMsg:  "artifact has no executable binary",
			checkFn:  IsInvalidArgError,
		},
		{
			name:     "Double Free",
			err:      ErrDoubleFree,
			wantKind: KindMemory,
			wantOp:   "Free",
			wantMsg:  "double free detected",
			checkFn:  IsMemoryError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := tt.err.(*Error)
			if !ok {
				t.Fatalf("Expected *Error, got %T", tt.err)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", e.Kind, tt.wantKind)
			}
			if e.Op != tt.wantOp {
				t.Errorf("Op = %v, want %v", e.Op, tt.wantOp)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("Message = %v, want %v", e.Message, tt.wantMsg)
			}
			if !tt.checkFn(tt.err) {
				t.Errorf("Kind check function returned false")
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	wrappedErr := NewMemoryError("Test", "wrapped error", baseErr)

	if !errors.Is(wrappedErr, baseErr) {
		t.Error("errors.Is() should return true for wrapped error")
	}
	if !strings.Contains(wrappedErr.Error(), "caused by: base error") {
		t.Errorf("Error() = %q, want cause in message", wrappedErr.Error())
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"toolchain", &ToolchainError{Stage: "compile", Tool: "nvcc", Stderr: "boom"}, KindToolchain},
		{"assemble", &AssembleError{Path: "k.cuasm", SyntaxErrors: []SyntaxError{{Line: 3, Message: "bad"}}}, KindToolchain},
		{"stage order", &StageOrderError{Current: StageSource, Target: StageDisassembled, Expected: StageCompiled}, KindStageOrder},
		{"symbol", &SymbolNotFoundError{Name: "vector_add"}, KindSymbolNotFound},
		{"shape", &ShapeMismatchError{Output: 1, Expected: 2}, KindShapeMismatch},
		{"launch", &LaunchError{Phase: "warm-up", Message: "illegal address"}, KindLaunch},
		{"tolerance", &ToleranceError{MaxError: 1, Tolerance: 0.5}, KindTolerance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			got, ok := KindOf(wrapped)
			if !ok {
				t.Fatalf("KindOf(%v) found no kind", wrapped)
			}
			if got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolchainErrorKeepsDiagnosticVerbatim(t *testing.T) {
	stderr := "kernel.cu(12): error: identifier \"blockIdx\" is undefined\n"
	err := &ToolchainError{Stage: "compile", Tool: "nvcc", Stderr: stderr}
	if !strings.Contains(err.Error(), `identifier "blockIdx" is undefined`) {
		t.Errorf("Error() = %q, want raw stderr", err.Error())
	}

	timeout := &ToolchainError{Stage: "assemble", Tool: "cuasm", Timeout: true}
	if timeout.Error() != "assemble: cuasm timed out" {
		t.Errorf("timeout Error() = %q", timeout.Error())
	}
}

func TestSymbolNotFoundMessage(t *testing.T) {
	err := &SymbolNotFoundError{Name: "vectr_add", Candidates: []string{"vector_add", "vector_sub"}}
	want := `entry point "vectr_add" not found (did you mean: vector_add, vector_sub?)`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindToolchain, "Toolchain"},
		{KindStageOrder, "StageOrder"},
		{KindSymbolNotFound, "SymbolNotFound"},
		{KindShapeMismatch, "ShapeMismatch"},
		{KindLaunch, "Launch"},
		{KindTolerance, "Tolerance"},
		{KindInvalidArg, "InvalidArgument"},
		{KindMemory, "Memory"},
		{ErrorKind(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}
