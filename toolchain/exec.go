package toolchain

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

// run executes one tool with the configured timeout and returns its
// stdout. The tool's process group is killed when the deadline passes.
func (t *Toolchain) run(ctx context.Context, stage string, tool ToolStatus, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool.Path, args...)
	setupProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	t.log.Debug("running tool", zap.String("stage", stage), zap.String("tool", tool.Name), zap.Strings("args", args))
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.log.Warn("tool timed out",
			zap.String("stage", stage),
			zap.String("tool", tool.Name),
			zap.Duration("timeout", t.opts.Timeout))
		return nil, &sassplay.ToolchainError{
			Stage:   stage,
			Tool:    tool.Name,
			Stderr:  stderr.String(),
			Timeout: true,
			Err:     ctx.Err(),
		}
	}
	if err != nil {
		t.log.Info("tool failed",
			zap.String("stage", stage),
			zap.String("tool", tool.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &sassplay.ToolchainError{
			Stage:  stage,
			Tool:   tool.Name,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	t.log.Debug("tool finished", zap.String("tool", tool.Name), zap.Duration("elapsed", elapsed))
	return stdout.Bytes(), nil
}
