package profile

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/GindaChen/nsys-tui/internal/errors"
)

// RepExt is the extension of raw Nsight Systems captures.
const RepExt = ".nsys-rep"

// SnapshotExt is the extension of exported SQLite snapshots.
const SnapshotExt = ".sqlite"

// RunFunc runs an external command and returns its stdout and stderr.
type RunFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Converter turns .nsys-rep captures into SQLite snapshots with `nsys export`.
type Converter struct {
	// Tool is the nsys binary name or path.
	Tool string
	// Timeout bounds one export run. Zero means no limit.
	Timeout time.Duration

	lookPath func(string) (string, error)
	run      RunFunc
}

// NewConverter returns a Converter that executes tool through os/exec.
func NewConverter(tool string, timeout time.Duration) *Converter {
	if tool == "" {
		tool = "nsys"
	}
	return &Converter{
		Tool:     tool,
		Timeout:  timeout,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// IsRep reports whether path names a raw capture (case-insensitive extension match).
func IsRep(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), RepExt)
}

// OutputPath returns the snapshot path an export of rep writes to.
func OutputPath(rep string) string {
	return rep[:len(rep)-len(RepExt)] + SnapshotExt
}

// Convert exports rep to a sibling .sqlite file, overwriting any previous export,
// and returns the snapshot path.
func (c *Converter) Convert(ctx context.Context, rep string) (string, error) {
	bin, err := c.lookPath(c.Tool)
	if err != nil {
		return "", errors.NewExternalToolMissing(c.Tool)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	out := OutputPath(rep)
	stdout, stderr, err := c.run(ctx, bin,
		"export", "--type", "sqlite", "--force-overwrite", "true", "-o", out, rep)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.NewConversionFailed(
				fmt.Sprintf("timed out after %g seconds", c.Timeout.Seconds()))
		}
		return "", errors.NewConversionFailed(diagnostic(stdout, stderr, err))
	}
	return out, nil
}

// diagnostic picks the most useful text from a failed run: stderr, then stdout,
// then the process error.
func diagnostic(stdout, stderr []byte, err error) string {
	if s := strings.TrimSpace(string(stderr)); s != "" {
		return s
	}
	if s := strings.TrimSpace(string(stdout)); s != "" {
		return s
	}
	return err.Error()
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
