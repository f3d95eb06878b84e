package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/mlpipe/internal/environments"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
	"github.com/animus-labs/mlpipe/internal/manifest"
	"github.com/animus-labs/mlpipe/internal/samples"
	"github.com/animus-labs/mlpipe/internal/submission"
	"github.com/animus-labs/mlpipe/internal/workspace"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

var (
	errUsage  = errors.New("usage")
	errConfig = errors.New("invalid configuration")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps configuration and validation failures to 2 and everything
// else (auth, platform, submission) to 1.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var verr *manifest.ValidationError
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, errConfig),
		errors.Is(err, workspace.ErrConfiguration),
		errors.As(err, &verr),
		errors.Is(err, manifest.ErrUnsupportedFormat),
		errors.Is(err, manifest.ErrWrongKind),
		errors.Is(err, submission.ErrInvalidRequest),
		errors.Is(err, environments.ErrInvalidEnvironment),
		errors.Is(err, samples.ErrUnknownSample),
		pipeline.IsBuildError(err):
		return exitConfig
	default:
		return exitFailed
	}
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func configErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", errConfig, what, err)
}
