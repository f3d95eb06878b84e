package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateStepName    = errors.New("duplicate step name")
	ErrUnknownStep          = errors.New("unknown step")
	ErrUnknownOutput        = errors.New("unknown output")
	ErrUnknownInput         = errors.New("unknown input")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrInputAlreadyBound    = errors.New("input already bound")
	ErrUnboundInput         = errors.New("unbound input")
	ErrDuplicateOutput      = errors.New("duplicate pipeline output")
	ErrEmptyPipeline        = errors.New("pipeline has no steps")
	ErrMissingComputeTarget = errors.New("compute target is required")
)

// BuildError reports a graph construction or validation failure together with
// the offending step and port.
type BuildError struct {
	Op     string
	Step   string
	Port   string
	Detail string
	Err    error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("pipeline error")
	}
	switch {
	case e.Step != "" && e.Port != "":
		fmt.Fprintf(&b, " (step %q, port %q)", e.Step, e.Port)
	case e.Step != "":
		fmt.Fprintf(&b, " (step %q)", e.Step)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErr(op string, err error, step, port, detail string) *BuildError {
	return &BuildError{Op: op, Step: step, Port: port, Detail: detail, Err: err}
}
