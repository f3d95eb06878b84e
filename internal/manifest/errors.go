package manifest

import (
	"errors"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported manifest format")
	ErrWrongKind         = errors.New("unexpected manifest kind")
)

// ValidationError collects every structural issue found in a manifest.
type ValidationError struct {
	Source string
	Issues []string
}

func (e *ValidationError) Error() string {
	prefix := "manifest validation failed"
	if e.Source != "" {
		prefix = "manifest " + e.Source + " validation failed"
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

// AddDiagnostics records the error diagnostics of an HCL operation.
func (e *ValidationError) AddDiagnostics(diags hcl.Diagnostics) {
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			continue
		}
		e.Add(diag.Error())
	}
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
