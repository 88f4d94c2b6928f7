package builtin

import (
	"context"
	"slices"
	"strings"

	"github.com/seantiz/dutharness/internal/testcase"
)

// Echo reports each argument as debug data and their space-joined
// concatenation as the result.
type Echo struct {
	args []string
}

func (e *Echo) Configure(args []string) error {
	e.args = slices.Clone(args)
	return nil
}

func (e *Echo) Execute(_ context.Context, cb testcase.Callback) error {
	for _, a := range e.args {
		cb.DebugData(a)
	}
	cb.ResultData(strings.Join(e.args, " "))
	return nil
}
