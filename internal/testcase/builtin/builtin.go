// Package builtin provides the test cases shipped with the harness.
package builtin

import (
	"fmt"

	"github.com/seantiz/dutharness/internal/testcase"
)

// Built-in test case names.
const (
	NameEcho    = "echo"
	NameSleep   = "sleep"
	NameCommand = "command"
)

// Register adds every built-in test case to reg.
func Register(reg *testcase.Registry) error {
	ctors := []struct {
		name string
		ctor testcase.Constructor
	}{
		{NameEcho, func() testcase.TestCase { return &Echo{} }},
		{NameSleep, func() testcase.TestCase { return &Sleep{} }},
		{NameCommand, func() testcase.TestCase { return &Command{} }},
	}

	for _, c := range ctors {
		if err := reg.Register(c.name, c.ctor); err != nil {
			return fmt.Errorf("register built-in test cases: %w", err)
		}
	}
	return nil
}
