package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/dutharness/internal/testcase"
)

// CommandResult is the JSON result delivered by the command test case.
type CommandResult struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Command runs a program on the DUT, streaming each output line as debug
// data. Arguments: [bin, args...].
type Command struct {
	bin  string
	args []string
}

func (c *Command) Configure(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("command requires a program: %w", testcase.ErrInvalidArgs)
	}
	bin, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("program %q: %v: %w", args[0], err, testcase.ErrInvalidArgs)
	}
	c.bin = bin
	c.args = slices.Clone(args[1:])
	return nil
}

func (c *Command) Execute(ctx context.Context, cb testcase.Callback) error {
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.bin, c.args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Go(func() { streamLines(cb, stdoutPipe, &stdout) })
	wg.Go(func() { streamLines(cb, stderrPipe, &stderr) })
	wg.Wait()

	waitErr := cmd.Wait()

	res := CommandResult{
		Output:     stdout.String() + stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if waitErr != nil {
		res.Error = waitErr.Error()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	cb.ResultData(string(data))
	return nil
}

// streamLines reports each line read from r as debug data and appends it
// to output.
func streamLines(cb testcase.Callback, r io.Reader, output *strings.Builder) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		output.WriteString(line + "\n")
		cb.DebugData(line)
	}
	// Keep the pipe drained if a line overflowed the scanner.
	_, _ = io.Copy(io.Discard, r)
}
