package builtin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/seantiz/dutharness/internal/testcase"
)

const (
	defaultSleep      = time.Second
	defaultSleepSteps = 1
)

// Sleep waits for a duration, reporting progress at evenly spaced steps.
// Arguments: [duration [steps]].
type Sleep struct {
	duration time.Duration
	steps    int
}

func (s *Sleep) Configure(args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("sleep takes at most 2 arguments, got %d: %w", len(args), testcase.ErrInvalidArgs)
	}

	s.duration = defaultSleep
	s.steps = defaultSleepSteps

	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d < 0 {
			return fmt.Errorf("invalid duration %q: %w", args[0], testcase.ErrInvalidArgs)
		}
		s.duration = d
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid step count %q: %w", args[1], testcase.ErrInvalidArgs)
		}
		s.steps = n
	}
	return nil
}

func (s *Sleep) Execute(ctx context.Context, cb testcase.Callback) error {
	interval := s.duration / time.Duration(s.steps)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i := 1; i <= s.steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		cb.DebugData(fmt.Sprintf("step %d/%d", i, s.steps))
		timer.Reset(interval)
	}

	cb.ResultData("slept " + s.duration.String())
	return nil
}
