package optrace

import (
	"fmt"
	"strings"
	"time"

	"github.com/opview/optrace/internal/optraceutil"
)

// Stopwatch measures monotonic elapsed time for an operation, optionally
// split into named laps. It's not safe for concurrent use; callers that share
// a stopwatch must provide their own synchronization, which [Operation] does.
type Stopwatch struct {
	now   func() time.Time
	begin time.Time
	last  time.Time
	laps  map[string]lap
	order []string
}

type lap struct {
	n int
	d time.Duration
}

// NewStopwatch returns a stopwatch which starts counting immediately.
func NewStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	begin := now()
	return &Stopwatch{
		now:   now,
		begin: begin,
		last:  begin,
		laps:  map[string]lap{},
	}
}

// Lap records the time since the previous lap (or since construction) under
// the given name, and returns that delta. Repeated laps with the same name
// accumulate.
func (s *Stopwatch) Lap(name string) time.Duration {
	now := s.now()
	took := now.Sub(s.last)
	s.last = now
	lap, ok := s.laps[name]
	if !ok {
		s.order = append(s.order, name)
	}
	lap.n += 1
	lap.d += took
	s.laps[name] = lap
	return took
}

// Report returns a human-readable summary of the named lap.
func (s *Stopwatch) Report(name string) string {
	switch lap := s.laps[name]; lap.n {
	case 0:
		return fmt.Sprintf("%s n/a", name)
	case 1:
		return fmt.Sprintf("%s %s", name, optraceutil.HumanizeDuration(lap.d))
	default:
		return fmt.Sprintf("%s %dx%s=%s", name, lap.n, optraceutil.HumanizeDuration(lap.d/time.Duration(lap.n)), optraceutil.HumanizeDuration(lap.d))
	}
}

// Overall returns the total time since construction.
func (s *Stopwatch) Overall() time.Duration {
	return s.now().Sub(s.begin)
}

// String renders all laps in recording order, followed by cumulative and
// overall totals.
func (s *Stopwatch) String() string {
	overall := fmt.Sprintf("overall %s", optraceutil.HumanizeDuration(s.Overall()))

	if len(s.order) <= 0 {
		return overall
	}

	var (
		cum  time.Duration
		laps []string
	)
	for _, name := range s.order {
		cum += s.laps[name].d
		laps = append(laps, s.Report(name))
	}

	sums := []string{
		fmt.Sprintf("cumulative %s", optraceutil.HumanizeDuration(cum)),
		overall,
	}

	var (
		lapTimes = strings.Join(laps, ", ")
		sumTimes = strings.Join(sums, ", ")
		allTimes = strings.Join([]string{lapTimes, sumTimes}, "; ")
	)
	return allTimes
}
