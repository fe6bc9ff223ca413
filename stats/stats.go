package stats

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

type Type int

const (
	Refreshed Type = iota
	Records
	Skipped
	Failed
)

func (t Type) String() string {
	switch t {
	case Refreshed:
		return "refreshed"
	case Records:
		return "records"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

type Stats struct {
	start    time.Time
	counters map[Type]*atomic.Int32
}

func (s *Stats) Add(t Type, delta int) int {
	return int(s.counters[t].Add(int32(delta))) //nolint:gosec
}

func (s *Stats) Value(t Type) int {
	return int(s.counters[t].Load())
}

func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.start)
}

func (s *Stats) Print(w io.Writer) {
	components := []string{
		"refreshed %d times",
		"loaded %d records",
		"skipped %d records",
		"failed %d refreshes in %v",
		"",
	}

	_, _ = fmt.Fprintf(w,
		strings.Join(components, "\n"),
		s.Value(Refreshed),
		s.Value(Records),
		s.Value(Skipped),
		s.Value(Failed),
		s.Elapsed().Round(time.Millisecond),
	)
}

func New() Stats {
	// init counters
	counters := make(map[Type]*atomic.Int32)
	counters[Refreshed] = &atomic.Int32{}
	counters[Records] = &atomic.Int32{}
	counters[Skipped] = &atomic.Int32{}
	counters[Failed] = &atomic.Int32{}

	return Stats{
		start:    time.Now(),
		counters: counters,
	}
}
