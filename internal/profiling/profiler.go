// Package profiling attaches a short CPU profile summary to measured executions.
//
// DESIGN: runtime/pprof allows one CPU profile per process, so the profiler
// takes a TryLock: when another measurement is already profiling, the new one
// simply runs unprofiled. The raw profile is parsed with google/pprof and
// reduced to the top-N functions by flat and cumulative samples.
package profiling

import (
	"bytes"
	"fmt"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog/log"
)

// DefaultTopN is the number of functions listed when the config leaves it unset.
const DefaultTopN = 10

// Config controls profiling of measured executions.
type Config struct {
	Enabled bool `yaml:"enabled"`
	TopN    int  `yaml:"top_n"`
}

// Profiler captures CPU profiles around measured executions.
type Profiler struct {
	cfg Config
	mu  sync.Mutex
}

// New creates a profiler. A nil *Profiler is valid and never profiles.
func New(cfg Config) *Profiler {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	return &Profiler{cfg: cfg}
}

// Enabled reports whether Start may profile.
func (p *Profiler) Enabled() bool {
	return p != nil && p.cfg.Enabled
}

// Start begins a CPU profile and returns a function that stops it and returns
// the summary. When profiling is disabled or busy the returned function
// returns "".
func (p *Profiler) Start() (stop func() string) {
	noop := func() string { return "" }
	if !p.Enabled() || !p.mu.TryLock() {
		return noop
	}

	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		// Another CPU profile is running outside this package, e.g. go test -cpuprofile.
		p.mu.Unlock()
		log.Debug().Err(err).Msg("profiling: cpu profile unavailable")
		return noop
	}

	var once sync.Once
	var summary string
	return func() string {
		once.Do(func() {
			pprof.StopCPUProfile()
			p.mu.Unlock()

			prof, err := profile.Parse(&buf)
			if err != nil {
				log.Debug().Err(err).Msg("profiling: parse failed")
				return
			}
			summary = Summarize(prof, p.cfg.TopN)
		})
		return summary
	}
}

// FunctionStat aggregates samples for one function.
type FunctionStat struct {
	Name string
	Flat int64 // samples where the function was the leaf
	Cum  int64 // samples where the function was anywhere on the stack
}

// TopFunctions aggregates the first sample value of prof by function and returns
// the n heaviest by flat, then cumulative, samples.
func TopFunctions(prof *profile.Profile, n int) ([]FunctionStat, int64) {
	stats := map[string]*FunctionStat{}
	var total int64

	get := func(name string) *FunctionStat {
		s, ok := stats[name]
		if !ok {
			s = &FunctionStat{Name: name}
			stats[name] = s
		}
		return s
	}

	for _, sample := range prof.Sample {
		if len(sample.Value) == 0 {
			continue
		}
		v := sample.Value[0]
		total += v

		seen := map[string]bool{}
		for i, loc := range sample.Location {
			for j, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				name := line.Function.Name
				// Location 0, line 0 is the innermost frame.
				if i == 0 && j == 0 {
					get(name).Flat += v
				}
				if !seen[name] {
					seen[name] = true
					get(name).Cum += v
				}
			}
		}
	}

	out := make([]FunctionStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Flat != out[j].Flat {
			return out[i].Flat > out[j].Flat
		}
		if out[i].Cum != out[j].Cum {
			return out[i].Cum > out[j].Cum
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, total
}

// Summarize renders the top functions as a fixed-width text table.
func Summarize(prof *profile.Profile, n int) string {
	top, total := TopFunctions(prof, n)
	if total == 0 {
		return "no CPU samples collected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d samples, top %d functions\n", total, len(top))
	fmt.Fprintf(&b, "%8s %7s %8s %7s  %s\n", "flat", "flat%", "cum", "cum%", "function")
	for _, s := range top {
		fmt.Fprintf(&b, "%8d %6.2f%% %8d %6.2f%%  %s\n",
			s.Flat, pct(s.Flat, total), s.Cum, pct(s.Cum, total), s.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func pct(v, total int64) float64 {
	return 100 * float64(v) / float64(total)
}
