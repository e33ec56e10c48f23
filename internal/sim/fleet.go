package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/shaunagostinho/flightsim/internal/gps"
)

// Report is one aircraft's output for one tick.
type Report struct {
	ID       string            `json:"id"`
	Time     time.Time         `json:"time"`
	Position gps.PlanePosition `json:"position"`
	Messages gps.NMEAMessages  `json:"messages"`
}

// Fleet holds the simulated aircraft in a stable order. It has no timer:
// the caller invokes Tick once per step.
type Fleet struct {
	sims    []*Simulator
	builder *gps.Builder
}

// EvenlySpaced derives n aircraft from base, spacing their start angles
// 2π/n apart. A single aircraft keeps the bare prefix as its id.
func EvenlySpaced(base AircraftConfig, n int, idPrefix string) []AircraftConfig {
	out := make([]AircraftConfig, 0, n)
	for i := 0; i < n; i++ {
		cfg := base
		cfg.InitialAngle = base.InitialAngle + 2*math.Pi*float64(i)/float64(n)
		cfg.ID = idPrefix
		if n > 1 {
			cfg.ID = fmt.Sprintf("%s-%d", idPrefix, i+1)
		}
		out = append(out, cfg)
	}
	return out
}

// NewFleet validates every aircraft up front so that a bad config fails
// before the tick loop starts.
func NewFleet(configs []AircraftConfig, builder *gps.Builder) (*Fleet, error) {
	if len(configs) == 0 {
		return nil, ErrEmptyFleet
	}
	if builder == nil {
		builder = gps.NewBuilder(nil)
	}

	seen := make(map[string]struct{}, len(configs))
	f := &Fleet{builder: builder}
	for i, cfg := range configs {
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("aircraft %d: %w: %q", i, ErrDuplicateID, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}

		s, err := NewSimulator(cfg)
		if err != nil {
			return nil, fmt.Errorf("aircraft %d: %w", i, err)
		}
		f.sims = append(f.sims, s)
	}
	return f, nil
}

// Tick computes every aircraft's position and sentences, then advances it.
func (f *Fleet) Tick(now time.Time) []Report {
	out := make([]Report, 0, len(f.sims))
	for _, s := range f.sims {
		pos := s.Position()
		msgs := f.builder.Messages(pos)
		s.Advance()
		out = append(out, Report{ID: s.ID(), Time: now, Position: pos, Messages: msgs})
	}
	return out
}

// Len returns the number of aircraft.
func (f *Fleet) Len() int { return len(f.sims) }

// IDs returns the aircraft ids in tick order.
func (f *Fleet) IDs() []string {
	ids := make([]string, len(f.sims))
	for i, s := range f.sims {
		ids[i] = s.ID()
	}
	return ids
}
