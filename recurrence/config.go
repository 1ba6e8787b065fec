package recurrence

import (
	"time"

	"github.com/warp/recurrence-engine/calendar"
)

// EngineConfig holds the ambient inputs of expansion and evaluation.
type EngineConfig struct {
	// Location is the already-resolved local calendar. Occurrences are
	// start-of-day (or day + time) instants in this location and calendar-day
	// equality is judged here. Nil means time.Local.
	Location *time.Location

	// Clock supplies "now" for default start dates. Nil means the wall clock.
	Clock calendar.Clock

	// MaxOccurrences caps a single expansion. Zero means DefaultMaxOccurrences.
	MaxOccurrences int
}

// DefaultMaxOccurrences bounds one expansion. Ten thousand daily occurrences
// is more than 27 years.
const DefaultMaxOccurrences = 10000

// DefaultEngineConfig uses the process-local calendar and the wall clock.
var DefaultEngineConfig = EngineConfig{
	Location:       time.Local,
	Clock:          calendar.SystemClock,
	MaxOccurrences: DefaultMaxOccurrences,
}

func (c EngineConfig) normalize() EngineConfig {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Clock == nil {
		c.Clock = calendar.SystemClock
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = DefaultMaxOccurrences
	}
	return c
}
