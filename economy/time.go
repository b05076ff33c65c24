package economy

import (
	"math"
	"sync"
	"time"
)

// =============================================================================
// SIM TIME - In-universe clock instant
// =============================================================================

// SecondsPerSimYear is the length of a simulated year (mean Gregorian year).
const SecondsPerSimYear = 365.2425 * 24 * 60 * 60

// SimTime is an instant on the simulated clock. It is distinct from wall-clock
// time even though it shares time.Time's representation.
type SimTime struct {
	time.Time
}

// Constructors
func NewSimTime(year int, month time.Month, day int) SimTime {
	return SimTime{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func SimTimeOf(t time.Time) SimTime { return SimTime{Time: t.UTC()} }

// Comparison
func (t SimTime) Before(o SimTime) bool        { return t.Time.Before(o.Time) }
func (t SimTime) After(o SimTime) bool         { return t.Time.After(o.Time) }
func (t SimTime) Equal(o SimTime) bool         { return t.Time.Equal(o.Time) }
func (t SimTime) BeforeOrEqual(o SimTime) bool { return !t.After(o) }
func (t SimTime) AfterOrEqual(o SimTime) bool  { return !t.Before(o) }

// Arithmetic
func (t SimTime) AddYears(n int) SimTime { return SimTime{Time: t.Time.AddDate(n, 0, 0)} }
func (t SimTime) AddDays(n int) SimTime  { return SimTime{Time: t.Time.AddDate(0, 0, n)} }

// AddSimYears adds a fractional number of simulated years.
func (t SimTime) AddSimYears(years float64) SimTime {
	secs := years * SecondsPerSimYear
	whole := math.Floor(secs)
	nanos := int64(math.Round((secs - whole) * 1e9))
	u := time.Unix(t.Time.Unix()+int64(whole), int64(t.Time.Nanosecond())+nanos)
	return SimTime{Time: u.UTC()}
}

func (t SimTime) String() string { return t.Time.UTC().Format(time.RFC3339) }

// YearsBetween returns the simulated years elapsed from -> to. It works on
// Unix seconds so spans longer than time.Duration's range stay exact enough.
func YearsBetween(from, to SimTime) float64 {
	secs := float64(to.Time.Unix()-from.Time.Unix()) +
		float64(to.Time.Nanosecond()-from.Time.Nanosecond())/1e9
	return secs / SecondsPerSimYear
}

// =============================================================================
// CLOCK - Wall time -> simulated time
// =============================================================================

// Clock maps wall-clock time onto the simulated clock. Simulated time advances
// Rate times faster than wall time, starting at SimEpoch when the wall clock
// read WallEpoch.
type Clock struct {
	SimEpoch  SimTime
	WallEpoch time.Time
	Rate      float64

	mu  sync.RWMutex
	now func() time.Time
}

// NewClock creates a clock. A non-positive rate means real time (1.0).
func NewClock(simEpoch SimTime, wallEpoch time.Time, rate float64) *Clock {
	if rate <= 0 {
		rate = 1
	}
	return &Clock{SimEpoch: simEpoch, WallEpoch: wallEpoch, Rate: rate, now: time.Now}
}

// FixedClock always reports the given simulated instant.
func FixedClock(at SimTime) *Clock {
	wall := time.Unix(0, 0).UTC()
	c := NewClock(at, wall, 1)
	c.SetWallSource(func() time.Time { return wall })
	return c
}

// SetWallSource replaces the wall-clock source (tests).
func (c *Clock) SetWallSource(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Now returns the current simulated time.
func (c *Clock) Now() SimTime {
	c.mu.RLock()
	wall := c.now()
	c.mu.RUnlock()

	elapsed := wall.Sub(c.WallEpoch).Seconds() * c.Rate
	return c.SimEpoch.AddSimYears(elapsed / SecondsPerSimYear)
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
