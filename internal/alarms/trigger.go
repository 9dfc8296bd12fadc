package alarms

import (
	"math/rand"
	"time"
)

// searchHorizonDays bounds the look-ahead for the next active weekday. Seven
// days covers every weekday; one extra day covers "today, but already past".
const searchHorizonDays = 8

// TriggerCalculatorConfig carries the dependencies for a TriggerCalculator.
type TriggerCalculatorConfig struct {
	Clock func() time.Time
	// RandomOffset returns a value in [0, n). Defaults to math/rand.
	RandomOffset func(n int64) int64
}

// TriggerCalculator computes the next trigger instant for an alarm's policy.
type TriggerCalculator struct {
	clock        func() time.Time
	randomOffset func(n int64) int64
}

// NewTriggerCalculator applies defaults and returns a TriggerCalculator.
func NewTriggerCalculator(cfg TriggerCalculatorConfig) *TriggerCalculator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	randomOffset := cfg.RandomOffset
	if randomOffset == nil {
		randomOffset = rand.Int63n
	}
	return &TriggerCalculator{clock: clock, randomOffset: randomOffset}
}

// NextTrigger resolves the trigger policy to an epoch-millisecond instant.
// Disabled alarms and policies with no reachable occurrence resolve to nil.
func (c *TriggerCalculator) NextTrigger(input Input) (*int64, error) {
	if !input.Enabled {
		return nil, nil
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	switch input.Mode {
	case TriggerModeWindow:
		return c.nextWindowTrigger(*input.WindowStart, *input.WindowEnd, input.ActiveDays), nil
	default:
		return c.nextFixedTrigger(*input.FixedTime, input.ActiveDays), nil
	}
}

func (c *TriggerCalculator) nextFixedTrigger(fixedTime string, activeDays []int) *int64 {
	now := c.clock()
	target, _ := parseClockTime(fixedTime)

	for daysAhead := 0; daysAhead < searchHorizonDays; daysAhead++ {
		candidate := atTimeOfDay(now.AddDate(0, 0, daysAhead), target)
		if !weekdayActive(candidate, activeDays) {
			continue
		}
		if candidate.After(now) {
			millis := candidate.UnixMilli()
			return &millis
		}
	}
	return nil
}

func (c *TriggerCalculator) nextWindowTrigger(windowStart, windowEnd string, activeDays []int) *int64 {
	now := c.clock()
	start, _ := parseClockTime(windowStart)
	end, _ := parseClockTime(windowEnd)
	windowSeconds := int64(end.Sub(start) / time.Second)

	for daysAhead := 0; daysAhead < searchHorizonDays; daysAhead++ {
		candidate := atTimeOfDay(now.AddDate(0, 0, daysAhead), start)
		if !weekdayActive(candidate, activeDays) {
			continue
		}
		if candidate.After(now) {
			offset := time.Duration(c.randomOffset(windowSeconds)) * time.Second
			millis := candidate.Add(offset).UnixMilli()
			return &millis
		}
	}
	return nil
}

func atTimeOfDay(day time.Time, clockTime time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clockTime.Hour(), clockTime.Minute(), 0, 0, day.Location())
}

func weekdayActive(day time.Time, activeDays []int) bool {
	weekday := int(day.Weekday()) // Sunday = 0, matching the stored encoding
	for _, active := range activeDays {
		if active == weekday {
			return true
		}
	}
	return false
}
