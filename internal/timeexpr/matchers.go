package timeexpr

import (
	"math"
	"time"

	"github.com/golang-module/carbon/v2"
)

type matcher interface {
	class() Class
	match(in *input) (carbon.Carbon, bool)
}

// ---- relative: "in <N> <unit>" ----

type relUnit struct {
	words []string
	// max is the largest count that still fits a time.Duration.
	max int64
	add func(c carbon.Carbon, n int) carbon.Carbon
}

// Checked in this order; the first unit that appears as "in N <unit>" wins.
var relUnits = []relUnit{
	{words: []string{"day", "days"}, max: math.MaxInt64 / int64(24*time.Hour), add: func(c carbon.Carbon, n int) carbon.Carbon { return c.AddDays(n) }},
	{words: []string{"hour", "hours", "hr", "hrs"}, max: math.MaxInt64 / int64(time.Hour), add: func(c carbon.Carbon, n int) carbon.Carbon { return c.AddHours(n) }},
	{words: []string{"minute", "minutes", "min", "mins"}, max: math.MaxInt64 / int64(time.Minute), add: func(c carbon.Carbon, n int) carbon.Carbon { return c.AddMinutes(n) }},
	{words: []string{"second", "seconds", "sec", "secs"}, max: math.MaxInt64 / int64(time.Second), add: func(c carbon.Carbon, n int) carbon.Carbon { return c.AddSeconds(n) }},
}

type relativeMatcher struct{}

func (relativeMatcher) class() Class { return ClassRelative }

func (relativeMatcher) match(in *input) (carbon.Carbon, bool) {
	for _, u := range relUnits {
		for i := 0; i+2 < len(in.tokens); i++ {
			kw, num, unit := in.tokens[i], in.tokens[i+1], in.tokens[i+2]
			if !kw.isWord("in") || num.kind != tokNumber || num.hour < 0 || !unit.isWord(u.words...) {
				continue
			}
			if int64(num.hour) > u.max {
				return carbon.Carbon{}, false
			}
			return u.add(in.now, num.hour), true
		}
	}
	return carbon.Carbon{}, false
}

// ---- today ----

type todayMatcher struct{}

func (todayMatcher) class() Class { return ClassToday }

func (todayMatcher) match(in *input) (carbon.Carbon, bool) {
	if !in.has("today", "tonight") {
		return carbon.Carbon{}, false
	}
	tod, found, ok := extractTimeOfDay(in.tokens)
	if !ok {
		return carbon.Carbon{}, false
	}
	if !found {
		return in.now, true
	}
	return at(in.now, tod.hour, tod.minute), true
}

// ---- tomorrow ----

var tomorrowWords = []string{"tomorrow", "tmr", "tmrw", "tomorow", "tommorow", "tommorrow"}

type tomorrowMatcher struct{}

func (tomorrowMatcher) class() Class { return ClassTomorrow }

func (tomorrowMatcher) match(in *input) (carbon.Carbon, bool) {
	if !in.has(tomorrowWords...) {
		return carbon.Carbon{}, false
	}
	day := in.now.AddDays(1)
	tod, found, ok := extractTimeOfDay(in.tokens)
	if !ok {
		return carbon.Carbon{}, false
	}
	if !found {
		return at(day, in.defaultHour, 0), true
	}
	return at(day, tod.hour, tod.minute), true
}

// ---- weekday ----

var weekdayWords = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

type weekdayMatcher struct{}

func (weekdayMatcher) class() Class { return ClassWeekday }

func (weekdayMatcher) match(in *input) (carbon.Carbon, bool) {
	target, found := time.Weekday(0), false
	for _, t := range in.tokens {
		if t.kind != tokWord {
			continue
		}
		if wd, ok := weekdayWords[t.text]; ok {
			target, found = wd, true
			break
		}
	}
	if !found {
		return carbon.Carbon{}, false
	}

	today := in.now.Carbon2Time().Weekday()
	diff := (int(target) - int(today) + 7) % 7
	switch {
	case diff == 0:
		// Same weekday means next week, never today.
		diff = 7
	case in.has("next"):
		diff += 7
	}
	day := in.now.AddDays(diff)

	tod, hasTime, ok := extractTimeOfDay(in.tokens)
	if !ok {
		return carbon.Carbon{}, false
	}
	if !hasTime {
		return at(day, in.defaultHour, 0), true
	}
	return at(day, tod.hour, tod.minute), true
}

// ---- bare time-of-day ----

type bareTimeMatcher struct{}

func (bareTimeMatcher) class() Class { return ClassBareTime }

func (bareTimeMatcher) match(in *input) (carbon.Carbon, bool) {
	tod, found, ok := extractTimeOfDay(in.tokens)
	if !found || !ok {
		return carbon.Carbon{}, false
	}
	c := at(in.now, tod.hour, tod.minute)
	if !c.Carbon2Time().After(in.now.Carbon2Time()) {
		c = c.AddDays(1)
	}
	return c, true
}

// ---- time-of-day extraction ----

type timeOfDay struct {
	hour   int
	minute int
}

// extractTimeOfDay finds the first H[:MM][am|pm] in tokens.
//
// found is false when tokens hold no digit run at all. ok is false when a
// digit run was found but does not form a valid clock time (hour > 23 or
// minute > 59 after meridiem adjustment).
func extractTimeOfDay(tokens []token) (tod timeOfDay, found bool, ok bool) {
	for i, t := range tokens {
		if t.kind != tokNumber && t.kind != tokClock {
			continue
		}
		h, m := t.hour, t.minute
		if m < 0 {
			m = 0
		}
		if i+1 < len(tokens) {
			switch next := tokens[i+1]; {
			case next.isWord("pm"):
				if h < 12 {
					h += 12
				}
			case next.isWord("am"):
				if h == 12 {
					h = 0
				}
			}
		}
		if h < 0 || h > 23 || m > 59 {
			return timeOfDay{}, true, false
		}
		return timeOfDay{hour: h, minute: m}, true, true
	}
	return timeOfDay{}, false, true
}
