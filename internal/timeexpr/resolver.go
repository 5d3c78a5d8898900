// Package timeexpr resolves human-written time expressions ("in 2 hours",
// "tomorrow 5pm", "next friday", "17:30") into an instant relative to a
// reference time.
//
// Resolution is a pure function of (text, now). All arithmetic happens in
// now's location; there is no timezone model beyond that.
package timeexpr

import (
	"time"

	"github.com/golang-module/carbon/v2"
)

// Class identifies which matcher produced a result.
type Class string

const (
	ClassRelative Class = "relative"
	ClassToday    Class = "today"
	ClassTomorrow Class = "tomorrow"
	ClassWeekday  Class = "weekday"
	ClassBareTime Class = "time"
)

// DefaultHour is the time-of-day used by date cues without an explicit time.
const DefaultHour = 9

// Result is a resolved instant plus the matcher class that produced it.
type Result struct {
	At    time.Time
	Class Class
}

// Options configures a Resolver.
type Options struct {
	// DefaultHour applies to "tomorrow" and weekday cues without a time-of-day.
	// Values outside 0..23 fall back to DefaultHour.
	DefaultHour int
}

// Resolver runs an ordered list of matchers; the first one that matches wins.
type Resolver struct {
	defaultHour int
	matchers    []matcher
}

func New(opt Options) *Resolver {
	h := opt.DefaultHour
	if h < 0 || h > 23 {
		h = DefaultHour
	}
	return &Resolver{
		defaultHour: h,
		// Order is significant: relative durations must be checked before any
		// time-of-day extraction, otherwise "in 2 days" reads as 02:00.
		matchers: []matcher{
			relativeMatcher{},
			todayMatcher{},
			tomorrowMatcher{},
			weekdayMatcher{},
			bareTimeMatcher{},
		},
	}
}

var std = New(Options{DefaultHour: DefaultHour})

// Resolve resolves text against now with the default options.
// The bool is false when no matcher understood the text.
func Resolve(text string, now time.Time) (time.Time, bool) {
	res, ok := std.Resolve(text, now)
	return res.At, ok
}

// Resolve resolves text against now. It does not enforce that the result is
// after now: "today" without a time returns now itself.
func (r *Resolver) Resolve(text string, now time.Time) (Result, bool) {
	in := &input{
		tokens:      tokenize(text),
		now:         carbon.Time2Carbon(now),
		defaultHour: r.defaultHour,
	}
	if len(in.tokens) == 0 {
		return Result{}, false
	}
	for _, m := range r.matchers {
		at, ok := m.match(in)
		if !ok {
			continue
		}
		return Result{At: at.Carbon2Time(), Class: m.class()}, true
	}
	return Result{}, false
}

type input struct {
	tokens      []token
	now         carbon.Carbon
	defaultHour int
}

func (in *input) has(words ...string) bool {
	for _, t := range in.tokens {
		if t.isWord(words...) {
			return true
		}
	}
	return false
}

// at applies h:m:00.000 to c.
func at(c carbon.Carbon, h, m int) carbon.Carbon {
	return c.SetTimeMicro(h, m, 0, 0)
}
