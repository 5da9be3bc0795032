package lexicon

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/nutmeg/pkg/model"
)

// Temporal is the result of scanning a text for time references
type Temporal struct {
	Expressions    []string
	ResolvedDates  []time.Time
	RelevanceScore float64
	TimeFrame      model.TimeFrame
}

// ContainsRefs reports whether any time reference was found
func (t *Temporal) ContainsRefs() bool {
	return len(t.Expressions) > 0
}

// Info converts the result to the stored representation. Nil when nothing was found.
func (t *Temporal) Info() *model.TemporalInfo {
	if !t.ContainsRefs() {
		return nil
	}
	return &model.TemporalInfo{
		Expressions: slices.Clone(t.Expressions),
		TimeFrame:   t.TimeFrame,
	}
}

const (
	weekdayPattern = `monday|tuesday|wednesday|thursday|friday|saturday|sunday`
	countPattern   = `\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve`
	unitPattern    = `day|week|month|year`
)

type temporalRule struct {
	re      *regexp.Regexp
	resolve func(m []string, day time.Time) (time.Time, bool)
}

// rules are tried in order; a later rule never matches inside a span taken by an earlier one
var temporalRules = []temporalRule{
	{
		re: regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			d, err := time.ParseInLocation("2006-01-02", m[0], day.Location())
			return d, err == nil
		},
	},
	{
		re: regexp.MustCompile(`\bin\s+(` + countPattern + `)\s+(` + unitPattern + `)s?\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			return shift(day, parseCount(m[1]), m[2]), true
		},
	},
	{
		re: regexp.MustCompile(`\b(` + countPattern + `)\s+(` + unitPattern + `)s?\s+ago\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			return shift(day, -parseCount(m[1]), m[2]), true
		},
	},
	{
		re: regexp.MustCompile(`\b(next|last|this|on)\s+(` + weekdayPattern + `)\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			return resolveWeekday(day, m[1], parseWeekday(m[2])), true
		},
	},
	{
		re: regexp.MustCompile(`\b(next|last|this)\s+(weekend|` + unitPattern + `)\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			offset := map[string]int{"next": 1, "last": -1, "this": 0}[m[1]]
			if m[2] == "weekend" {
				return resolveWeekday(day, "this", time.Saturday).AddDate(0, 0, 7*offset), true
			}
			return shift(day, offset, m[2]), true
		},
	},
	{
		re: regexp.MustCompile(`\b(today|tonight|tomorrow|yesterday)\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			switch m[1] {
			case "tomorrow":
				return day.AddDate(0, 0, 1), true
			case "yesterday":
				return day.AddDate(0, 0, -1), true
			default:
				return day, true
			}
		},
	},
	{
		re: regexp.MustCompile(`\b(` + weekdayPattern + `)\b`),
		resolve: func(m []string, day time.Time) (time.Time, bool) {
			return resolveWeekday(day, "this", parseWeekday(m[1])), true
		},
	},
}

// urgencyCue marks time-sensitive wording that carries no resolvable date
var urgencyCue = regexp.MustCompile(`\b(deadline|due|appointment|remind(er)?|schedul(e|ed)|urgent|asap|expires?|renew(al)?)\b`)

// DetectTemporal finds time references in text and resolves them against now.
// Resolved dates are the midnight of the referenced day in now's location.
func DetectTemporal(text string, now time.Time) *Temporal {
	lower := strings.ToLower(text)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	type hit struct {
		start, end int
		expr       string
		date       time.Time
	}
	var hits []hit

	overlaps := func(start, end int) bool {
		for _, h := range hits {
			if start < h.end && h.start < end {
				return true
			}
		}
		return false
	}

	for _, rule := range temporalRules {
		for _, loc := range rule.re.FindAllStringSubmatchIndex(lower, -1) {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			m := make([]string, len(loc)/2)
			for i := range m {
				if loc[2*i] >= 0 {
					m[i] = lower[loc[2*i]:loc[2*i+1]]
				}
			}
			date, ok := rule.resolve(m, day)
			if !ok {
				continue
			}
			hits = append(hits, hit{start: loc[0], end: loc[1], expr: m[0], date: date})
		}
	}

	slices.SortFunc(hits, func(a, b hit) int { return a.start - b.start })

	result := &Temporal{}
	for _, h := range hits {
		if !slices.Contains(result.Expressions, h.expr) {
			result.Expressions = append(result.Expressions, h.expr)
		}
		if !slices.ContainsFunc(result.ResolvedDates, h.date.Equal) {
			result.ResolvedDates = append(result.ResolvedDates, h.date)
		}
	}
	slices.SortFunc(result.ResolvedDates, func(a, b time.Time) int { return a.Compare(b) })

	result.TimeFrame = timeFrameOf(result.ResolvedDates, now)
	result.RelevanceScore = relevance(result.ResolvedDates, urgencyCue.MatchString(lower), now)
	return result
}

func relevance(dates []time.Time, urgent bool, now time.Time) float64 {
	var score float64
	if len(dates) > 0 {
		score += 0.4

		nearest := math.MaxFloat64
		for _, d := range dates {
			nearest = min(nearest, math.Abs(d.Sub(now).Hours()))
		}
		switch {
		case nearest <= 7*24:
			score += 0.3
		case nearest <= 30*24:
			score += 0.15
		}
	}
	if urgent {
		score += 0.2
	}
	return min(score, 1.0)
}

func timeFrameOf(dates []time.Time, now time.Time) model.TimeFrame {
	if len(dates) == 0 {
		return ""
	}

	var future, past bool
	for _, d := range dates {
		diff := d.Sub(now)
		if diff <= 24*time.Hour && diff >= -24*time.Hour {
			return model.TimeFrameCurrent
		}
		if diff > 0 {
			future = true
		} else {
			past = true
		}
	}

	switch {
	case future && !past:
		return model.TimeFrameFuture
	case past && !future:
		return model.TimeFramePast
	default:
		return model.TimeFrameAll
	}
}

func shift(day time.Time, n int, unit string) time.Time {
	switch unit {
	case "week":
		return day.AddDate(0, 0, 7*n)
	case "month":
		return day.AddDate(0, n, 0)
	case "year":
		return day.AddDate(n, 0, 0)
	default:
		return day.AddDate(0, 0, n)
	}
}

func resolveWeekday(day time.Time, modifier string, wd time.Weekday) time.Time {
	ahead := (int(wd) - int(day.Weekday()) + 7) % 7
	switch modifier {
	case "next":
		if ahead == 0 {
			ahead = 7
		}
		return day.AddDate(0, 0, ahead)
	case "last":
		behind := (int(day.Weekday()) - int(wd) + 7) % 7
		if behind == 0 {
			behind = 7
		}
		return day.AddDate(0, 0, -behind)
	default:
		return day.AddDate(0, 0, ahead)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseWeekday(s string) time.Weekday {
	return weekdays[s]
}

var countWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

func parseCount(s string) int {
	if n, ok := countWords[s]; ok {
		return n
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
