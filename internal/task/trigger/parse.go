package trigger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the family a schedule string belongs to.
type Kind int

const (
	KindCron Kind = iota
	KindEvery
	KindOnce
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindEvery:
		return "every"
	case KindOnce:
		return "once"
	}
	return "unknown"
}

// Schedule is a classified schedule string. Only the field matching Kind is set.
//
// Accepted forms:
//
//	*/5 * * * *        cron, 5 or 6 fields (leading seconds), or @hourly / @every 55m
//	55m, 2h30m         fixed interval (Go duration)
//	02:30              fixed interval as hours:minutes
//	cron:<expr>        forces cron
//	every:<interval>   forces interval (alias interval:)
//	at:<RFC3339>       fires once (alias once:)
type Schedule struct {
	Kind  Kind
	Expr  string
	Every time.Duration
	At    time.Time
}

var errEmptySchedule = errors.New("schedule required")

type prefixParser struct {
	prefixes []string
	parse    func(v string) (Schedule, error)
}

var prefixed = []prefixParser{
	{[]string{"cron:"}, func(v string) (Schedule, error) {
		if v == "" {
			return Schedule{}, errors.New("cron expression required after cron:")
		}
		return Schedule{Kind: KindCron, Expr: v}, nil
	}},
	{[]string{"every:", "interval:"}, parseInterval},
	{[]string{"at:", "once:"}, func(v string) (Schedule, error) {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid timestamp %q: want RFC3339 like 2026-01-02T15:04:05Z", v)
		}
		return Schedule{Kind: KindOnce, At: at}, nil
	}},
}

// ParseSchedule classifies raw without building a Spec.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errEmptySchedule
	}
	low := strings.ToLower(s)
	for _, pp := range prefixed {
		for _, p := range pp.prefixes {
			if strings.HasPrefix(low, p) {
				return pp.parse(strings.TrimSpace(s[len(p):]))
			}
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Schedule{Kind: KindCron, Expr: s}, nil
	}
	if sch, err := parseInterval(s); err == nil {
		return sch, nil
	}
	return Schedule{}, fmt.Errorf("invalid schedule %q: want a cron expression, an interval like 55m or 02:30, or at:<RFC3339>", raw)
}

// Build turns the schedule into a Spec. Cron expressions are evaluated in loc.
func (s Schedule) Build(loc *time.Location) (Spec, error) {
	switch s.Kind {
	case KindCron:
		return Cron(s.Expr, loc)
	case KindEvery:
		return Every(s.Every), nil
	case KindOnce:
		return Once(s.At), nil
	}
	return nil, fmt.Errorf("unknown schedule kind %d", s.Kind)
}

// ParseSpec parses and builds raw in one step.
func ParseSpec(raw string, loc *time.Location) (Spec, error) {
	s, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return s.Build(loc)
}

// parseInterval accepts a Go duration or hours:minutes.
func parseInterval(v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, errors.New("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if h, m, ok := strings.Cut(v, ":"); ok {
		d, err = hoursMinutes(h, m)
	} else if d, err = time.ParseDuration(v); err != nil {
		err = fmt.Errorf("invalid interval %q: want 02:30 or a duration like 55m", v)
	}
	if err != nil {
		return Schedule{}, err
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Schedule{Kind: KindEvery, Every: d}, nil
}

func hoursMinutes(h, m string) (time.Duration, error) {
	hh, herr := strconv.Atoi(h)
	mm, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || len(m) != 2 || len(h) == 0 || len(h) > 3 || hh < 0 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid interval %s:%s: want hours:minutes like 02:30", h, m)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
