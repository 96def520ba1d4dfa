package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names one of the two independent triggers the bot runs.
type Kind string

const (
	// KindReminder starts a weekly reminder cycle for the queue head.
	KindReminder Kind = "reminder"
	// KindAutoPop escalates or advances an unresolved reminder cycle.
	KindAutoPop Kind = "autopop"
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reminder":
		return KindReminder, nil
	case "autopop", "auto-pop", "auto_pop":
		return KindAutoPop, nil
	default:
		return "", fmt.Errorf("unknown schedule kind %q (use reminder or autopop)", s)
	}
}

var dayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Spec is a weekly wall-clock trigger time.
//
// Day follows the original scheduler convention: 0=Monday .. 6=Sunday.
type Spec struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (s Spec) Validate() error {
	if s.Day < 0 || s.Day > 6 {
		return fmt.Errorf("day must be between 0 (Monday) and 6 (Sunday), got %d", s.Day)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23, got %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("minute must be between 0 and 59, got %d", s.Minute)
	}
	return nil
}

// CronSpec renders the spec as a 5-field cron expression.
// Cron weekdays are 0=Sunday, so the Monday-based day shifts by one.
func (s Spec) CronSpec() string {
	dow := (s.Day + 1) % 7
	return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, dow)
}

// DayName returns the human weekday name ("Monday".."Sunday").
func (s Spec) DayName() string {
	if s.Day < 0 || s.Day > 6 {
		return "?"
	}
	return dayNames[s.Day]
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.DayName(), s.Hour, s.Minute)
}

// ParseSpec parses "day hour minute" command arguments into a Spec.
func ParseSpec(day, hour, minute string) (Spec, error) {
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil {
		return Spec{}, fmt.Errorf("invalid day %q: use numbers only", day)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil {
		return Spec{}, fmt.Errorf("invalid hour %q: use numbers only", hour)
	}
	m, err := strconv.Atoi(strings.TrimSpace(minute))
	if err != nil {
		return Spec{}, fmt.Errorf("invalid minute %q: use numbers only", minute)
	}
	sp := Spec{Day: d, Hour: h, Minute: m}
	if err := sp.Validate(); err != nil {
		return Spec{}, err
	}
	return sp, nil
}
