package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts five-field cron with an optional leading seconds field,
// plus descriptors such as "@hourly" and "@every 15m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed trigger: either a cron expression or a fixed interval.
type Schedule struct {
	Cron  string
	Every time.Duration
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

// cronSpec is the robfig form of s.
func (s Schedule) cronSpec() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

// ParseSchedule reads the trigger of the post batch or the stale sweep:
//   - a Go duration: "60m", "1h30m"
//   - an HH:MM interval: "01:30" is every 90 minutes
//   - cron: "0 */2 * * *", "@hourly"
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		if _, err := cronParser.Parse(s); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron %q: %w", s, err)
		}
		if every, ok := strings.CutPrefix(s, "@every "); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(every)); err == nil {
				return Schedule{Every: d}, nil
			}
		}
		return Schedule{Cron: s}, nil
	}
	if h, m, ok := strings.Cut(s, ":"); ok {
		return parseClockInterval(raw, h, m)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use a duration like 60m, HH:MM like 01:30, or cron)", raw)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval %s is shorter than 1s", d)
	}
	return Schedule{Every: d}, nil
}

func parseClockInterval(raw, hh, mm string) (Schedule, error) {
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || len(mm) != 2 || h < 0 || m < 0 || m > 59 {
		return Schedule{}, fmt.Errorf("invalid HH:MM interval %q", raw)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be > 0", raw)
	}
	return Schedule{Every: d}, nil
}
