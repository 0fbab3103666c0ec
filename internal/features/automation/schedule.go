package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	ScheduleOnce     = "once"
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
	ScheduleMonthly  = "monthly"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// maxSlotScan bounds how many cron instants are walked when looking for the
// latest slot inside the catch-up window.
const maxSlotScan = 10000

// Schedule is a validated schedule_config.
type Schedule struct {
	Config   ScheduleConfig
	location *time.Location
	cron     cron.Schedule
	runAt    time.Time
	interval time.Duration
	anchor   time.Time
}

func parseSchedule(raw json.RawMessage, createdAt time.Time) (*Schedule, error) {
	if isEmptyJSON(raw) {
		return nil, invalidf("schedule_config is required")
	}
	var cfg ScheduleConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, invalidf("schedule_config: %v", err)
	}
	return NewSchedule(cfg, createdAt)
}

// NewSchedule validates cfg. Interval schedules are anchored at anchor.
func NewSchedule(cfg ScheduleConfig, anchor time.Time) (*Schedule, error) {
	s := &Schedule{Config: cfg, location: time.UTC, anchor: anchor}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, invalidf("unknown timezone %q", cfg.Timezone)
		}
		s.location = loc
	}

	var spec string
	switch cfg.Type {
	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, cfg.RunAt)
		if err != nil {
			return nil, invalidf("once schedule requires an RFC3339 run_at")
		}
		s.runAt = t
		return s, nil
	case ScheduleInterval:
		if cfg.IntervalMinutes < 1 {
			return nil, invalidf("interval_minutes must be at least 1")
		}
		s.interval = time.Duration(cfg.IntervalMinutes) * time.Minute
		return s, nil
	case ScheduleDaily:
		h, m, err := parseClock(cfg.Time)
		if err != nil {
			return nil, err
		}
		spec = fmt.Sprintf("%d %d * * *", m, h)
	case ScheduleWeekly:
		h, m, err := parseClock(cfg.Time)
		if err != nil {
			return nil, err
		}
		if len(cfg.Days) == 0 {
			return nil, invalidf("weekly schedule requires days")
		}
		dows := make([]string, 0, len(cfg.Days))
		for _, d := range cfg.Days {
			if d < 1 || d > 7 {
				return nil, invalidf("weekly day %d out of range 1-7", d)
			}
			dows = append(dows, strconv.Itoa(d%7))
		}
		spec = fmt.Sprintf("%d %d * * %s", m, h, strings.Join(dows, ","))
	case ScheduleMonthly:
		h, m, err := parseClock(cfg.Time)
		if err != nil {
			return nil, err
		}
		if cfg.Day < 1 || cfg.Day > 31 {
			return nil, invalidf("monthly day %d out of range 1-31", cfg.Day)
		}
		spec = fmt.Sprintf("%d %d %d * *", m, h, cfg.Day)
	case ScheduleCron:
		if strings.TrimSpace(cfg.Cron) == "" {
			return nil, invalidf("cron schedule requires an expression")
		}
		spec = cfg.Cron
	default:
		return nil, invalidf("unknown schedule type %q", cfg.Type)
	}

	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", s.location.String(), spec))
	if err != nil {
		return nil, invalidf("schedule: %v", err)
	}
	s.cron = sched
	return s, nil
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, invalidf("time %q must be HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

// LastSlot returns the most recent scheduled instant in (notBefore, now]
// that is also no older than catchup. ok is false when there is none.
func (s *Schedule) LastSlot(now, notBefore time.Time, catchup time.Duration) (time.Time, bool) {
	start := now.Add(-catchup)
	if notBefore.After(start) {
		start = notBefore
	}
	inWindow := func(t time.Time) bool {
		return !t.After(now) && !t.Before(start) && t.After(notBefore)
	}

	switch {
	case s.cron != nil:
		var last time.Time
		t := s.cron.Next(start.Add(-time.Second))
		for i := 0; i < maxSlotScan && !t.IsZero() && !t.After(now); i++ {
			last = t
			t = s.cron.Next(t)
		}
		if last.IsZero() || !inWindow(last) {
			return time.Time{}, false
		}
		return last, true
	case s.interval > 0:
		if s.anchor.IsZero() || now.Before(s.anchor) {
			return time.Time{}, false
		}
		n := now.Sub(s.anchor) / s.interval
		if n < 1 {
			return time.Time{}, false
		}
		slot := s.anchor.Add(n * s.interval)
		if !inWindow(slot) {
			return time.Time{}, false
		}
		return slot, true
	default:
		if !inWindow(s.runAt) {
			return time.Time{}, false
		}
		return s.runAt, true
	}
}

func (s *Schedule) Location() *time.Location {
	return s.location
}

// clockRange is a "HH:MM-HH:MM" wall-clock window. A window whose end is
// before its start wraps past midnight.
type clockRange struct {
	start, end int
}

func parseClockRange(v string) (*clockRange, error) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return nil, invalidf("time_range %q must be HH:MM-HH:MM", v)
	}
	sh, sm, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	eh, em, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}
	return &clockRange{start: sh*60 + sm, end: eh*60 + em}, nil
}

func (r *clockRange) contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if r.start <= r.end {
		return m >= r.start && m <= r.end
	}
	return m >= r.start || m <= r.end
}

// isoWeekday numbers Monday 1 through Sunday 7.
func isoWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}
	return d
}
