package tasks

import (
	"math/rand"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/robfig/cron/v3"
)

// NextFire computes the next time trigger becomes due strictly after
// after, for each of the three supported trigger kinds. Cron expressions
// are parsed (and their validity checked) on every call via ParseCron;
// the parsed schedule is not cached.
func NextFire(trigger domain.Trigger, after time.Time) (time.Time, error) {
	switch trigger.Kind {
	case domain.TriggerCron:
		sched, err := ParseCron(trigger.CronExpr, trigger.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(after), nil
	case domain.TriggerInterval:
		next := after.Add(trigger.Interval)
		if trigger.Jitter > 0 {
			offset := time.Duration(rand.Int63n(int64(trigger.Jitter)*2)) - trigger.Jitter
			next = next.Add(offset)
		}
		return next, nil
	case domain.TriggerOneShot:
		if trigger.At.After(after) {
			return trigger.At, nil
		}
		return time.Time{}, errAlreadyFired
	default:
		return time.Time{}, errUnknownTrigger
	}
}

var (
	errAlreadyFired   = cronError("one_shot trigger's time has already passed")
	errUnknownTrigger = cronError("unknown trigger kind")
)

type cronError string

func (e cronError) Error() string { return string(e) }

// cronParser accepts the standard five-field expression. The parser
// itself is timezone-naive; ParseCron adds the timezone by wrapping its
// result in tzSchedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a cron expression in the given IANA timezone (UTC if
// empty) into a reusable schedule.
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return tzSchedule{sched: sched, loc: loc}, nil
}

// tzSchedule wraps a cron.Schedule to evaluate Next in a fixed location,
// since robfig/cron's standard parser is itself timezone-naive.
type tzSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s tzSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}
