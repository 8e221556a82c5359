package console

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"jobsched/internal/task/scheduler"
	"jobsched/internal/task/trigger"
)

// RenderJobs writes jobs as a table. Next fire times are shown relative to now.
func RenderJobs(w io.Writer, jobs []scheduler.JobInfo, now time.Time) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, pterm.Gray("no jobs registered"))
		return err
	}
	data := pterm.TableData{{"Job", "Schedule", "State", "Next fire", "Last fire", "Fires", "Errors", "Overruns"}}
	for _, j := range jobs {
		data = append(data, []string{
			j.Key.String(),
			j.Schedule,
			colorState(j.State, j.Running),
			relative(j.NextFire, now),
			relative(j.PrevFire, now),
			strconv.FormatUint(j.Fires, 10),
			strconv.FormatUint(j.Errors, 10),
			strconv.FormatUint(j.Overruns, 10),
		})
	}
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

func renderStats(w io.Writer, st scheduler.Stats, now time.Time) error {
	data := pterm.TableData{
		{"Mode", st.Mode.String()},
		{"Jobs", strconv.Itoa(st.Jobs)},
		{"Scheduled", strconv.Itoa(st.Scheduled)},
		{"In flight", strconv.Itoa(st.InFlight)},
		{"Dispatched", strconv.FormatUint(st.Dispatched, 10)},
		{"Completed", strconv.FormatUint(st.Completed, 10)},
		{"Failed", strconv.FormatUint(st.Failed, 10)},
		{"Overruns", strconv.FormatUint(st.Overruns, 10)},
	}
	if !st.Since.IsZero() {
		data = append(data, []string{"Running for", now.Sub(st.Since).Truncate(time.Second).String()})
	}
	s, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

func colorState(st trigger.State, running int) string {
	s := st.String()
	if running > 0 {
		s += fmt.Sprintf(" (%d running)", running)
	}
	switch st {
	case trigger.StateNormal:
		return pterm.Green(s)
	case trigger.StatePaused, trigger.StateBlocked:
		return pterm.Yellow(s)
	case trigger.StateError:
		return pterm.Red(s)
	default:
		return pterm.Gray(s)
	}
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := t.Sub(now).Round(time.Second)
	switch {
	case d > 0:
		return fmt.Sprintf("%s (in %s)", t.Format(time.DateTime), d)
	case d < 0:
		return fmt.Sprintf("%s (%s ago)", t.Format(time.DateTime), -d)
	default:
		return t.Format(time.DateTime) + " (now)"
	}
}
