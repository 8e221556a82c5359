package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

var (
	validateOnce sync.Once
	structCheck  *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structCheck = validator.New(validator.WithRequiredStructEnabled())
		structCheck.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return structCheck
}

// Validate runs struct-tag checks and the semantic checks tags cannot express
// (durations, timezone, schedule syntax, unique job keys). All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q check", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		loc = time.UTC
	}

	durations := []struct{ path, raw string }{
		{"runner.max_run_time", cfg.Runner.MaxRunTime},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.save_debounce", cfg.Storage.SaveDebounce},
	}
	for _, d := range durations {
		if err := checkDuration(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if drv := cfg.Storage.DriverName(); drv != StorageNone && strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", drv))
	}

	seen := make(map[registry.Key]int, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if strings.ContainsAny(j.Name, ". \t") || strings.ContainsAny(j.Group, ". \t") {
			errs = append(errs, fmt.Errorf("%s: name and group must not contain dots or spaces", path))
		}
		if prev, ok := seen[j.Key()]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate job %s (also jobs[%d])", path, j.Key(), prev))
		} else {
			seen[j.Key()] = i
		}
		if strings.TrimSpace(j.Schedule) != "" {
			if _, err := trigger.ParseSpec(j.Schedule, loc); err != nil {
				errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
			}
		}
		if err := checkDuration(path+".timeout", j.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fieldPath turns "Config.jobs[0].action.kind" into "jobs[0].action.kind".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

// Runtime settings resolved from their string forms. Validate must have passed.

func (r RunnerConfig) MaxRunTimeDuration() time.Duration {
	return durationOr(r.MaxRunTime, 0)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(s.BusyTimeout, 5*time.Second)
}

func (s StorageConfig) SaveDebounceDuration() time.Duration {
	return durationOr(s.SaveDebounce, time.Second)
}

func (j JobConfig) TimeoutDuration() time.Duration {
	return durationOr(j.Timeout, 0)
}
