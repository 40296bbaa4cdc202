package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"permguard/internal/permission/models"
	dErrors "permguard/pkg/domain-errors"
)

// DefaultRetentionSchedule runs retention daily at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// maxRetentionDays keeps a day-suffixed age within time.Duration.
const maxRetentionDays = 100 * 365

// ErrRetentionRunning is returned by RunOnce while another pass is active.
var ErrRetentionRunning = dErrors.New(dErrors.CodeConflict, "data access retention already running")

// RetentionJob applies per-category retention policies to the data-access
// log on a cron schedule.
type RetentionJob struct {
	auditor  *Auditor
	policies []models.RetentionPolicy
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

type RetentionOption func(j *RetentionJob)

func WithSchedule(spec string) RetentionOption {
	return func(j *RetentionJob) {
		j.schedule = spec
	}
}

func WithRetentionLogger(logger *slog.Logger) RetentionOption {
	return func(j *RetentionJob) {
		j.logger = logger
	}
}

// WithClock replaces time.Now when computing cutoffs.
func WithClock(now func() time.Time) RetentionOption {
	return func(j *RetentionJob) {
		j.now = now
	}
}

func NewRetentionJob(auditor *Auditor, policies []models.RetentionPolicy, opts ...RetentionOption) *RetentionJob {
	j := &RetentionJob{
		auditor:  auditor,
		policies: append([]models.RetentionPolicy(nil), policies...),
		schedule: DefaultRetentionSchedule,
		cron:     cron.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start registers the job and starts the scheduler. Runs use ctx detached
// from its cancellation; Stop ends the schedule.
func (j *RetentionJob) Start(ctx context.Context) error {
	if len(j.policies) == 0 {
		return nil
	}
	runCtx := context.WithoutCancel(ctx)
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(runCtx); errors.Is(err, ErrRetentionRunning) {
			j.warn("data access retention already running, skipping")
		} else if err != nil {
			j.warn("data access retention run failed", "error", err)
		}
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid retention schedule")
	}
	j.cron.Start()
	if j.logger != nil {
		j.logger.Info("data access retention scheduled", "schedule", j.schedule, "policies", len(j.policies))
	}
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (j *RetentionJob) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce applies every policy once and returns rows affected per category.
// A failing policy does not stop the others. An overlapping call returns
// ErrRetentionRunning without touching the log.
func (j *RetentionJob) RunOnce(ctx context.Context) (map[models.DataCategory]int64, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil, ErrRetentionRunning
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	now := j.now()
	report := make(map[models.DataCategory]int64, len(j.policies))
	var errs []error
	for _, p := range j.policies {
		before := now.Add(-p.MaxAge)
		var (
			n   int64
			err error
		)
		if p.Delete {
			n, err = j.auditor.DeleteOlderThan(ctx, p.Category, before)
		} else {
			n, err = j.auditor.AnonymizeOlderThan(ctx, p.Category, before)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Category, err))
			continue
		}
		report[p.Category] += n
	}
	return report, errors.Join(errs...)
}

func (j *RetentionJob) warn(msg string, attrs ...any) {
	if j.logger != nil {
		j.logger.Warn(msg, attrs...)
	}
}

// ParsePolicies reads a comma separated policy list:
//
//	sick_days=30d:delete,contact_information=2160h
//
// Ages accept time.ParseDuration units plus a "d" day suffix. Entries
// anonymize unless suffixed with ":delete".
func ParsePolicies(raw string) ([]models.RetentionPolicy, error) {
	var policies []models.RetentionPolicy
	seen := make(map[models.DataCategory]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("retention policy %q: expected category=age", part))
		}
		category, err := models.ParseDataCategory(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[category]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("retention policy for %s given twice", category))
		}
		seen[category] = struct{}{}

		age, mode, _ := strings.Cut(strings.TrimSpace(spec), ":")
		maxAge, err := parseAge(age)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("retention policy for %s: invalid age", category))
		}
		p := models.RetentionPolicy{Category: category, MaxAge: maxAge}
		switch strings.ToLower(strings.TrimSpace(mode)) {
		case "", "anonymize":
		case "delete":
			p.Delete = true
		default:
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("retention policy for %s: unknown mode %q", category, mode))
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func parseAge(s string) (time.Duration, error) {
	var (
		d   time.Duration
		err error
	)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n int
		n, err = strconv.Atoi(days)
		if err == nil && n > maxRetentionDays {
			return 0, fmt.Errorf("age exceeds %d days", maxRetentionDays)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("age must be positive")
	}
	return d, nil
}
