package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/platform"
)

// VersionCheckJobName is the job the platform recreates on every start. It
// is never exported.
const VersionCheckJobName = "SystemVersionCheck"

// exportSchedules records a schedule request for every job except the
// version check.
func (e *Exporter) exportSchedules(ctx context.Context, ectx *Context) (PhaseResult, error) {
	r := PhaseResult{}
	if e.deps.Scheduler == nil {
		r.Status = StatusSkipped
		return r, nil
	}

	jobs, err := e.deps.Scheduler.ListJobs(ctx, nil)
	if err != nil {
		ectx.Logger.Error("error exporting jobs", "error", err)
		r.abort(fmt.Errorf("listing jobs: %w", err))
		return r, nil
	}

	for _, job := range jobs {
		if job.Name == VersionCheckJobName {
			r.Excluded++
			continue
		}
		req, err := scheduleRequest(job)
		if err != nil {
			ectx.Logger.Warn("skipping job", "job", job.Name, "error", err)
			r.fail(err)
			continue
		}
		ectx.Manifest.Add(req)
		r.Records++
	}
	return r, nil
}

// scheduleRequest converts a stored job into the request that would recreate
// it. It fails with platform.ErrInvalidArgument when the job cannot be
// expressed as a request.
func scheduleRequest(job platform.Job) (manifest.Schedule, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: job %q: %s", platform.ErrInvalidArgument, job.Name, fmt.Sprintf(format, args...))
	}

	if job.InputFile == "" {
		return manifest.Schedule{}, invalid("no input file")
	}
	t := job.Trigger
	if t == nil {
		return manifest.Schedule{}, invalid("no trigger")
	}

	req := manifest.Schedule{
		JobName:    job.Name,
		ActionUser: job.UserName,
		InputFile:  job.InputFile,
		OutputFile: job.OutputFile,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
		TimeZone:   t.TimeZone,
	}

	switch t.Type {
	case platform.TriggerCron:
		// Quartz expressions: seconds through day-of-week, optional year.
		if n := len(strings.Fields(t.CronExpression)); n < 6 || n > 7 {
			return manifest.Schedule{}, invalid("cron expression %q has %d fields", t.CronExpression, n)
		}
		req.Cron = &manifest.CronTrigger{Expression: t.CronExpression}
	case platform.TriggerSimple:
		if t.RepeatCount != 0 && t.RepeatInterval <= 0 {
			return manifest.Schedule{}, invalid("repeating trigger without interval")
		}
		req.Simple = &manifest.SimpleTrigger{RepeatInterval: t.RepeatInterval, RepeatCount: t.RepeatCount}
	default:
		return manifest.Schedule{}, invalid("unsupported trigger type %q", t.Type)
	}

	if !t.EndTime.IsZero() && t.EndTime.Before(t.StartTime) {
		return manifest.Schedule{}, invalid("end time before start time")
	}

	keys := make([]string, 0, len(job.Params))
	for k := range job.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Params = append(req.Params, manifest.Param{Name: k, Value: job.Params[k]})
	}
	return req, nil
}
