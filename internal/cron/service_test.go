package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name            string
	err             error
	runs            int
	panics          bool
	waitForDeadline bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	if t.panics {
		panic("job blew up")
	}
	if t.waitForDeadline {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "success"}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	registry, err := NewRegistry(failing, ok)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(reg),
	})
	require.NoError(t, err)

	cycleErr := service.runCycle(context.Background())
	require.ErrorContains(t, cycleErr, "fail: boom")
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failing.runs)
	require.Equal(t, 1, lock.released)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["smartpay_job_success_total"])
	require.True(t, names["smartpay_job_failure_total"])
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	registry, err := NewRegistry(job)
	require.NoError(t, err)
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: registry,
		Lock:     &fakeLock{held: true},
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	require.Zero(t, job.runs)
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: quietLogger()})
	require.Error(t, err)
}

func TestServiceRecoversPanickingJob(t *testing.T) {
	broken := &testJob{name: "broken", panics: true}
	after := &testJob{name: "after"}
	registry, err := NewRegistry(broken, after)
	require.NoError(t, err)
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{Logger: quietLogger(), Registry: registry, Lock: lock})
	require.NoError(t, err)

	err = service.runCycle(context.Background())
	require.ErrorContains(t, err, "job panicked")
	require.Equal(t, 1, after.runs)
	require.Equal(t, 1, lock.released)
}

func TestServiceBoundsJobRuntime(t *testing.T) {
	slow := &testJob{name: "slow", waitForDeadline: true}
	registry, err := NewRegistry(slow)
	require.NoError(t, err)
	service, err := NewService(ServiceParams{
		Logger:     quietLogger(),
		Registry:   registry,
		Lock:       &fakeLock{},
		JobTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	err = service.runCycle(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
