package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/CostLensHQ/CostLens/internal/pkg/jobqueue"
	"github.com/CostLensHQ/CostLens/internal/pkg/limitsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobs struct {
	jobs []*jobqueue.Job
	err  error
}

func (s *stubJobs) Enqueue(ctx context.Context, job *jobqueue.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// A queued limits push after a plan change also lands a retry job on the
// background queue.
func TestChangePlanQueuedPushEnqueuesRetry(t *testing.T) {
	oldPrice := testPrice("price_old000", 2900, nil)
	newPrice := testPrice("price_new000", 9900, nil)
	repo := &fakeRepo{org: testOrg("acme_co"), soleOwner: true, memberCount: 2}
	proc := &stubProcessor{
		price:   newPrice,
		sub:     testSubscription("sub_acme_co", "cus_acme_co", oldPrice),
		updated: testSubscription("sub_acme_co", "cus_acme_co", newPrice),
	}
	pusher := &stubPusher{result: limitsync.PushResult{Queued: true, Err: errors.New("503 after retries")}}
	jobs := &stubJobs{}
	svc := newTestService(repo, proc, &stubLimiter{allow: true}, pusher)
	svc.SetJobQueue(jobs)

	res, err := svc.ChangePlan(context.Background(), "acme_co", "price_new000", 42)
	require.NoError(t, err)
	assert.True(t, res.SyncQueued)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, jobqueue.JobTypeLimitsSync, jobs.jobs[0].Type)
	assert.JSONEq(t, `{"org_slug":"acme_co"}`, string(jobs.jobs[0].Payload))
}

func TestRetryLimitsSync(t *testing.T) {
	job, err := jobqueue.NewJob(jobqueue.JobTypeLimitsSync, jobqueue.LimitsSyncPayload{OrgSlug: "acme_co"})
	require.NoError(t, err)

	t.Run("success settles", func(t *testing.T) {
		pusher := &stubPusher{result: limitsync.PushResult{Success: true}}
		svc := newTestService(&fakeRepo{org: testOrg("acme_co")}, &stubProcessor{}, &stubLimiter{allow: true}, pusher)
		require.NoError(t, svc.RetryLimitsSync(context.Background(), job))
		require.Len(t, pusher.payloads, 1)
		assert.Equal(t, "acme_co", pusher.payloads[0].OrgSlug)
	})

	t.Run("still transient redelivers", func(t *testing.T) {
		pusher := &stubPusher{result: limitsync.PushResult{Queued: true, Err: errors.New("502")}}
		svc := newTestService(&fakeRepo{org: testOrg("acme_co")}, &stubProcessor{}, &stubLimiter{allow: true}, pusher)
		assert.Error(t, svc.RetryLimitsSync(context.Background(), job))
	})

	t.Run("terminal failure drops", func(t *testing.T) {
		pusher := &stubPusher{result: limitsync.PushResult{Err: errors.New("400")}}
		svc := newTestService(&fakeRepo{org: testOrg("acme_co")}, &stubProcessor{}, &stubLimiter{allow: true}, pusher)
		assert.NoError(t, svc.RetryLimitsSync(context.Background(), job))
	})

	t.Run("unknown org drops", func(t *testing.T) {
		pusher := &stubPusher{result: limitsync.PushResult{Success: true}}
		svc := newTestService(&fakeRepo{}, &stubProcessor{}, &stubLimiter{allow: true}, pusher)
		assert.NoError(t, svc.RetryLimitsSync(context.Background(), job))
		assert.Empty(t, pusher.payloads)
	})
}
