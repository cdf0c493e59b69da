package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CostLensHQ/CostLens/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
)

const pipelineRunsKeyPrefix = "org:counters:pipeline_runs"

// AddPipelineRun increments today's run counter for an organization in Redis.
// The per-day hash expires on its own after two days, so no flush job is
// needed; the counters are advisory input for the pipeline quota gate and
// support dashboards, the engine enforces the hard limit.
func AddPipelineRun(orgID uint) error {
	ctx := context.Background()
	rdb := cache.GetClient()
	key := dailyKey(time.Now())
	field := strconv.FormatUint(uint64(orgID), 10)

	pipe := rdb.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// PipelineRunsToday returns the organization's run count for the current day.
func PipelineRunsToday(orgID uint) (int64, error) {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(orgID), 10)
	n, err := cache.GetClient().HGet(ctx, dailyKey(time.Now()), field).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return n, nil
}

func dailyKey(t time.Time) string {
	return fmt.Sprintf("%s:%s", pipelineRunsKeyPrefix, t.UTC().Format("2006-01-02"))
}
