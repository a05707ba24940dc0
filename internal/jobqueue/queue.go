// Package jobqueue is a small Redis-backed job queue that runs work
// outside the pipeline's own cycle timing. Nothing in this module
// enqueues jobs on it, and the pre-market briefing does not read from
// it. It is built directly on redis/go-redis/v9 primitives —
// a list for one-shot jobs, a sorted set keyed by next-run-at for
// repeating ones — rather than a dedicated queue library, since none
// appears anywhere in the example pack.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrader-engine/pkg/observability"
)

// Config carries the job queue's tunables.
type Config struct {
	Enabled      bool
	KeyPrefix    string
	PollInterval time.Duration
}

// Job is one unit of work pulled off the queue.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes one job. A returned error does not retry the job —
// the queue is fire-and-forget; the error is only logged.
type Handler func(ctx context.Context, job Job) error

// Queue wraps a redis client with the list/sorted-set operations the
// job queue needs.
type Queue struct {
	client    *redis.Client
	logger    *observability.Logger
	keyPrefix string
	poll      time.Duration
}

// New builds a Queue bound to an existing redis client (shared with the
// rest of the process, e.g. the market-data cache tier).
func New(client *redis.Client, cfg Config, logger *observability.Logger) *Queue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "papertrader:jobs:"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Queue{client: client, logger: logger, keyPrefix: prefix, poll: poll}
}

func (q *Queue) oneShotKey() string   { return q.keyPrefix + "oneshot" }
func (q *Queue) repeatingKey() string { return q.keyPrefix + "repeating" }

// AddJob enqueues a one-shot job for immediate pickup.
func (q *Queue) AddJob(ctx context.Context, kind string, payload any) error {
	job, err := q.newJob(kind, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.oneShotKey(), data).Err()
}

// AddRepeatingJob schedules a job to become eligible every interval,
// stored in a sorted set keyed by next-run-at unix time so a single
// ZRANGEBYSCORE call finds everything due.
func (q *Queue) AddRepeatingJob(ctx context.Context, kind string, payload any, interval time.Duration) error {
	job, err := q.newJob(kind, payload)
	if err != nil {
		return err
	}
	envelope := repeatingEnvelope{Job: job, Interval: interval}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal repeating job: %w", err)
	}
	score := float64(time.Now().Unix())
	return q.client.ZAdd(ctx, q.repeatingKey(), redis.Z{Score: score, Member: data}).Err()
}

type repeatingEnvelope struct {
	Job      Job           `json:"job"`
	Interval time.Duration `json:"interval"`
}

func (q *Queue) newJob(kind string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Job{
		ID:         fmt.Sprintf("%s-%d", kind, time.Now().UnixNano()),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}, nil
}

// StartWorker runs a blocking pop loop for one-shot jobs and a polling
// loop for due repeating jobs until ctx is cancelled.
func (q *Queue) StartWorker(ctx context.Context, handler Handler) {
	go q.runOneShotLoop(ctx, handler)
	go q.runRepeatingLoop(ctx, handler)
}

func (q *Queue) runOneShotLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := q.client.BRPop(ctx, q.poll, q.oneShotKey()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if q.logger != nil {
				q.logger.Error(ctx, "jobqueue brpop failed", err, nil)
			}
			continue
		}
		if len(result) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			continue
		}
		q.dispatch(ctx, handler, job)
	}
}

func (q *Queue) runRepeatingLoop(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainDueRepeatingJobs(ctx, handler)
		}
	}
}

func (q *Queue) drainDueRepeatingJobs(ctx context.Context, handler Handler) {
	now := float64(time.Now().Unix())
	members, err := q.client.ZRangeByScore(ctx, q.repeatingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		if q.logger != nil {
			q.logger.Error(ctx, "jobqueue zrangebyscore failed", err, nil)
		}
		return
	}

	for _, member := range members {
		var envelope repeatingEnvelope
		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			q.client.ZRem(ctx, q.repeatingKey(), member)
			continue
		}
		q.dispatch(ctx, handler, envelope.Job)

		q.client.ZRem(ctx, q.repeatingKey(), member)
		nextScore := float64(time.Now().Add(envelope.Interval).Unix())
		data, err := json.Marshal(envelope)
		if err == nil {
			q.client.ZAdd(ctx, q.repeatingKey(), redis.Z{Score: nextScore, Member: data})
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, handler Handler, job Job) {
	if err := handler(ctx, job); err != nil && q.logger != nil {
		q.logger.Error(ctx, "jobqueue handler failed", err, map[string]interface{}{
			"job_id":   job.ID,
			"job_kind": job.Kind,
		})
	}
}
