// Package jobs is a small Redis-backed job queue for pipeline work that
// should not hold an HTTP request open.
//
// Pending job ids live in a Redis list; each job's state is a hash that
// expires after the configured result TTL:
//
//	<queue>          LIST  pending job ids (LPUSH / BRPOP)
//	<queue>:job:<id> HASH  kind, status, payload, result, error, timestamps
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueUnavailable wraps Redis failures.
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Job is the stored state of one unit of work.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"-"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	EnqueuedAt *time.Time      `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return client, nil
}

// Queue enqueues jobs and reads their state.
type Queue struct {
	client   redis.Cmdable
	name     string
	ttl      time.Duration
	recorder *audit.Recorder
	now      func() time.Time
}

// NewQueue returns a queue on client. recorder may be nil.
func NewQueue(client redis.Cmdable, cfg config.JobsConfig, recorder *audit.Recorder) *Queue {
	name := cfg.Queue
	if name == "" {
		name = "amr:jobs"
	}
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Queue{client: client, name: name, ttl: ttl, recorder: recorder, now: time.Now}
}

// Name returns the Redis list holding pending ids.
func (q *Queue) Name() string { return q.name }

func (q *Queue) jobKey(id string) string {
	return q.name + ":job:" + id
}

// Enqueue stores payload as JSON and schedules a job of kind.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("invalid request: encode job payload: %w", err)
	}

	id := uuid.NewString()
	key := q.jobKey(id)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"kind":        kind,
			"status":      string(StatusQueued),
			"payload":     body,
			"enqueued_at": q.now().UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, q.ttl)
		pipe.LPush(ctx, q.name, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	q.recorder.Record(ctx, audit.EventJobEnqueued, "", map[string]any{
		"job_id": id,
		"kind":   kind,
	})
	return id, nil
}

// Get returns the state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(id, fields), nil
}

func (q *Queue) markStarted(ctx context.Context, id string) error {
	return q.client.HSet(ctx, q.jobKey(id),
		"status", string(StatusStarted),
		"started_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (q *Queue) markFinished(ctx context.Context, id string, result []byte) error {
	key := q.jobKey(id)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(StatusFinished),
			"result", result,
			"ended_at", q.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, q.ttl)
		return nil
	})
	return err
}

func (q *Queue) markFailed(ctx context.Context, id, message string) error {
	key := q.jobKey(id)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(StatusFailed),
			"error", message,
			"ended_at", q.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, q.ttl)
		return nil
	})
	return err
}

// jobFromHash decodes a job hash. Unparseable timestamps are left nil.
func jobFromHash(id string, fields map[string]string) *Job {
	job := &Job{
		ID:     id,
		Kind:   fields["kind"],
		Status: Status(fields["status"]),
		Error:  fields["error"],
	}
	if p := fields["payload"]; p != "" {
		job.Payload = json.RawMessage(p)
	}
	if r := fields["result"]; r != "" {
		job.Result = json.RawMessage(r)
	}
	job.EnqueuedAt = parseTime(fields["enqueued_at"])
	job.StartedAt = parseTime(fields["started_at"])
	job.EndedAt = parseTime(fields["ended_at"])
	return job
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
