package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tenderbase/procure-backend/internal/platform/envutil"
	"github.com/tenderbase/procure-backend/internal/platform/logger"
)

const (
	streamPrefix  = "procure:step:"
	consumerGroup = "workers"
	fieldPayload  = "payload"
)

// redisQueue carries stage jobs over redis streams, one stream per step with
// a shared consumer group. Unacked entries sit in the pending list and are
// reclaimed after claimMinIdle, which is the redelivery mechanism.
type redisQueue struct {
	rdb          *goredis.Client
	log          *logger.Logger
	consumerName string
	claimMinIdle time.Duration
}

func NewRedisQueue(logg *logger.Logger) (Queue, error) {
	addr := envutil.Str("REDIS_ADDR", "localhost:6379")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisQueue{
		rdb:          rdb,
		log:          logg.With("service", "RedisQueue"),
		consumerName: "worker-" + uuid.NewString(),
		claimMinIdle: time.Duration(envutil.Int("QUEUE_CLAIM_MIN_IDLE_SECONDS", 300)) * time.Second,
	}, nil
}

func streamName(step string) string { return streamPrefix + step }

func (q *redisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamName(msg.Step),
		Values: map[string]interface{}{fieldPayload: string(raw)},
	}).Err()
}

func (q *redisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (q *redisQueue) Receive(ctx context.Context, step string) (*Delivery, error) {
	stream := streamName(step)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	for {
		// Take over messages another worker received but never acked.
		claimed, _, err := q.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    consumerGroup,
			Consumer: q.consumerName,
			MinIdle:  q.claimMinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("xautoclaim: %w", err)
		}
		if len(claimed) > 0 {
			return q.delivery(stream, claimed[0])
		}

		res, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumerName,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, fmt.Errorf("xreadgroup: %w", err)
		}
		for _, sr := range res {
			for _, entry := range sr.Messages {
				return q.delivery(stream, entry)
			}
		}
	}
}

func (q *redisQueue) delivery(stream string, entry goredis.XMessage) (*Delivery, error) {
	raw, ok := entry.Values[fieldPayload].(string)
	if !ok {
		// Poison entry: ack it away rather than loop on it forever.
		q.log.Warn("Dropping malformed stream entry", "stream", stream, "entry_id", entry.ID)
		_ = q.rdb.XAck(context.Background(), stream, consumerGroup, entry.ID).Err()
		return nil, fmt.Errorf("malformed stream entry %s", entry.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.log.Warn("Dropping undecodable stream entry", "stream", stream, "entry_id", entry.ID, "error", err)
		_ = q.rdb.XAck(context.Background(), stream, consumerGroup, entry.ID).Err()
		return nil, fmt.Errorf("decode stream entry %s: %w", entry.ID, err)
	}

	entryID := entry.ID
	return &Delivery{
		Message: msg,
		ack: func(ctx context.Context) error {
			return q.rdb.XAck(ctx, stream, consumerGroup, entryID).Err()
		},
		// Leaving the entry pending is the redelivery path; nothing to do.
		nack: func(ctx context.Context) error { return nil },
	}, nil
}
