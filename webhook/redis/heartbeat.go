package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatPrefix = "scheduler:heartbeat"
	// HeartbeatTTL is how long an instance stays listed without a fresh heartbeat
	HeartbeatTTL = 60 * time.Second
)

// InstanceHeartbeat represents the liveness record of one server instance
type InstanceHeartbeat struct {
	InstanceID    string    `json:"instance_id"`
	WorkerID      string    `json:"worker_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SetInstanceHeartbeat stores or updates an instance heartbeat
// Instances are expected to refresh it on every retry sweep
func (r *Repository) SetInstanceHeartbeat(ctx context.Context, instanceID, workerID string, at time.Time) error {
	key := fmt.Sprintf("%s:%s", heartbeatPrefix, instanceID)

	heartbeat := InstanceHeartbeat{
		InstanceID:    instanceID,
		WorkerID:      workerID,
		LastHeartbeat: at,
	}

	data, err := json.Marshal(heartbeat)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := r.client.Set(ctx, key, data, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}

	return nil
}

// ActiveInstances retrieves every instance with a live heartbeat
func (r *Repository) ActiveInstances(ctx context.Context) ([]InstanceHeartbeat, error) {
	pattern := heartbeatPrefix + ":*"
	var instances []InstanceHeartbeat

	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning heartbeat keys: %w", err)
		}

		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting heartbeat: %w", err)
			}

			var heartbeat InstanceHeartbeat
			if err := json.Unmarshal([]byte(data), &heartbeat); err != nil {
				continue
			}

			instances = append(instances, heartbeat)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return instances, nil
}
