package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendr/loanflow/pkg/api"
)

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>            => gob-encoded redisInstancePayload
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:status:<status>  => SET of instance IDs for a given status
//
// Compare-and-swap is implemented with WATCH on the instance key: of two
// racing writers, the one whose transaction commits first wins and the
// other observes api.ErrConflict.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

type redisInstancePayload struct {
	ID        string
	Step      string
	Status    string
	Input     []byte
	Outputs   []byte
	Signals   []byte
	Error     string
	Version   int64
	CreatedAt int64
	UpdatedAt int64
}

var allStatuses = []api.Status{
	api.StatusRunning,
	api.StatusWaitingOnActivity,
	api.StatusWaitingOnSignal,
	api.StatusCompleted,
	api.StatusFailed,
}

// NewRedisInstanceStore creates a RedisInstanceStore.
// prefix is optional but recommended (e.g. "loanflow:").
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "loanflow:"
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisInstanceStore) keyInstance(id string) string {
	return s.prefix + "inst:" + id
}

func (s *RedisInstanceStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisInstanceStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisPayload(inst *api.WorkflowInstance) ([]byte, error) {
	input, outputs, signals, err := encodeInstanceBlobs(inst)
	if err != nil {
		return nil, err
	}

	payload := redisInstancePayload{
		ID:        inst.ID,
		Step:      string(inst.Step),
		Status:    string(inst.Status),
		Input:     input,
		Outputs:   outputs,
		Signals:   signals,
		Error:     inst.Err,
		Version:   inst.Version,
		CreatedAt: inst.CreatedAt.UnixNano(),
		UpdatedAt: inst.UpdatedAt.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisPayload(data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, api.ErrInstanceNotFound
	}
	var payload redisInstancePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	input, err := DecodeValue(payload.Input)
	if err != nil {
		return nil, err
	}
	outputs, err := DecodeOutputs(payload.Outputs)
	if err != nil {
		return nil, err
	}
	signals, err := DecodeSignals(payload.Signals)
	if err != nil {
		return nil, err
	}

	return &api.WorkflowInstance{
		ID:        payload.ID,
		Step:      api.Step(payload.Step),
		Status:    api.Status(payload.Status),
		Input:     input,
		Outputs:   outputs,
		Signals:   signals,
		Err:       payload.Error,
		Version:   payload.Version,
		CreatedAt: time.Unix(0, payload.CreatedAt),
		UpdatedAt: time.Unix(0, payload.UpdatedAt),
	}, nil
}

func (s *RedisInstanceStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	inst.Version = 1
	data, err := encodeRedisPayload(inst)
	if err != nil {
		return err
	}

	key := s.keyInstance(inst.ID)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrInstanceExists
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, api.ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisPayload(data)
}

func (s *RedisInstanceStore) ListInstances(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	var ids []string
	var err error
	if opts.Status != "" {
		ids, err = s.client.SMembers(ctx, s.keyStatus(opts.Status)).Result()
	} else {
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		return nil, err
	}

	var out []*api.WorkflowInstance
	for _, id := range ids {
		inst, err := s.GetInstance(ctx, id)
		if errors.Is(err, api.ErrInstanceNotFound) {
			// Index entry outlived the instance key; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Step != "" && inst.Step != opts.Step {
			continue
		}
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *RedisInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	key := s.keyInstance(inst.ID)

	inst.UpdatedAt = time.Now()
	inst.Version = expectedVersion + 1
	data, err := encodeRedisPayload(inst)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return api.ErrInstanceNotFound
		}
		if err != nil {
			return err
		}

		current, err := decodeRedisPayload(stored)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return api.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			for _, st := range allStatuses {
				if st != inst.Status {
					pipe.SRem(ctx, s.keyStatus(st), inst.ID)
				}
			}
			pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		err = api.ErrConflict
	}
	if err != nil {
		inst.Version = expectedVersion
		return err
	}
	return nil
}

// RedisEventStore journals milestone events in Redis lists, one list per
// workflow instance.
type RedisEventStore struct {
	client *redis.Client
	prefix string
}

var _ EventStore = (*RedisEventStore)(nil)

type redisEventPayload struct {
	WorkflowID string
	Seq        int64
	Stage      string
	Payload    []byte
	At         int64
}

func NewRedisEventStore(client *redis.Client, prefix string) *RedisEventStore {
	if prefix == "" {
		prefix = "loanflow:"
	}
	return &RedisEventStore{client: client, prefix: prefix}
}

func (s *RedisEventStore) keyEvents(id string) string {
	return s.prefix + "events:" + id
}

func (s *RedisEventStore) keySeq(id string) string {
	return s.prefix + "events:seq:" + id
}

func (s *RedisEventStore) AppendEvent(ctx context.Context, ev *api.Event) error {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	seq, err := s.client.Incr(ctx, s.keySeq(ev.WorkflowID)).Result()
	if err != nil {
		return err
	}

	rec := redisEventPayload{
		WorkflowID: ev.WorkflowID,
		Seq:        seq,
		Stage:      string(ev.Stage),
		Payload:    payload,
		At:         ev.At.UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return err
	}

	if err := s.client.RPush(ctx, s.keyEvents(ev.WorkflowID), buf.Bytes()).Err(); err != nil {
		return err
	}
	ev.Seq = seq
	return nil
}

func (s *RedisEventStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	items, err := s.client.LRange(ctx, s.keyEvents(workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []api.Event
	for _, item := range items {
		var rec redisEventPayload
		if err := gob.NewDecoder(bytes.NewReader([]byte(item))).Decode(&rec); err != nil {
			return nil, err
		}
		p, err := DecodeValue(rec.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, api.Event{
			WorkflowID: rec.WorkflowID,
			Seq:        rec.Seq,
			Stage:      api.Stage(rec.Stage),
			Payload:    p,
			At:         time.Unix(0, rec.At),
		})
	}
	return out, nil
}
