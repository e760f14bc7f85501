package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoResult means the register holds nothing for that submission.
var ErrNoResult = errors.New("no recorded result")

// Record is one completed analysis, retained briefly so a client whose
// real-time channel dropped can still fetch the result it missed.
type Record struct {
	SubmissionID string    `json:"submissionId"`
	Prompt       string    `json:"prompt"`
	HTML         string    `json:"html"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Register is the last-completed-analysis side channel. Implementations
// are free to cap retention; the contract is best-effort recovery, not
// durable storage.
type Register interface {
	Store(ctx context.Context, rec Record) error
	Load(ctx context.Context, submissionID string) (*Record, error)
}

// MemoryRegister is a single-slot register: the most recent completion
// wins and evicts whatever was there. Used when Redis is not configured.
type MemoryRegister struct {
	mu   sync.Mutex
	slot *Record
}

func NewMemoryRegister() *MemoryRegister {
	return &MemoryRegister{}
}

func (m *MemoryRegister) Store(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = &rec
	return nil
}

func (m *MemoryRegister) Load(ctx context.Context, submissionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil || m.slot.SubmissionID != submissionID {
		return nil, ErrNoResult
	}
	rec := *m.slot
	return &rec, nil
}

const redisKeyPrefix = "healthboard:analysis:last:"

// RedisRegister keeps each completion under its submission id with a
// short TTL, surviving server restarts between completion and recovery.
type RedisRegister struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisRegister(cfg RedisConfig) (*RedisRegister, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RedisRegister{client: client, ttl: cfg.TTL}, nil
}

func (r *RedisRegister) Store(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+rec.SubmissionID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

func (r *RedisRegister) Load(ctx context.Context, submissionID string) (*Record, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+submissionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("loading record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegister) Close() error {
	return r.client.Close()
}
