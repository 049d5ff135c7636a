package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/wa-ai-bot-go/internal/config"
	"github.com/wa-ai-bot-go/internal/models"
)

// RedisStore is the alternative backend for deployments that already
// run Redis. Writes are immediate; Flush is a no-op.
type RedisStore struct {
	client *redis.Client
	limits Limits
	logger *logrus.Logger
}

type redisRecord struct {
	State models.ChatState          `json:"state"`
	Log   []models.ResponseLogEntry `json:"log"`
}

// NewRedisStore connects and pings the server
func NewRedisStore(cfg config.RedisConfig, limits Limits, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, limits: limits, logger: logger}, nil
}

func (r *RedisStore) key(chatID string) string {
	return fmt.Sprintf("chat:%s", chatID)
}

func (r *RedisStore) fetch(ctx context.Context, chatID string) (*redisRecord, error) {
	data, err := r.client.Get(ctx, r.key(chatID)).Result()
	if err == redis.Nil {
		return &redisRecord{State: models.ChatState{ChatID: chatID}}, nil
	}
	if err != nil {
		return nil, err
	}

	var record redisRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		r.logger.WithError(err).WithField("chat_id", chatID).Warn("Corrupt chat record, starting empty")
		return &redisRecord{State: models.ChatState{ChatID: chatID}}, nil
	}
	record.State.ChatID = chatID
	return &record, nil
}

func (r *RedisStore) save(ctx context.Context, chatID string, record *redisRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(chatID), data, 0).Err()
}

func (r *RedisStore) GetState(ctx context.Context, chatID string) (*models.ChatState, error) {
	record, err := r.fetch(ctx, chatID)
	if err != nil {
		return nil, err
	}
	state := record.State
	return &state, nil
}

func (r *RedisStore) RecordInteraction(ctx context.Context, chatID, message, reply, source string) error {
	record, err := r.fetch(ctx, chatID)
	if err != nil {
		return err
	}
	record.Log = applyInteraction(&record.State, record.Log, message, reply, source, r.limits, time.Now())
	return r.save(ctx, chatID, record)
}

func (r *RedisStore) ResponseLog(ctx context.Context, chatID string) ([]models.ResponseLogEntry, error) {
	record, err := r.fetch(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return record.Log, nil
}

func (r *RedisStore) Stats(ctx context.Context, chatID string) (models.ChatStats, error) {
	log, err := r.ResponseLog(ctx, chatID)
	if err != nil {
		return models.ChatStats{}, err
	}
	return statsFromLog(log), nil
}

func (r *RedisStore) Reset(ctx context.Context, chatID string) error {
	return r.client.Del(ctx, r.key(chatID)).Err()
}

func (r *RedisStore) Flush() error {
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
