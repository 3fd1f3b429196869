package rebuild

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"userachievements/internal/achievements"
)

// Unlock releases a lock taken by Locker.Lock.
type Unlock func(ctx context.Context) error

// Locker serializes rebuilds and purges of the same achievement. A held lock
// is reported as achievements.ErrRebuildInProgress.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

func lockKey(achievementID string) string {
	return "userachievements:rebuild:" + achievementID
}

func inProgress(key string) error {
	return achievements.NewError(achievements.CodeRebuildInProgress, nil, "%s is held by another run", key)
}

// LocalLocker locks within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

func (l *LocalLocker) Lock(_ context.Context, key string, _ time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, inProgress(key)
	}
	token := uuid.NewString()
	l.held[key] = token
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is left alone.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker locks across every process sharing one Redis.
type RedisLocker struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisLocker connects to redisURL and pings it.
func NewRedisLocker(ctx context.Context, redisURL string, log *zap.Logger) (*RedisLocker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("redis rebuild lock ready",
		zap.String("addr", options.Addr),
		zap.Int("db", options.DB),
	)
	return &RedisLocker{client: client, log: log}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", key, err)
	}
	if !ok {
		return nil, inProgress(key)
	}
	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release rebuild lock", zap.String("key", key), zap.Error(err))
			return err
		}
		return nil
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
