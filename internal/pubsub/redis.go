package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

// Config holds Redis connection configuration for the event bridge.
type Config struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisBridge implements Bridge on Redis pub/sub.
type RedisBridge struct {
	client        *redis.Client
	mu            sync.Mutex
	subscriptions []*redis.PubSub
}

// NewRedisBridge connects to Redis and returns an event bridge.
func NewRedisBridge(cfg Config) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBridge{client: client}, nil
}

// Publish pushes one domain event to the room's channel.
func (b *RedisBridge) Publish(ctx context.Context, event domain.Event) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return fmt.Errorf("failed to wrap event: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, RoomEventsChannel(event.Room()), data).Err()
}

// Subscribe delivers events for one room.
func (b *RedisBridge) Subscribe(ctx context.Context, roomID int64) (<-chan *Envelope, error) {
	pubsub := b.client.Subscribe(ctx, RoomEventsChannel(roomID))
	return b.track(ctx, pubsub), nil
}

// SubscribeAll delivers events for every room.
func (b *RedisBridge) SubscribeAll(ctx context.Context) (<-chan *Envelope, error) {
	pubsub := b.client.PSubscribe(ctx, ChannelRoomEventsPattern)
	return b.track(ctx, pubsub), nil
}

func (b *RedisBridge) track(ctx context.Context, pubsub *redis.PubSub) <-chan *Envelope {
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, pubsub)
	b.mu.Unlock()

	out := make(chan *Envelope, 100)
	go b.forward(ctx, pubsub, out)
	return out
}

// Close closes all subscriptions and the Redis client.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pubsub := range b.subscriptions {
		pubsub.Close()
	}
	b.subscriptions = nil
	return b.client.Close()
}

// forward reads raw messages off one subscription and decodes them.
func (b *RedisBridge) forward(ctx context.Context, pubsub *redis.PubSub, out chan<- *Envelope) {
	defer close(out)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger := log.L()
				logger.Warn().Err(err).Msg("dropping undecodable event envelope")
				continue
			}

			select {
			case out <- &env:
			case <-ctx.Done():
				return
			default:
				// Slow consumer, drop rather than block the bridge.
			}
		}
	}
}
