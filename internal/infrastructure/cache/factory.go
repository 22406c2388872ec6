package cache

import (
	"fmt"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the ephemeral stores of one process
type Stores struct {
	Presence messaging.PresenceStore
	History  messaging.ConversationCache
	// Fanout is nil when the stores run in-process
	Fanout *RedisEventFanout
	client *redis.Client
}

// Distributed reports whether the stores are shared through Redis
func (s *Stores) Distributed() bool {
	return s.client != nil
}

// Client returns the shared Redis client, nil for in-process stores
func (s *Stores) Client() *redis.Client {
	return s.client
}

// Close stops the fan-out and closes the Redis client
func (s *Stores) Close() error {
	if s.Fanout != nil {
		_ = s.Fanout.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// StoreFactory creates the presence store, history cache and fan-out based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	ttls                  PresenceTTLs
	nodeID                string
	fanoutChannel         string
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory and the stores it creates
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-process stores when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg *config.Config, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg.Redis,
		ttls:                  PresenceTTLs{Online: cfg.Presence.OnlineTTL, Typing: cfg.Presence.TypingTTL},
		nodeID:                cfg.Realtime.NodeID,
		fanoutChannel:         cfg.Realtime.FanoutChannel,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisStores creates the Redis-backed stores sharing one client
func (f *StoreFactory) CreateRedisStores() (*Stores, error) {
	client, err := NewRedisClient(f.redisConfig)
	if err != nil {
		return nil, err
	}
	return f.WithClient(client), nil
}

// WithClient builds the Redis-backed stores on an existing client. The
// returned Stores owns the client.
func (f *StoreFactory) WithClient(client *redis.Client) *Stores {
	return &Stores{
		Presence: NewRedisPresenceStoreWithClient(client, f.ttls, f.logger),
		History:  NewRedisConversationCacheWithClient(client, f.logger),
		Fanout: NewRedisEventFanoutWithClient(client, f.nodeID,
			WithFanoutChannel(f.fanoutChannel),
			WithFanoutLogger(f.logger)),
		client: client,
	}
}

// CreateInMemoryStores creates in-process stores.
// WARNING: they do not share state across instances, so presence and
// realtime delivery only see users connected to this process.
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	return &Stores{
		Presence: NewInMemoryPresenceStore(f.ttls),
		History:  NewInMemoryConversationCache(),
	}
}

// CreateStores uses Redis when enabled and reachable, otherwise falls back
// to in-process stores if allowed
func (f *StoreFactory) CreateStores() (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory presence and history cache")
		return f.CreateInMemoryStores(), nil
	}

	stores, err := f.CreateRedisStores()
	if err == nil {
		f.logger.Info("Using Redis presence, history cache and fan-out",
			zap.String("addr", f.redisConfig.Addr()))
		return stores, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for presence but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory presence and history cache. "+
		"Realtime delivery will not cross instances.",
		zap.Error(err),
	)
	return f.CreateInMemoryStores(), nil
}
