package leads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config contains lead store configuration
type Config struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store persists captured caller leads in Redis. A disabled store accepts
// all calls and does nothing, so sessions never need to care whether lead
// persistence is configured.
type Store struct {
	config Config
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	upserts uint64
	failed  uint64
}

// Stats represents store statistics for monitoring
type Stats struct {
	Enabled bool   `json:"enabled"`
	Upserts uint64 `json:"upserts"`
	Failed  uint64 `json:"failed"`
}

// NewStore creates a lead store. When disabled, no Redis connection is made.
func NewStore(config Config, logger *slog.Logger) (*Store, error) {
	if !config.Enabled {
		return &Store{config: config, logger: logger}, nil
	}

	if config.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "lead:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// Enabled reports whether lead persistence is active
func (s *Store) Enabled() bool {
	return s.config.Enabled
}

// Upsert stores or refreshes a lead keyed by phone number
func (s *Store) Upsert(ctx context.Context, phone, name string) error {
	if !s.config.Enabled {
		return nil
	}

	if phone == "" {
		return fmt.Errorf("phone cannot be empty")
	}

	key := s.config.KeyPrefix + phone
	err := s.client.HSet(ctx, key,
		"name", name,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()

	s.mu.Lock()
	s.upserts++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}

	s.logger.Info("Lead upserted",
		slog.String("phone", phone),
		slog.String("name", name),
	)

	return nil
}

// GetStats returns current store statistics
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Enabled: s.config.Enabled,
		Upserts: s.upserts,
		Failed:  s.failed,
	}
}

// Close releases the Redis connection
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
