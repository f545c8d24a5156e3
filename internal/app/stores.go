// Package app assembles storage, audit and session services from Config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/sessionguard/internal/audit"
	"github.com/gogotex/sessionguard/internal/config"
	"github.com/gogotex/sessionguard/internal/database"
	"github.com/gogotex/sessionguard/internal/sessions"
	"github.com/gogotex/sessionguard/internal/storage"
	"github.com/gogotex/sessionguard/internal/users"
	"github.com/gogotex/sessionguard/pkg/logger"
)

const (
	sessionsCollection = "refresh_sessions"
	usersCollection    = "users"
)

// Stores owns the backend connections. Close releases them in reverse order.
type Stores struct {
	Sessions sessions.Repository
	Users    users.UserRepository
	Redis    *redis.Client

	checks  map[string]func(context.Context) error
	closers []func()
}

func (s *Stores) addCheck(name string, fn func(context.Context) error) {
	if s.checks == nil {
		s.checks = map[string]func(context.Context) error{}
	}
	s.checks[name] = fn
}

// Open connects the backends cfg selects. Redis is connected when configured;
// a failed ping is fatal only when sessions or rate limiting depend on it.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.Sessions.Store == config.StoreRedis || cfg.RateLimit.UseRedis {
				return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr(), err)
			}
			logger.Warnf("redis unavailable at %s, continuing without it: %v", cfg.Redis.Addr(), err)
		} else {
			logger.Infof("connected to Redis at %s", cfg.Redis.Addr())
			s.Redis = client
			s.closers = append(s.closers, func() { _ = client.Close() })
			s.addCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		}
	}

	var mdb *mongo.Database
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Disconnect(context.Background()) })
		s.addCheck("mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) })
		mdb = client.Database(cfg.MongoDB.Database)

		ur := users.NewMongoUserRepository(mdb.Collection(usersCollection))
		if err := ur.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("users indexes: %w", err)
		}
		s.Users = ur
	} else {
		logger.Warnf("MONGODB_URI not set; user accounts are kept in memory")
		s.Users = users.NewMemoryRepository()
	}

	repo, err := s.openSessions(ctx, cfg, mdb)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Sessions = repo
	logger.Infof("session store: %s", cfg.Sessions.Store)
	return s, nil
}

func (s *Stores) openSessions(ctx context.Context, cfg *config.Config, mdb *mongo.Database) (sessions.Repository, error) {
	switch cfg.Sessions.Store {
	case config.StoreMongo:
		r := sessions.NewMongoRepository(mdb.Collection(sessionsCollection))
		if err := r.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("session indexes: %w", err)
		}
		return r, nil
	case config.StorePostgres:
		db, err := database.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Timeout)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.addCheck("postgres", func(ctx context.Context) error { return pingSQL(ctx, db) })
		return sessions.NewPostgresRepository(db), nil
	case config.StoreRedis:
		if s.Redis == nil {
			return nil, fmt.Errorf("redis session store requires a reachable Redis")
		}
		return sessions.NewRedisRepository(s.Redis, cfg.Sessions.RedisPrefix), nil
	case config.StoreMemory:
		logger.Warnf("sessions are kept in memory and lost on restart")
		return sessions.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown session store %q", cfg.Sessions.Store)
}

func pingSQL(ctx context.Context, db *sql.DB) error { return db.PingContext(ctx) }

// Ready pings every connected backend.
func (s *Stores) Ready(ctx context.Context) (map[string]bool, bool) {
	deps := map[string]bool{}
	ok := true
	for name, check := range s.checks {
		err := check(ctx)
		deps[name] = err == nil
		if err != nil {
			logger.Warnf("readiness: %s: %v", name, err)
			ok = false
		}
	}
	return deps, ok
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// EventSink builds the theft report fan-out: always the log, plus Redis
// pub/sub and a MinIO archive when configured. MinIO failures degrade to a
// warning.
func EventSink(ctx context.Context, cfg *config.Config, rdb *redis.Client) audit.Sink {
	sinks := audit.MultiSink{audit.LogSink{}}
	if rdb != nil && cfg.Audit.RedisChannel != "" {
		sinks = append(sinks, audit.NewRedisSink(rdb, cfg.Audit.RedisChannel))
	}
	if m := cfg.Audit.MinIO; m.Endpoint != "" {
		st, err := storage.NewMinIOStorage(ctx, storage.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Bucket:    m.Bucket,
		})
		if err != nil {
			logger.Warnf("security event archive disabled: %v", err)
		} else {
			sinks = append(sinks, audit.NewArchiveSink(st))
		}
	}
	return sinks
}

// SessionService wires the session service with the configured limits.
func SessionService(cfg *config.Config, repo sessions.Repository, sink audit.Sink) *sessions.Service {
	return sessions.NewService(repo, sessions.Config{
		RefreshTTL:          cfg.JWT.RefreshTokenTTL,
		MaxSessions:         cfg.Sessions.MaxPerIdentity,
		StrictDeviceBinding: cfg.Sessions.StrictDeviceBinding,
	}, sessions.WithEventSink(sink))
}
