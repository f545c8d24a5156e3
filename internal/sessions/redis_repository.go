package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogotex/sessionguard/pkg/logger"
)

const redisCASRetries = 5

// RedisRepository implements Repository using Redis as the backing store.
//
// Keys:
//
//	<prefix>tok:<tokenHash>  JSON session
//	<prefix>user:<userID>    set of token hashes
//	<prefix>active:<userID>:<deviceID>  token hash of the device's unrevoked session
//
// Records carry no TTL: revoked records must stay findable until the sweeper
// removes them.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) tokKey(hash string) string { return r.prefix + "tok:" + hash }
func (r *RedisRepository) userKey(uid string) string { return r.prefix + "user:" + uid }
func (r *RedisRepository) activeKey(uid, device string) string {
	return r.prefix + "active:" + uid + ":" + device
}

// releaseActiveScript deletes KEYS[1] only while it still names ARGV[1].
const releaseActiveScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Create writes the record and claims the device slot in one WATCH/MULTI
// transaction, so two concurrent creates for one device cannot both succeed.
// A slot naming a record that is gone or revoked is stale and is taken over.
func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := r.tokKey(s.TokenHash)
	active := r.activeKey(s.UserID, s.DeviceID)
	for i := 0; i < redisCASRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return errors.New("duplicate token hash")
			}
			if !s.Revoked {
				holder, err := tx.Get(ctx, active).Result()
				if err != nil && err != redis.Nil {
					return err
				}
				if err == nil {
					cur, err := r.GetByTokenHash(ctx, holder)
					if err != nil {
						return err
					}
					if cur != nil && !cur.Revoked {
						return ErrActiveDeviceSession
					}
				}
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, b, 0)
				p.SAdd(ctx, r.userKey(s.UserID), s.TokenHash)
				if !s.Revoked {
					p.Set(ctx, active, s.TokenHash, 0)
				}
				return nil
			})
			return err
		}, key, active)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrActiveDeviceSession
}

func decodeSession(b []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	b, err := r.client.Get(ctx, r.tokKey(tokenHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return decodeSession(b)
}

// userSessions loads every record referenced by the user's index set.
// Members whose record is gone are dropped from the set.
func (r *RedisRepository) userSessions(ctx context.Context, userID string) ([]*Session, error) {
	hashes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = r.tokKey(h)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(vals))
	var stale []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, hashes[i])
			continue
		}
		s, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, r.userKey(userID), stale...).Err(); err != nil {
			logger.Debugf("prune stale session index of user %s: %v", userID, err)
		}
	}
	return out, nil
}

func (r *RedisRepository) ListUnrevoked(ctx context.Context, userID string) ([]*Session, error) {
	all, err := r.userSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if !s.Revoked {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// Revoke uses WATCH/MULTI: if the record changes between read and write the
// transaction aborts and the read is retried, so only one caller flips it.
// The device slot is released in the same transaction.
func (r *RedisRepository) Revoke(ctx context.Context, tokenHash string, usedAt *time.Time) (bool, error) {
	key := r.tokKey(tokenHash)
	for i := 0; i < redisCASRetries; i++ {
		flipped := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			b, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			s, err := decodeSession(b)
			if err != nil {
				return err
			}
			if s.Revoked {
				return nil
			}
			s.Revoked = true
			if usedAt != nil {
				t := *usedAt
				s.LastUsedAt = &t
			}
			nb, err := json.Marshal(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, nb, 0)
				p.Eval(ctx, releaseActiveScript, []string{r.activeKey(s.UserID, s.DeviceID)}, s.TokenHash)
				return nil
			})
			if err == nil {
				flipped = true
			}
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, err
		}
		return flipped, nil
	}
	return false, fmt.Errorf("revoke %s: too much contention", tokenHash)
}

func (r *RedisRepository) revokeMatching(ctx context.Context, userID string, match func(*Session) bool) (int64, error) {
	all, err := r.userSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, s := range all {
		if s.Revoked || !match(s) {
			continue
		}
		ok, err := r.Revoke(ctx, s.TokenHash, nil)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (r *RedisRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revokeMatching(ctx, userID, func(*Session) bool { return true })
}

func (r *RedisRepository) RevokeForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	return r.revokeMatching(ctx, userID, func(s *Session) bool { return s.DeviceID == deviceID })
}

func (r *RedisRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	var (
		n      int64
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.tokKey("*"), 200).Result()
		if err != nil {
			return n, err
		}
		for _, key := range keys {
			b, err := r.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return n, err
			}
			s, err := decodeSession(b)
			if err != nil {
				return n, err
			}
			if !s.purgeable(now) {
				continue
			}
			if _, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				p.SRem(ctx, r.userKey(s.UserID), s.TokenHash)
				p.Eval(ctx, releaseActiveScript, []string{r.activeKey(s.UserID, s.DeviceID)}, s.TokenHash)
				return nil
			}); err != nil {
				return n, err
			}
			n++
		}
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}
