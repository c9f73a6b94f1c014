package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager stores bearer-token sessions in Redis. The session id is the
// token's jti, so destroying the session revokes the token before it expires.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// Session holds per-login session data.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl, now: time.Now}
}

// Start opens a new session for userID.
func (sm *SessionManager) Start(ctx context.Context, userID int64) (*Session, error) {
	now := sm.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.ttl),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	pipe := sm.client.TxPipeline()
	pipe.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl)
	pipe.SAdd(ctx, sm.userKey(userID), sess.ID)
	pipe.Expire(ctx, sm.userKey(userID), sm.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// Load returns the live session with id or ErrSessionExpired.
func (sm *SessionManager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionExpired
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Destroy deletes a single session.
func (sm *SessionManager) Destroy(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	pipe := sm.client.TxPipeline()
	pipe.Del(ctx, sm.redisKey(sess.ID))
	pipe.SRem(ctx, sm.userKey(sess.UserID), sess.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// DestroyUser revokes every session belonging to userID.
func (sm *SessionManager) DestroyUser(ctx context.Context, userID int64) error {
	ids, err := sm.client.SMembers(ctx, sm.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sm.redisKey(id))
	}
	keys = append(keys, sm.userKey(userID))
	return sm.client.Del(ctx, keys...).Err()
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

func (sm *SessionManager) redisKey(id string) string {
	return "tam:session:" + id
}

func (sm *SessionManager) userKey(userID int64) string {
	return "tam:user-sessions:" + strconv.FormatInt(userID, 10)
}
