package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// Redisキーの接頭辞
const (
	sessionKeyPrefix     = "wheelhaven:session:"
	userSessionKeyPrefix = "wheelhaven:user_sessions:"
)

// RedisCmdable はセッションキャッシュが使用するRedisコマンドのサブセット。
// *redis.Client が満たす。
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// cachedSession はRedisに保存するセッションの表現。
type cachedSession struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CachedSessionRepo はSessionRepositoryの前段にRedisキャッシュを置くデコレータ。
// リクエストごとのセッション検証でPostgreSQLへの問い合わせを避ける。
// Redisの障害時はログを出力してPostgreSQLにフォールバックする。
type CachedSessionRepo struct {
	next   SessionRepository
	redis  RedisCmdable
	logger *slog.Logger
	now    func() time.Time
}

// NewCachedSessionRepo はCachedSessionRepoを生成する。
func NewCachedSessionRepo(next SessionRepository, rdb RedisCmdable, logger *slog.Logger) *CachedSessionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSessionRepo{next: next, redis: rdb, logger: logger, now: time.Now}
}

// Create はセッションを作成し、キャッシュに保存する。
func (r *CachedSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if err := r.next.Create(ctx, session); err != nil {
		return err
	}
	r.store(ctx, session)
	return nil
}

// FindByID はキャッシュからセッションを取得し、なければPostgreSQLから取得してキャッシュする。
func (r *CachedSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.redis.Get(ctx, sessionKeyPrefix+id).Bytes()
	switch {
	case err == nil:
		var cs cachedSession
		if jsonErr := json.Unmarshal(data, &cs); jsonErr == nil {
			if r.now().Before(cs.ExpiresAt) {
				return &model.Session{
					ID:          cs.ID,
					PrincipalID: cs.PrincipalID,
					Email:       cs.Email,
					ExpiresAt:   cs.ExpiresAt,
					CreatedAt:   cs.CreatedAt,
				}, nil
			}
			return nil, nil
		}
		r.logger.Warn("discarding malformed cached session", slog.String("session_id", id))
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn("session cache read failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	session, err := r.next.FindByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	r.store(ctx, session)
	return session, nil
}

// Extend は有効期限を延長し、キャッシュを更新する。
func (r *CachedSessionRepo) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	if err := r.next.Extend(ctx, id, expiresAt); err != nil {
		return err
	}
	r.evict(ctx, id)
	return nil
}

// DeleteByID はセッションを削除し、キャッシュからも削除する。
// キャッシュの削除に失敗した場合は失効済みセッションが残るためエラーを返す。
func (r *CachedSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	if err := r.redis.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to evict cached session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除し、キャッシュからも削除する。
func (r *CachedSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if err := r.next.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	ids, err := r.redis.SMembers(ctx, userSessionKeyPrefix+userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read cached user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, userSessionKeyPrefix+userID)
	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to evict cached user sessions: %w", err)
	}
	return nil
}

// store はセッションを有効期限までのTTLでキャッシュする。失敗はログのみ。
func (r *CachedSessionRepo) store(ctx context.Context, session *model.Session) {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedSession{
		ID:          session.ID,
		PrincipalID: session.PrincipalID,
		Email:       session.Email,
		ExpiresAt:   session.ExpiresAt,
		CreatedAt:   session.CreatedAt,
	})
	if err != nil {
		return
	}

	if err := r.redis.Set(ctx, sessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		r.logger.Warn("session cache write failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	userKey := userSessionKeyPrefix + session.PrincipalID
	if err := r.redis.SAdd(ctx, userKey, session.ID).Err(); err == nil {
		r.redis.Expire(ctx, userKey, ttl)
	}
}

func (r *CachedSessionRepo) evict(ctx context.Context, id string) {
	if err := r.redis.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		r.logger.Warn("session cache eviction failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface checks
var (
	_ SessionRepository = (*CachedSessionRepo)(nil)
	_ RedisCmdable      = (*redis.Client)(nil)
)
