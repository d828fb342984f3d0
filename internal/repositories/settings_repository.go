package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"support-chat/internal/models"
)

// SettingsRepository reads and writes the singleton chat settings row.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (models.ChatSettings, error)
	UpdateSettings(ctx context.Context, settings models.ChatSettings) (models.ChatSettings, error)
}

// SettingsRepo is the sqlx-backed SettingsRepository.
type SettingsRepo struct {
	db *sqlx.DB
}

// NewSettingsRepo constructs a SettingsRepo.
func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

const settingsColumns = `whatsapp_number, chat_timeout, chat_enabled, updated_at`

// EnsureSettings inserts defaults when the row does not exist yet.
func (r *SettingsRepo) EnsureSettings(ctx context.Context, defaults models.ChatSettings) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_settings (id, whatsapp_number, chat_timeout, chat_enabled)
        VALUES (1, $1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		defaults.WhatsAppNumber, defaults.TimeoutSeconds(), defaults.ChatEnabled)
	return err
}

// GetSettings returns the current settings, falling back to defaults when unseeded.
func (r *SettingsRepo) GetSettings(ctx context.Context) (models.ChatSettings, error) {
	var settings models.ChatSettings
	err := r.db.GetContext(ctx, &settings, `SELECT `+settingsColumns+` FROM chat_settings WHERE id=1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSettings{ChatTimeout: models.DefaultChatTimeout, ChatEnabled: true}, nil
	}
	return settings, err
}

// UpdateSettings overwrites the settings row.
func (r *SettingsRepo) UpdateSettings(ctx context.Context, settings models.ChatSettings) (models.ChatSettings, error) {
	var stored models.ChatSettings
	err := r.db.GetContext(ctx, &stored, `INSERT INTO chat_settings (id, whatsapp_number, chat_timeout, chat_enabled, updated_at)
        VALUES (1, $1, $2, $3, NOW())
        ON CONFLICT (id) DO UPDATE SET whatsapp_number = EXCLUDED.whatsapp_number,
            chat_timeout = EXCLUDED.chat_timeout, chat_enabled = EXCLUDED.chat_enabled, updated_at = NOW()
        RETURNING `+settingsColumns,
		settings.WhatsAppNumber, settings.TimeoutSeconds(), settings.ChatEnabled)
	return stored, err
}

const settingsCacheKey = "support-chat:settings:chat"

// CachedSettings serves reads from redis and falls through to the wrapped
// repository on miss or redis error. A nil client disables caching.
type CachedSettings struct {
	next   SettingsRepository
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCachedSettings wraps next with a redis read-through cache.
func NewCachedSettings(next SettingsRepository, client redis.UniversalClient, ttl time.Duration) *CachedSettings {
	return &CachedSettings{next: next, client: client, ttl: ttl}
}

// GetSettings returns cached settings when present.
func (c *CachedSettings) GetSettings(ctx context.Context) (models.ChatSettings, error) {
	if c.client == nil {
		return c.next.GetSettings(ctx)
	}

	raw, err := c.client.Get(ctx, settingsCacheKey).Bytes()
	if err == nil {
		var settings models.ChatSettings
		if jsonErr := json.Unmarshal(raw, &settings); jsonErr == nil {
			return settings, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("settings cache read failed", "error", err)
	}

	settings, err := c.next.GetSettings(ctx)
	if err != nil {
		return models.ChatSettings{}, err
	}
	if payload, err := json.Marshal(settings); err == nil {
		if err := c.client.Set(ctx, settingsCacheKey, payload, c.ttl).Err(); err != nil {
			slog.Warn("settings cache write failed", "error", err)
		}
	}
	return settings, nil
}

// UpdateSettings writes through and invalidates the cached copy.
func (c *CachedSettings) UpdateSettings(ctx context.Context, settings models.ChatSettings) (models.ChatSettings, error) {
	stored, err := c.next.UpdateSettings(ctx, settings)
	if err != nil {
		return models.ChatSettings{}, err
	}
	if c.client != nil {
		if err := c.client.Del(ctx, settingsCacheKey).Err(); err != nil {
			slog.Warn("settings cache invalidate failed", "error", err)
		}
	}
	return stored, nil
}

// NewRedisClient returns nil when addr is empty.
func NewRedisClient(addr, password string, db int) redis.UniversalClient {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}
