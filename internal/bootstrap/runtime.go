// Package bootstrap wires the process-wide runtime (database, schema, Redis and
// development data) shared by the server and the tooling commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"troodie/internal/cache"
	"troodie/internal/config"
	"troodie/internal/database"
	"troodie/internal/middleware"
	"troodie/internal/models"
	"troodie/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedDemo bool
	// SkipSchema leaves the schema alone (cmd/migrate manages it explicitly).
	SkipSchema bool
}

// InitRuntime connects to DB and Redis, applies the schema and optionally
// seeds demo data. The Redis client is nil when Redis is unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if !opts.SkipSchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := EnsureDevAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}

	if opts.SeedDemo {
		if err := seed.Demo(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

// EnsureDevAdmin makes sure a development admin exists so moderation routes
// can be exercised locally. It does nothing outside development or when
// DEV_BOOTSTRAP_ADMIN is off.
func EnsureDevAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapAdmin {
		return nil
	}

	username := strings.TrimSpace(cfg.DevAdminUsername)
	if username == "" {
		username = "troodie_admin"
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var admin models.User
		findErr := tx.Where("username = ?", username).First(&admin).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			admin = models.User{Username: username, DisplayName: "Troodie Admin", IsAdmin: true}
			return tx.Create(&admin).Error
		case findErr != nil:
			return findErr
		case !admin.IsAdmin:
			return tx.Model(&models.User{}).Where("id = ?", admin.ID).Update("is_admin", true).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	middleware.Logger.Info("development admin ensured", slog.String("username", username))
	return nil
}
