package seed

import (
	"testing"

	"troodie/internal/database"
	"troodie/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

func TestRun_WritesConsistentEngagement(t *testing.T) {
	db := openTestDB(t)

	sum, err := Run(db, Options{NumUsers: 8, NumPosts: 10, RandSeed: 99})
	require.NoError(t, err)

	var users, posts, likes, saves, shares int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	require.NoError(t, db.Model(&models.Like{}).Count(&likes).Error)
	require.NoError(t, db.Model(&models.Save{}).Count(&saves).Error)
	require.NoError(t, db.Model(&models.Share{}).Count(&shares).Error)
	assert.Equal(t, int64(8), users)
	assert.Equal(t, int64(10), posts)
	assert.Equal(t, int64(sum.Likes), likes)
	assert.Equal(t, int64(sum.Saves), saves)
	assert.Equal(t, int64(sum.Shares), shares)
	assert.Positive(t, sum.Likes)

	var topLevel, replies int64
	require.NoError(t, db.Model(&models.Comment{}).Where("parent_comment_id IS NULL").Count(&topLevel).Error)
	require.NoError(t, db.Model(&models.Comment{}).Where("parent_comment_id IS NOT NULL").Count(&replies).Error)
	assert.Equal(t, int64(sum.Comments), topLevel)
	assert.Equal(t, int64(sum.Replies), replies)

	// replies only ever point at top-level comments of the same post
	var orphans int64
	require.NoError(t, db.Table("comments AS r").
		Joins("JOIN comments AS p ON p.id = r.parent_comment_id").
		Where("p.parent_comment_id IS NOT NULL OR p.post_id <> r.post_id").
		Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestDemo_IsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Demo(db))
	var first int64
	require.NoError(t, db.Model(&models.Post{}).Count(&first).Error)
	assert.Equal(t, int64(30), first)

	require.NoError(t, Demo(db))
	var second int64
	require.NoError(t, db.Model(&models.Post{}).Count(&second).Error)
	assert.Equal(t, first, second)
}

func TestClearAll(t *testing.T) {
	db := openTestDB(t)
	_, err := Run(db, Options{NumUsers: 3, NumPosts: 3, RandSeed: 1})
	require.NoError(t, err)

	require.NoError(t, NewSeeder(db, Options{}).ClearAll())

	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.Like{}).Count(&n).Error)
	assert.Zero(t, n)
}
