package repository

import (
	"context"
	"fmt"

	"troodie/internal/database"
	"troodie/internal/models"
	"troodie/internal/observability"

	"gorm.io/gorm"
)

// ReactionRepository persists one per-user toggle (likes or saves).
//
// Add and Remove report whether they changed anything. A row that already
// exists on Add, or is already gone on Remove, is reported as (false, nil):
// the desired end state holds and the caller must not treat it as a failure.
type ReactionRepository interface {
	Exists(ctx context.Context, userID, postID uint) (bool, error)
	Add(ctx context.Context, userID, postID uint) (bool, error)
	Remove(ctx context.Context, userID, postID uint) (bool, error)
	Count(ctx context.Context, postID uint) (int64, error)
	CountByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error)
	ActivePostIDs(ctx context.Context, userID uint, postIDs []uint) ([]uint, error)
}

type reactionRepository struct {
	db    *gorm.DB
	kind  models.ReactionKind
	table string
	model func() any
	log   *observability.RepoLogger
}

// NewLikeRepository returns the ReactionRepository for likes.
func NewLikeRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{
		db:    db,
		kind:  models.ReactionLike,
		table: "likes",
		model: func() any { return &models.Like{} },
		log:   observability.NewRepoLogger("likes"),
	}
}

// NewSaveRepository returns the ReactionRepository for saves.
func NewSaveRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{
		db:    db,
		kind:  models.ReactionSave,
		table: "saves",
		model: func() any { return &models.Save{} },
		log:   observability.NewRepoLogger("saves"),
	}
}

func (r *reactionRepository) Exists(ctx context.Context, userID, postID uint) (active bool, err error) {
	ctx, done := observe(ctx, "Exists", r.table)
	defer func() { done(err) }()

	var count int64
	if err := r.db.WithContext(ctx).
		Model(r.model()).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *reactionRepository) Add(ctx context.Context, userID, postID uint) (created bool, err error) {
	ctx, done := observe(ctx, "Add", r.table)
	defer func() { done(err) }()

	// ON CONFLICT absorbs the common race; the unique-violation check covers
	// stores or constraints the clause does not match.
	result := r.db.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO %s (user_id, post_id, created_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (user_id, post_id) DO NOTHING`, r.table),
		userID, postID,
	)
	if result.Error != nil {
		if database.IsUniqueViolation(result.Error) {
			observability.ConflictsSatisfied.WithLabelValues(string(r.kind), "add").Inc()
			return false, nil
		}
		r.log.LogError(ctx, result.Error, "add")
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		observability.ConflictsSatisfied.WithLabelValues(string(r.kind), "add").Inc()
		return false, nil
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": userID, "post_id": postID})
	return true, nil
}

func (r *reactionRepository) Remove(ctx context.Context, userID, postID uint) (removed bool, err error) {
	ctx, done := observe(ctx, "Remove", r.table)
	defer func() { done(err) }()

	result := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(r.model())
	if result.Error != nil {
		r.log.LogError(ctx, result.Error, "remove")
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		observability.ConflictsSatisfied.WithLabelValues(string(r.kind), "remove").Inc()
		return false, nil
	}
	r.log.LogDelete(ctx, map[string]interface{}{"user_id": userID, "post_id": postID})
	return true, nil
}

func (r *reactionRepository) Count(ctx context.Context, postID uint) (n int64, err error) {
	ctx, done := observe(ctx, "Count", r.table)
	defer func() { done(err) }()

	err = r.db.WithContext(ctx).Model(r.model()).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

func (r *reactionRepository) CountByPosts(ctx context.Context, postIDs []uint) (counts map[uint]int64, err error) {
	postIDs = uniqueIDs(postIDs)
	if len(postIDs) == 0 {
		return map[uint]int64{}, nil
	}
	ctx, done := observe(ctx, "CountByPosts", r.table)
	defer func() { done(err) }()

	var rows []idCount
	if err := r.db.WithContext(ctx).
		Model(r.model()).
		Select("post_id AS id, COUNT(*) AS count").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return countMap(postIDs, rows), nil
}

func (r *reactionRepository) ActivePostIDs(ctx context.Context, userID uint, postIDs []uint) (ids []uint, err error) {
	postIDs = uniqueIDs(postIDs)
	if len(postIDs) == 0 {
		return nil, nil
	}
	ctx, done := observe(ctx, "ActivePostIDs", r.table)
	defer func() { done(err) }()

	err = r.db.WithContext(ctx).
		Model(r.model()).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &ids).Error
	return ids, err
}
