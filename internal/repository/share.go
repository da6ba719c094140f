package repository

import (
	"context"

	"troodie/internal/models"
	"troodie/internal/observability"

	"gorm.io/gorm"
)

// ShareRepository records share analytics.
type ShareRepository interface {
	Record(ctx context.Context, share *models.Share) error
	Count(ctx context.Context, postID uint) (int64, error)
	CountByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error)
}

type shareRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewShareRepository returns a gorm-backed ShareRepository.
func NewShareRepository(db *gorm.DB) ShareRepository {
	return &shareRepository{db: db, log: observability.NewRepoLogger("shares")}
}

func (r *shareRepository) Record(ctx context.Context, share *models.Share) (err error) {
	ctx, done := observe(ctx, "Record", "shares")
	defer func() { done(err) }()

	if err := r.db.WithContext(ctx).Create(share).Error; err != nil {
		r.log.LogError(ctx, err, "record")
		return err
	}
	return nil
}

func (r *shareRepository) Count(ctx context.Context, postID uint) (n int64, err error) {
	ctx, done := observe(ctx, "Count", "shares")
	defer func() { done(err) }()

	err = r.db.WithContext(ctx).Model(&models.Share{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

func (r *shareRepository) CountByPosts(ctx context.Context, postIDs []uint) (counts map[uint]int64, err error) {
	postIDs = uniqueIDs(postIDs)
	if len(postIDs) == 0 {
		return map[uint]int64{}, nil
	}
	ctx, done := observe(ctx, "CountByPosts", "shares")
	defer func() { done(err) }()

	var rows []idCount
	if err := r.db.WithContext(ctx).
		Model(&models.Share{}).
		Select("post_id AS id, COUNT(*) AS count").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return countMap(postIDs, rows), nil
}
