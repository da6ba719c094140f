package repository

import (
	"context"
	"errors"

	"troodie/internal/models"

	"gorm.io/gorm"
)

// PostRepository covers the little the engine needs to know about posts.
type PostRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	Exists(ctx context.Context, id uint) (bool, error)
	Create(ctx context.Context, post *models.Post) error
	ListIDs(ctx context.Context, limit int) ([]uint, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository returns a gorm-backed PostRepository.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := readDB(r.db).WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// ListIDs returns the newest post ids.
func (r *postRepository) ListIDs(ctx context.Context, limit int) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).
		Model(&models.Post{}).
		Order("created_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
