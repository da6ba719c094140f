package repository

import (
	"context"
	"errors"

	"troodie/internal/cache"
	"troodie/internal/models"

	"gorm.io/gorm"
)

// UserRepository resolves author identities.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// GetAuthor returns the display snapshot of id, served from Redis when cached.
	GetAuthor(ctx context.Context, id uint) (models.Author, error)
	// GetAuthors resolves many ids with one query. Unknown ids are absent from the map.
	GetAuthors(ctx context.Context, ids []uint) (map[uint]models.Author, error)
	Create(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetAuthor(ctx context.Context, id uint) (models.Author, error) {
	var author models.Author
	err := cache.Aside(ctx, cache.AuthorKey(id), &author, cache.AuthorTTL, func() error {
		user, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		author = models.AuthorOf(user)
		return nil
	})
	return author, err
}

func (r *userRepository) GetAuthors(ctx context.Context, ids []uint) (map[uint]models.Author, error) {
	ids = uniqueIDs(ids)
	out := make(map[uint]models.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := readDB(r.db).WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = models.AuthorOf(&users[i])
	}
	return out, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return err
	}
	cache.InvalidateAuthor(ctx, user.ID)
	return nil
}
