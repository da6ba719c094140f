package repository

import (
	"context"
	"errors"
	"time"

	"troodie/internal/models"
	"troodie/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines persistence operations for comments and replies.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error)
	// Delete removes the comment and its replies. It reports false when the
	// comment was already gone.
	Delete(ctx context.Context, id uint) (bool, error)
	// ListTopLevel returns up to limit top-level comments, newest first,
	// strictly older than before when before is set.
	ListTopLevel(ctx context.Context, postID uint, limit int, before *time.Time) ([]*models.Comment, error)
	// ListReplies returns up to limit replies of parentID, oldest first.
	ListReplies(ctx context.Context, parentID uint, limit int) ([]*models.Comment, error)
	CountTopLevel(ctx context.Context, postID uint) (int64, error)
	CountTopLevelByPosts(ctx context.Context, postIDs []uint) (map[uint]int64, error)
	ReplyCounts(ctx context.Context, parentIDs []uint) (map[uint]int64, error)
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger("comments")}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) (err error) {
	ctx, done := observe(ctx, "Create", "comments")
	defer func() { done(err) }()

	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"comment_id": comment.ID, "post_id": comment.PostID})
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (c *models.Comment, err error) {
	ctx, done := observe(ctx, "GetByID", "comments")
	defer func() { done(err) }()

	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Comment", id)
		}
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, id uint, content string) (c *models.Comment, err error) {
	ctx, done := observe(ctx, "UpdateContent", "comments")
	defer func() { done(err) }()

	result := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Comment", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"comment_id": id})

	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) Delete(ctx context.Context, id uint) (removed bool, err error) {
	ctx, done := observe(ctx, "Delete", "comments")
	defer func() { done(err) }()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_comment_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Comment{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return false, err
	}
	if removed {
		r.log.LogDelete(ctx, map[string]interface{}{"comment_id": id})
	} else {
		observability.ConflictsSatisfied.WithLabelValues("comment", "delete").Inc()
	}
	return removed, nil
}

func (r *commentRepository) ListTopLevel(ctx context.Context, postID uint, limit int, before *time.Time) (list []*models.Comment, err error) {
	ctx, done := observe(ctx, "ListTopLevel", "comments")
	defer func() { done(err) }()

	q := readDB(r.db).WithContext(ctx).
		Where("post_id = ? AND parent_comment_id IS NULL", postID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	err = q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *commentRepository) ListReplies(ctx context.Context, parentID uint, limit int) (list []*models.Comment, err error) {
	ctx, done := observe(ctx, "ListReplies", "comments")
	defer func() { done(err) }()

	err = readDB(r.db).WithContext(ctx).
		Where("parent_comment_id = ?", parentID).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *commentRepository) CountTopLevel(ctx context.Context, postID uint) (n int64, err error) {
	ctx, done := observe(ctx, "CountTopLevel", "comments")
	defer func() { done(err) }()

	err = r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("post_id = ? AND parent_comment_id IS NULL", postID).
		Count(&n).Error
	return n, err
}

func (r *commentRepository) CountTopLevelByPosts(ctx context.Context, postIDs []uint) (counts map[uint]int64, err error) {
	postIDs = uniqueIDs(postIDs)
	if len(postIDs) == 0 {
		return map[uint]int64{}, nil
	}
	ctx, done := observe(ctx, "CountTopLevelByPosts", "comments")
	defer func() { done(err) }()

	var rows []idCount
	if err := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("post_id AS id, COUNT(*) AS count").
		Where("post_id IN ? AND parent_comment_id IS NULL", postIDs).
		Group("post_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return countMap(postIDs, rows), nil
}

func (r *commentRepository) ReplyCounts(ctx context.Context, parentIDs []uint) (counts map[uint]int64, err error) {
	parentIDs = uniqueIDs(parentIDs)
	if len(parentIDs) == 0 {
		return map[uint]int64{}, nil
	}
	ctx, done := observe(ctx, "ReplyCounts", "comments")
	defer func() { done(err) }()

	var rows []idCount
	if err := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("parent_comment_id AS id, COUNT(*) AS count").
		Where("parent_comment_id IN ?", parentIDs).
		Group("parent_comment_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return countMap(parentIDs, rows), nil
}
