// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"errors"
	"fmt"
	"log"

	"troodie/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumPosts    int
	ShouldClean bool

	// DryRun builds entities with synthetic IDs and writes nothing.
	DryRun    bool
	MaxDays   int
	BatchSize int
	// RandSeed makes a run reproducible; zero means time-based.
	RandSeed int64
}

// Engagement odds per (user, post) pair, in percent.
const (
	likeChance    = 35
	saveChance    = 12
	commentChance = 15
	replyChance   = 40
	shareChance   = 5
)

// Seeder populates users, posts and their engagement.
type Seeder struct {
	db *gorm.DB
	f  *Factory
}

// NewSeeder creates a seeder over db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{db: db, f: NewFactory(db, opts)}
}

// ClearAll removes every engagement row, post and user.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing existing data...")
	if s.db.Dialector.Name() == "postgres" {
		return s.db.Exec(`TRUNCATE TABLE shares, saves, likes, comments, posts, users RESTART IDENTITY CASCADE;`).Error
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&models.Share{}, &models.Save{}, &models.Like{}, &models.Comment{}, &models.Post{}, &models.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedUsers creates count users.
func (s *Seeder) SeedUsers(count int) ([]*models.User, error) {
	users := make([]*models.User, 0, count)
	for i := 0; i < count; i++ {
		u, err := s.f.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("create user %d: %w", i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// SeedPosts creates count posts spread over users.
func (s *Seeder) SeedPosts(users []*models.User, count int) ([]*models.Post, error) {
	if len(users) == 0 {
		return nil, errors.New("seed posts: no users")
	}
	posts := make([]*models.Post, 0, count)
	for i := 0; i < count; i++ {
		author := users[s.f.faker.Number(0, len(users)-1)]
		posts = append(posts, s.f.BuildPost(author))
	}
	if err := s.f.CreatePostsBatch(posts); err != nil {
		return nil, fmt.Errorf("create posts: %w", err)
	}
	return posts, nil
}

// EngagementSummary reports what SeedEngagement wrote.
type EngagementSummary struct {
	Likes    int
	Saves    int
	Comments int
	Replies  int
	Shares   int
}

func (s *Seeder) roll(percent int) bool {
	return s.f.faker.Number(1, 100) <= percent
}

// SeedEngagement walks every (user, post) pair and rolls likes, saves,
// comments, replies and shares. Each pair gets at most one like and save.
func (s *Seeder) SeedEngagement(users []*models.User, posts []*models.Post) (EngagementSummary, error) {
	var sum EngagementSummary
	for _, post := range posts {
		var topLevel []*models.Comment
		for _, user := range users {
			if s.roll(likeChance) {
				if err := s.f.CreateLike(user, post); err != nil {
					return sum, fmt.Errorf("like post %d: %w", post.ID, err)
				}
				sum.Likes++
			}
			if s.roll(saveChance) {
				if err := s.f.CreateSave(user, post); err != nil {
					return sum, fmt.Errorf("save post %d: %w", post.ID, err)
				}
				sum.Saves++
			}
			if s.roll(commentChance) {
				var parent *models.Comment
				if len(topLevel) > 0 && s.roll(replyChance) {
					parent = topLevel[s.f.faker.Number(0, len(topLevel)-1)]
				}
				c, err := s.f.CreateComment(user, post, parent)
				if err != nil {
					return sum, fmt.Errorf("comment on post %d: %w", post.ID, err)
				}
				if parent == nil {
					topLevel = append(topLevel, c)
					sum.Comments++
				} else {
					sum.Replies++
				}
			}
			if s.roll(shareChance) {
				if _, err := s.f.CreateShare(user, post); err != nil {
					return sum, fmt.Errorf("share post %d: %w", post.ID, err)
				}
				sum.Shares++
			}
		}
	}
	return sum, nil
}

// Run seeds opts.NumUsers users and opts.NumPosts posts with engagement.
func Run(db *gorm.DB, opts Options) (EngagementSummary, error) {
	log.Printf("🌱 Starting database seeding with %d users and %d posts...", opts.NumUsers, opts.NumPosts)

	s := NewSeeder(db, opts)
	if opts.ShouldClean && !opts.DryRun {
		if err := s.ClearAll(); err != nil {
			log.Printf("⚠️  Warning: could not clear existing data: %v", err)
		}
	}

	users, err := s.SeedUsers(opts.NumUsers)
	if err != nil {
		return EngagementSummary{}, err
	}
	log.Printf("✓ %d users created", len(users))

	posts, err := s.SeedPosts(users, opts.NumPosts)
	if err != nil {
		return EngagementSummary{}, err
	}
	log.Printf("✓ %d posts created", len(posts))

	sum, err := s.SeedEngagement(users, posts)
	if err != nil {
		return sum, err
	}
	log.Printf("✓ engagement: %d likes, %d saves, %d comments, %d replies, %d shares",
		sum.Likes, sum.Saves, sum.Comments, sum.Replies, sum.Shares)
	return sum, nil
}

// Demo seeds a small fixed dataset into an empty database. It is a no-op once
// any post exists.
func Demo(db *gorm.DB) error {
	var n int64
	if err := db.Model(&models.Post{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := Run(db, Options{NumUsers: 12, NumPosts: 30, MaxDays: 30, RandSeed: 42})
	return err
}
