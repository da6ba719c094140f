// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"time"

	"troodie/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

var sharePlatforms = []string{"sms", "whatsapp", "instagram", "messages", models.PlatformClipboard}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB. A zero
// opts.RandSeed picks a time-based seed.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{db: db, opts: opts, faker: gofakeit.New(seed), nextID: 1000}
}

func (f *Factory) assignID() uint {
	f.nextID++
	return f.nextID
}

// CreateUser constructs and persists a sample `models.User`.
// Optional override functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username:    fmt.Sprintf("%s%d", f.faker.Username(), f.faker.Number(100, 999)),
		DisplayName: f.faker.Name(),
		Avatar:      fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		IsVerified:  f.faker.Number(1, 10) == 1,
	}
	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		user.ID = f.assignID()
		log.Printf("[dry-run] CreateUser: %s", user.Username)
		return user, nil
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildPost constructs a post for user with a created_at spread over the last
// MaxDays days. It does not persist it.
func (f *Factory) BuildPost(user *models.User, overrides ...func(*models.Post)) *models.Post {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.faker.Number(0, maxDays-1))*24*time.Hour +
		time.Duration(f.faker.Number(0, 23))*time.Hour +
		time.Duration(f.faker.Number(0, 59))*time.Minute

	post := &models.Post{
		UserID:    user.ID,
		Caption:   fmt.Sprintf("%s at %s", f.faker.Dessert(), f.faker.Company()),
		MediaURL:  fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.faker.UUID()),
		CreatedAt: time.Now().Add(-back),
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePost builds and persists a post for user.
func (f *Factory) CreatePost(user *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := f.BuildPost(user, overrides...)
	if f.opts.DryRun {
		post.ID = f.assignID()
		log.Printf("[dry-run] CreatePost: user=%d caption=%q", post.UserID, post.Caption)
		return post, nil
	}
	if err := f.db.Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// CreatePostsBatch persists multiple posts in a single DB call when possible.
func (f *Factory) CreatePostsBatch(posts []*models.Post) error {
	if f.opts.DryRun {
		for _, p := range posts {
			p.ID = f.assignID()
		}
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	batch := f.opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return f.db.CreateInBatches(&posts, batch).Error
}

// CreateComment constructs and persists a sample comment on post authored by
// user. A non-nil parent makes it a reply.
func (f *Factory) CreateComment(user *models.User, post *models.Post, parent *models.Comment, overrides ...func(*models.Comment)) (*models.Comment, error) {
	comment := &models.Comment{
		Content: f.faker.Sentence(f.faker.Number(3, 14)),
		UserID:  user.ID,
		PostID:  post.ID,
	}
	if parent != nil {
		root := parent.ID
		if parent.ParentCommentID != nil {
			root = *parent.ParentCommentID
		}
		comment.ParentCommentID = &root
	}
	for _, override := range overrides {
		override(comment)
	}

	if f.opts.DryRun {
		comment.ID = f.assignID()
		return comment, nil
	}
	if err := f.db.Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateLike persists a like from `user` on `post`.
func (f *Factory) CreateLike(user *models.User, post *models.Post) error {
	if f.opts.DryRun {
		return nil
	}
	return f.db.Create(&models.Like{UserID: user.ID, PostID: post.ID}).Error
}

// CreateSave persists a save from `user` on `post`.
func (f *Factory) CreateSave(user *models.User, post *models.Post) error {
	if f.opts.DryRun {
		return nil
	}
	return f.db.Create(&models.Save{UserID: user.ID, PostID: post.ID}).Error
}

// CreateShare records a share of post on a random platform. A nil user
// records an anonymous share.
func (f *Factory) CreateShare(user *models.User, post *models.Post) (*models.Share, error) {
	share := &models.Share{PostID: post.ID, Platform: f.faker.RandomString(sharePlatforms)}
	if user != nil {
		uid := user.ID
		share.UserID = &uid
	}
	if f.opts.DryRun {
		share.ID = f.assignID()
		return share, nil
	}
	if err := f.db.Create(share).Error; err != nil {
		return nil, err
	}
	return share, nil
}
