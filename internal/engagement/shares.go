package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"troodie/internal/featureflags"
	"troodie/internal/models"
	"troodie/internal/observability"
	"troodie/internal/repository"
)

// ShareContent is what the share sheet is asked to present.
type ShareContent struct {
	PostID  uint
	URL     string
	Title   string
	Message string
}

// ShareMetadata is the caller-supplied part of ShareContent.
type ShareMetadata struct {
	Title   string
	Message string
}

// ShareSheet performs the user-facing share and reports the platform chosen.
type ShareSheet interface {
	Present(ctx context.Context, content ShareContent) (platform string, err error)
}

// Clipboard receives copied links.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// ShareResult reports a completed share.
type ShareResult struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform"`
}

// ShareManager performs shares and tracks them.
type ShareManager struct {
	e    *Engine
	repo repository.ShareRepository
}

// Link returns the public URL of postID.
func (m *ShareManager) Link(postID uint) string {
	return fmt.Sprintf("%s/posts/%d", strings.TrimRight(m.e.svc.opts.ShareBaseURL, "/"), postID)
}

// Share presents the share sheet and then tracks the share. Only the sheet
// can fail the call; tracking problems are logged.
func (m *ShareManager) Share(ctx context.Context, postID, userID uint, meta ShareMetadata, sheet ShareSheet) (ShareResult, error) {
	if sheet == nil {
		return ShareResult{}, models.NewInternalError(errors.New("no share sheet"))
	}
	if err := m.e.svc.postExists(ctx, postID); err != nil {
		return ShareResult{}, err
	}

	platform, err := sheet.Present(ctx, ShareContent{
		PostID:  postID,
		URL:     m.Link(postID),
		Title:   meta.Title,
		Message: meta.Message,
	})
	if err != nil {
		return ShareResult{}, fmt.Errorf("share sheet: %w", err)
	}
	if platform == "" {
		platform = models.PlatformUnknown
	}

	m.track(ctx, postID, userID, platform)
	return ShareResult{Success: true, Platform: platform}, nil
}

// CopyLink writes the post link to clip and then tracks it as a clipboard
// share.
func (m *ShareManager) CopyLink(ctx context.Context, postID, userID uint, clip Clipboard) (bool, error) {
	if clip == nil {
		return false, models.NewInternalError(errors.New("no clipboard"))
	}
	if err := m.e.svc.postExists(ctx, postID); err != nil {
		return false, err
	}
	if err := clip.WriteText(ctx, m.Link(postID)); err != nil {
		return false, fmt.Errorf("clipboard: %w", err)
	}

	m.track(ctx, postID, userID, models.PlatformClipboard)
	return true, nil
}

// track records the analytics row and bumps the cached share count. With the
// share_recount flag on, the bump is replaced by a recount.
func (m *ShareManager) track(ctx context.Context, postID, userID uint, platform string) {
	share := &models.Share{PostID: postID, Platform: platform}
	if userID != 0 {
		uid := userID
		share.UserID = &uid
	}

	fields := map[string]interface{}{"post_id": postID, "platform": platform}
	observability.LogAsyncOperationStart(ctx, "record_share", fields)
	if err := m.repo.Record(ctx, share); err != nil {
		observability.LogAsyncOperationError(ctx, "record_share", err, fields)
	} else {
		observability.LogAsyncOperationEnd(ctx, "record_share", fields)
	}

	if !m.e.svc.opts.Flags.Enabled(featureflags.ShareRecount, userID) {
		m.e.cache.Update(postID, models.FieldShares, 1)
		return
	}
	n, err := m.repo.Count(ctx, postID)
	if err != nil {
		m.e.cache.InvalidateCount(postID, models.FieldShares)
		observability.LogAsyncOperationError(ctx, "recount_shares", err, fields)
		return
	}
	m.e.cache.SetCount(postID, models.FieldShares, n)
	m.e.announce(ctx, postID, models.FieldShares, n)
}
