package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngagementStats_CountAndWithCount(t *testing.T) {
	base := EngagementStats{PostID: 4}
	for i, f := range StatsFields {
		next := base.WithCount(f, int64(i+10))
		assert.Equal(t, int64(i+10), next.Count(f), f)
		assert.Zero(t, base.Count(f), "WithCount must not modify the receiver")
	}
	assert.Zero(t, base.Count("views"))
	assert.Equal(t, base, base.WithCount("views", 5))
}

func TestEngagementStats_ViewerFlagsOmittedWhenAnonymous(t *testing.T) {
	raw, err := json.Marshal(EngagementStats{PostID: 1, LikesCount: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "is_liked_by_user")

	raw, err = json.Marshal(EngagementStats{PostID: 1, IsLikedByUser: BoolPtr(false)})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"is_liked_by_user":false`)
}

func TestReactionKind_Field(t *testing.T) {
	assert.Equal(t, FieldLikes, ReactionLike.Field())
	assert.Equal(t, FieldSaves, ReactionSave.Field())
}

func TestComment_KeyAndPlaceholder(t *testing.T) {
	stored := &Comment{ID: 12}
	pending := &Comment{TempID: "temp-1"}

	assert.Equal(t, "c:12", stored.Key())
	assert.Equal(t, "tmp:temp-1", pending.Key())
	assert.False(t, stored.IsPlaceholder())
	assert.True(t, pending.IsPlaceholder())

	// a confirmed comment keeps its temp id for reconciliation but is no longer pending
	confirmed := &Comment{ID: 13, TempID: "temp-2"}
	assert.False(t, confirmed.IsPlaceholder())
	assert.Equal(t, "c:13", confirmed.Key())
}

func TestComment_CloneIsDeep(t *testing.T) {
	parent := uint(1)
	orig := &Comment{
		ID:      1,
		Content: "root",
		Replies: []*Comment{{ID: 2, ParentCommentID: &parent, Content: "reply"}},
	}

	cp := orig.Clone()
	cp.Content = "edited"
	cp.Replies[0].Content = "changed"
	*cp.Replies[0].ParentCommentID = 99

	assert.Equal(t, "root", orig.Content)
	assert.Equal(t, "reply", orig.Replies[0].Content)
	assert.Equal(t, uint(1), *orig.Replies[0].ParentCommentID)
	assert.True(t, orig.IsTopLevel())
	assert.False(t, orig.Replies[0].IsTopLevel())

	assert.Nil(t, (*Comment)(nil).Clone())
	assert.Nil(t, CloneComments(nil))
	assert.Len(t, CloneComments([]*Comment{orig}), 1)
}

func TestAuthorOf(t *testing.T) {
	assert.Equal(t, Author{UserID: 3, Name: "ben"}, AuthorOf(&User{ID: 3, Username: "ben"}))
	assert.Equal(t, Author{UserID: 2, Name: "Ana", Avatar: "a.png", Verified: true},
		AuthorOf(&User{ID: 2, Username: "ana", DisplayName: "Ana", Avatar: "a.png", IsVerified: true}))
	assert.True(t, UnknownAuthor(7).IsUnknown())
	assert.Equal(t, uint(7), UnknownAuthor(7).UserID)
	assert.False(t, AuthorOf(&User{ID: 3, Username: "ben"}).IsUnknown())
}

func TestErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewWriteFailedError("toggle like", errors.New("timeout")))

	assert.Equal(t, CodeWriteFailed, ErrorCode(wrapped))
	assert.Equal(t, CodeStaleView, ErrorCode(ErrStaleView))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
	assert.Equal(t, "toggle like failed: timeout", errors.Unwrap(wrapped).Error())
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorResponse
	}{
		{"app error", http.StatusNotFound, NewNotFoundError("Post", 9),
			ErrorResponse{Error: "Post with ID 9 not found", Code: CodeNotFound}},
		{"details below 500", http.StatusConflict, NewWriteFailedError("save", errors.New("conn reset")),
			ErrorResponse{Error: "save failed", Code: CodeWriteFailed, Details: "conn reset"}},
		{"internal hides cause", http.StatusInternalServerError, NewInternalError(errors.New("secret")),
			ErrorResponse{Error: "Internal server error", Code: CodeInternal}},
		{"plain error", http.StatusBadRequest, errors.New("bad"), ErrorResponse{Error: "bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return RespondWithError(c, tt.status, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			var got ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}
