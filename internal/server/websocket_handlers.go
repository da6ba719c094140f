package server

import (
	"context"
	"encoding/json"

	"troodie/internal/engagement"
	"troodie/internal/models"
	"troodie/internal/notifications"
	"troodie/internal/observability"
	"troodie/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	localsEngine = "engagementEngine"
	localsPostID = "streamPostID"
)

// createCommentFrame is the payload of a client "create" frame.
type createCommentFrame struct {
	Content         string `json:"content"`
	ParentCommentID *uint  `json:"parent_comment_id"`
}

func wsUpgradeRequired(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// prepareCommentStream resolves the post and the caller's session before the
// upgrade, while plain HTTP errors can still be returned.
func (s *Server) prepareCommentStream(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	exists, err := s.postRepo.Exists(c.UserContext(), postID)
	if err != nil {
		return respondErr(c, err)
	}
	if !exists {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Post", postID))
	}

	c.Locals(localsEngine, s.engineFor(c))
	c.Locals(localsPostID, postID)
	return c.Next()
}

// CommentStreamHandler streams a post's reconciled comment list: a "state"
// frame with the hydrated snapshot, then insert/update/delete frames from
// other sessions and stats frames from recounts. Authenticated clients may
// send {"type":"create","payload":{...}} frames to post comments through the
// same optimistic path the engine uses.
func (s *Server) CommentStreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		engine, _ := conn.Locals(localsEngine).(*engagement.Engine)
		postID, _ := conn.Locals(localsPostID).(uint)
		userID, _ := conn.Locals("userID").(uint)
		wsLog := observability.NewWSLogger(s.hub.Name())
		if engine == nil || postID == 0 {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(postID, userID, conn)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage,
				notifications.EncodeFrame(notifications.FrameError, fiber.Map{"error": err.Error()}))
			_ = conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		view, err := engine.SubscribeToComments(ctx, postID, realtime.Handlers{
			OnInsert: func(c *models.Comment) {
				client.TrySend(notifications.EncodeFrame(notifications.FrameCommentInsert, c))
			},
			OnUpdate: func(c *models.Comment) {
				client.TrySend(notifications.EncodeFrame(notifications.FrameCommentUpdate, c))
			},
			OnDelete: func(id uint) {
				client.TrySend(notifications.EncodeFrame(notifications.FrameCommentDelete, fiber.Map{"id": id}))
			},
		})
		if err != nil {
			wsLog.LogError(ctx, userID, postID, err, "subscribe")
			s.hub.UnregisterClient(client)
			_ = conn.WriteMessage(websocket.TextMessage,
				notifications.EncodeFrame(notifications.FrameError, fiber.Map{"error": "comments unavailable"}))
			_ = conn.Close()
			return
		}
		defer engine.Unsubscribe(view)

		client.TrySend(notifications.EncodeFrame(notifications.FrameState, fiber.Map{
			"state":    view.State().String(),
			"comments": view.Snapshot(),
		}))

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var frame notifications.Frame
			if err := json.Unmarshal(message, &frame); err != nil || frame.Type != "create" {
				return
			}
			if userID == 0 {
				c.TrySend(notifications.EncodeFrame(notifications.FrameError, fiber.Map{"error": "Authorization required"}))
				return
			}
			var req createCommentFrame
			if err := json.Unmarshal(frame.Payload, &req); err != nil {
				c.TrySend(notifications.EncodeFrame(notifications.FrameError, fiber.Map{"error": "Invalid create frame"}))
				return
			}

			created, err := engine.SubmitComment(ctx, view, engagement.CreateCommentInput{
				PostID:          postID,
				UserID:          userID,
				Content:         req.Content,
				ParentCommentID: req.ParentCommentID,
			})
			if err != nil {
				c.TrySend(notifications.EncodeFrame(notifications.FrameError, fiber.Map{
					"error": err.Error(),
					"code":  models.ErrorCode(err),
				}))
				return
			}
			c.TrySend(notifications.EncodeFrame(notifications.FrameCommentCreated, created))
		}

		go client.WritePump()
		client.ReadPump()
	})
}
