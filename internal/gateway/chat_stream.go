package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/planlab/planner-orchestrator/internal/models"
	"github.com/planlab/planner-orchestrator/internal/planner"
)

var wsTracer = otel.Tracer("chat-stream")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsChatTimeout  = 2 * time.Minute
)

// ChatStream serves the per-plan chat WebSocket. Each inbound frame is
// one chat turn for one section; the assistant's reply comes back on the
// same connection.
type ChatStream struct {
	planner *planner.Service
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewChatStream creates a chat stream endpoint.
func NewChatStream(plannerService *planner.Service, logger *zap.Logger) *ChatStream {
	return &ChatStream{
		planner: plannerService,
		logger:  logger,
		tracer:  wsTracer,
	}
}

// chatTurn is one inbound frame from the client.
type chatTurn struct {
	SectionID string `json:"section_id"`
	Message   string `json:"message"`
}

// chatEvent is one outbound frame to the client.
type chatEvent struct {
	Type      string `json:"type"`
	SectionID string `json:"section_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stream handles WebSocket /api/ws/plans/:id/chat
// @Summary Stream section chat
// @Description WebSocket endpoint for per-section chat; send {"section_id","message"} frames, receive ack and assistant_message events
// @Tags chat
// @Param id path string true "Plan ID"
// @Param token query string false "Bearer token (alternative to Authorization header)"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/plans/{id}/chat [get]
func (cs *ChatStream) Stream(c *gin.Context) {
	ctx, span := cs.tracer.Start(c.Request.Context(), "chat_stream.stream")
	defer span.End()

	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("plan.id", planID.String()),
		attribute.String("user.id", userID.String()),
	)

	// Ownership check before the upgrade, while we can still answer with
	// a proper status code.
	if _, err := cs.planner.GetPlan(ctx, userID, planID); err != nil {
		span.RecordError(err)
		if errors.Is(err, planner.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Plan not found", Code: models.ErrCodePlanNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error", Code: models.ErrCodeInternalError})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		cs.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	cs.logger.Info("chat stream opened",
		zap.String("plan_id", planID.String()),
		zap.String("user_id", userID.String()),
	)

	for {
		var turn chatTurn
		if err := conn.ReadJSON(&turn); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Debug("chat stream read error", zap.Error(err))
			}
			break
		}
		if turn.SectionID == "" || turn.Message == "" {
			cs.writeEvent(conn, chatEvent{
				Type:  "error",
				Code:  models.ErrCodeInvalidRequest,
				Error: "section_id and message are required",
			})
			continue
		}

		cs.writeEvent(conn, chatEvent{Type: "ack", SectionID: turn.SectionID})

		turnCtx, cancel := context.WithTimeout(ctx, wsChatTimeout)
		reply, err := cs.planner.SendChatMessage(turnCtx, userID, planID, turn.SectionID, turn.Message)
		cancel()
		if err != nil {
			span.RecordError(err)
			cs.writeEvent(conn, chatEvent{
				Type:      "error",
				SectionID: turn.SectionID,
				Code:      planner.ErrorCode(err),
				Error:     err.Error(),
			})
			continue
		}

		cs.writeEvent(conn, chatEvent{
			Type:      "assistant_message",
			SectionID: turn.SectionID,
			Content:   reply,
		})
	}

	cs.logger.Info("chat stream closed", zap.String("plan_id", planID.String()))
}

func (cs *ChatStream) writeEvent(conn *websocket.Conn, event chatEvent) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(event); err != nil {
		cs.logger.Debug("chat stream write error", zap.Error(err))
	}
}
