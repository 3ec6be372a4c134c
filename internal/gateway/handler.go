package gateway

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/planlab/planner-orchestrator/internal/auth"
	"github.com/planlab/planner-orchestrator/internal/models"
	"github.com/planlab/planner-orchestrator/internal/planner"
)

// maxImportSize caps imported project payloads at 2 MiB.
const maxImportSize = 2 << 20

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	planner       *planner.Service
	jwtManager    *auth.JWTManager
	pool          *pgxpool.Pool
	tokenDuration time.Duration
	logger        *zap.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(plannerService *planner.Service, jwtManager *auth.JWTManager, pool *pgxpool.Pool, tokenDuration time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		planner:       plannerService,
		jwtManager:    jwtManager,
		pool:          pool,
		tokenDuration: tokenDuration,
		logger:        logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string          `json:"token"`
	UserID string          `json:"user_id"`
	User   models.UserInfo `json:"user"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, hashed_password, created_at, updated_at FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.HashedPassword, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		h.logger.Warn("user not found", zap.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		h.logger.Warn("invalid password", zap.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		user.ID,
		user.Email,
		[]string{"user"},
		h.tokenDuration,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: user.ID,
		User:   user.ToUserInfo(),
	})
}

// GetDefinitions godoc
// @Summary Section catalog
// @Description Return the ordered section definitions of the research plan
// @Tags definitions
// @Produce json
// @Success 200 {array} planner.SectionDefinition
// @Router /definitions [get]
func (h *Handler) GetDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, h.planner.Definitions())
}

// CreatePlanRequest represents a plan creation request
type CreatePlanRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreatePlan godoc
// @Summary Create plan
// @Description Create a new research plan with default state
// @Tags plans
// @Accept json
// @Produce json
// @Param request body CreatePlanRequest true "Plan details"
// @Success 201 {object} planner.Plan
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans [post]
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	plan, err := h.planner.CreatePlan(c.Request.Context(), userID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// ListPlans godoc
// @Summary List plans
// @Description List the authenticated user's plans
// @Tags plans
// @Produce json
// @Success 200 {array} planner.PlanSummary
// @Security BearerAuth
// @Router /plans [get]
func (h *Handler) ListPlans(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	plans, err := h.planner.ListPlans(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if plans == nil {
		plans = []planner.PlanSummary{}
	}
	c.JSON(http.StatusOK, plans)
}

// GetPlan godoc
// @Summary Get plan
// @Description Get a plan with its full state
// @Tags plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} planner.Plan
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id} [get]
func (h *Handler) GetPlan(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	plan, err := h.planner.GetPlan(c.Request.Context(), userID, planID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// DeletePlan godoc
// @Summary Delete plan
// @Description Delete a plan
// @Tags plans
// @Param id path string true "Plan ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id} [delete]
func (h *Handler) DeletePlan(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	if err := h.planner.DeletePlan(c.Request.Context(), userID, planID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetPlan godoc
// @Summary Reset plan
// @Description Replace a plan's state with fresh defaults
// @Tags plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} planner.Plan
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/reset [post]
func (h *Handler) ResetPlan(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	plan, err := h.planner.ResetPlan(c.Request.Context(), userID, planID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// UpdateSectionRequest represents a section content update
type UpdateSectionRequest struct {
	Content string `json:"content"`
}

// UpdateSection godoc
// @Summary Update section content
// @Description Replace one section's content
// @Tags sections
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param sectionId path string true "Section ID"
// @Param request body UpdateSectionRequest true "New content"
// @Success 200 {object} planner.Plan
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/sections/{sectionId} [put]
func (h *Handler) UpdateSection(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	var req UpdateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	plan, err := h.planner.UpdateSectionContent(c.Request.Context(), userID, planID, c.Param("sectionId"), req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// SetToggleRequest represents a toggle group switch
type SetToggleRequest struct {
	SectionID string `json:"section_id" binding:"required"`
}

// SetToggle godoc
// @Summary Switch toggle group
// @Description Set the active section of a toggle group (approach or dataMethod)
// @Tags sections
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param group path string true "Toggle group"
// @Param request body SetToggleRequest true "Active section"
// @Success 200 {object} planner.Plan
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/toggles/{group} [put]
func (h *Handler) SetToggle(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	var req SetToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	group := planner.SectionCategory(c.Param("group"))
	plan, err := h.planner.SetActiveToggle(c.Request.Context(), userID, planID, group, req.SectionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// FeedbackRequest represents a feedback round request
type FeedbackRequest struct {
	SectionID string `json:"section_id"`
}

// RequestFeedback godoc
// @Summary Request AI feedback
// @Description Run a reviewer round over the plan (one section, or every eligible section, depending on the service's mode)
// @Tags feedback
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param request body FeedbackRequest false "Target section (single mode)"
// @Success 200 {object} planner.AnalysisOutcome
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/feedback [post]
func (h *Handler) RequestFeedback(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	outcome, err := h.planner.RequestFeedback(c.Request.Context(), userID, planID, req.SectionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !outcome.Success {
		c.JSON(statusForCode(outcome.ErrorType), outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// ChatRequest represents one chat turn from the user
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ChatResponse carries the assistant's reply
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Chat godoc
// @Summary Section chat
// @Description Send a chat message about one section and receive the assistant's reply
// @Tags chat
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param sectionId path string true "Section ID"
// @Param request body ChatRequest true "Message"
// @Success 200 {object} ChatResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/sections/{sectionId}/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	reply, err := h.planner.SendChatMessage(c.Request.Context(), userID, planID, c.Param("sectionId"), req.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

// ImportPlan godoc
// @Summary Import project data
// @Description Replace a plan's state with reconciled project data in any supported historical shape
// @Tags plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} planner.Plan
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/import [post]
func (h *Handler) ImportPlan(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read request body", Code: models.ErrCodeInvalidRequest})
		return
	}

	plan, err := h.planner.ImportSnapshot(c.Request.Context(), userID, planID, raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// ExportPlan godoc
// @Summary Export project data
// @Description Export a plan as a portable snapshot
// @Tags plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} planner.Snapshot
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /plans/{id}/export [get]
func (h *Handler) ExportPlan(c *gin.Context) {
	userID, planID, ok := planScope(c)
	if !ok {
		return
	}

	snapshot, err := h.planner.ExportPlan(c.Request.Context(), userID, planID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// currentUserID extracts the authenticated user's id from the context.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get(auth.ContextUserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDVal.(string))
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid user ID", Code: models.ErrCodeUnauthorized})
		return uuid.Nil, false
	}
	return userID, true
}

// planScope extracts the authenticated user and the plan id path param.
func planScope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid plan ID", Code: models.ErrCodeInvalidRequest})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, planID, true
}

// respondError maps a service error onto an HTTP response.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := planner.ErrorCode(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(status, models.ErrorResponse{Error: "Internal server error", Code: code})
		return
	}
	c.JSON(status, models.ErrorResponse{Error: err.Error(), Code: code})
}

// statusForCode maps wire-level error codes onto HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case models.ErrCodePlanNotFound, models.ErrCodeSectionNotFound, models.ErrCodeDefinitionNotFound, models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeNoMeaningfulContent, models.ErrCodeNothingToAnalyze, models.ErrCodeInvalidProjectFormat:
		return http.StatusUnprocessableEntity
	case models.ErrCodeAIBusy:
		return http.StatusConflict
	case models.ErrCodeExternalCallFailure, models.ErrCodeInvalidResponseShape:
		return http.StatusBadGateway
	case models.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
