package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/planlab/planner-orchestrator/internal/llm"
	"github.com/planlab/planner-orchestrator/internal/metrics"
)

// chatHistoryLimit caps how much transcript is sent to the model per turn.
const chatHistoryLimit = 20

// aiBusyLease bounds how long a plan's busy flag is honored. A process
// that dies between taking the flag and releasing it leaves busy_since
// behind; acquirers treat a flag older than the lease as free. Must
// exceed the completion client timeout.
const aiBusyLease = 5 * time.Minute

const chatFallbackReply = "I'm sorry, I couldn't reach the assistant just now. Please try again in a moment."

// Plan is a stored research plan together with its full state.
type Plan struct {
	ID          uuid.UUID  `json:"id"`
	OwnerUserID uuid.UUID  `json:"owner_user_id"`
	Name        string     `json:"name"`
	State       *PlanState `json:"state"`
	AIBusy      bool       `json:"ai_busy"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PlanSummary is the listing view of a plan, without its state.
type PlanSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AIBusy    bool      `json:"ai_busy"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service owns plan persistence and coordinates the AI operations on top
// of it. Every state mutation runs inside a transaction holding a row
// lock on the plan, and the two AI operations (feedback and chat)
// additionally take the plan's busy flag so at most one of them is in
// flight per plan.
type Service struct {
	pool         *pgxpool.Pool
	defs         []SectionDefinition
	orchestrator *FeedbackOrchestrator
	chatClient   llm.CompletionClient
	metrics      *metrics.FeedbackMetrics
	logger       *zap.Logger
}

// NewService creates a planner service.
func NewService(pool *pgxpool.Pool, defs []SectionDefinition, orchestrator *FeedbackOrchestrator, chatClient llm.CompletionClient, fm *metrics.FeedbackMetrics, logger *zap.Logger) *Service {
	return &Service{
		pool:         pool,
		defs:         defs,
		orchestrator: orchestrator,
		chatClient:   chatClient,
		metrics:      fm,
		logger:       logger,
	}
}

// Definitions returns the section catalog the service was built with.
func (s *Service) Definitions() []SectionDefinition {
	return s.defs
}

// EnsureSchema creates the tables the service needs if they do not exist.
func (s *Service) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			state JSONB NOT NULL,
			ai_busy BOOLEAN NOT NULL DEFAULT FALSE,
			busy_since TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE plans ADD COLUMN IF NOT EXISTS busy_since TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_plans_owner_user_id ON plans(owner_user_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// CreatePlan creates a plan with default state for the given owner.
func (s *Service) CreatePlan(ctx context.Context, ownerID uuid.UUID, name string) (*Plan, error) {
	state := NewPlanState(s.defs)
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan state: %w", err)
	}

	plan := &Plan{OwnerUserID: ownerID, Name: name, State: state}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO plans (owner_user_id, name, state)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		ownerID, name, stateJSON,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}
	return plan, nil
}

// GetPlan loads a plan owned by the given user. The stored state is
// normalized against the current definition table before it is returned.
func (s *Service) GetPlan(ctx context.Context, ownerID, planID uuid.UUID) (*Plan, error) {
	plan := &Plan{}
	var stateJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, name, state, ai_busy, created_at, updated_at
		 FROM plans
		 WHERE id = $1 AND owner_user_id = $2`,
		planID, ownerID,
	).Scan(&plan.ID, &plan.OwnerUserID, &plan.Name, &stateJSON, &plan.AIBusy, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	state := &PlanState{}
	if err := json.Unmarshal(stateJSON, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan state: %w", err)
	}
	state.Normalize(s.defs)
	plan.State = state
	return plan, nil
}

// ListPlans lists the given user's plans, newest first.
func (s *Service) ListPlans(ctx context.Context, ownerID uuid.UUID) ([]PlanSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, ai_busy, created_at, updated_at
		 FROM plans
		 WHERE owner_user_id = $1
		 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []PlanSummary
	for rows.Next() {
		var p PlanSummary
		if err := rows.Scan(&p.ID, &p.Name, &p.AIBusy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

// DeletePlan deletes a plan owned by the given user.
func (s *Service) DeletePlan(ctx context.Context, ownerID, planID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM plans WHERE id = $1 AND owner_user_id = $2`,
		planID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// UpdateSectionContent replaces one section's content.
func (s *Service) UpdateSectionContent(ctx context.Context, ownerID, planID uuid.UUID, sectionID, content string) (*Plan, error) {
	return s.mutateState(ctx, ownerID, planID, func(state *PlanState) error {
		return state.UpdateSectionContent(sectionID, content)
	})
}

// SetActiveToggle switches the active section of a toggle group.
func (s *Service) SetActiveToggle(ctx context.Context, ownerID, planID uuid.UUID, group SectionCategory, sectionID string) (*Plan, error) {
	return s.mutateState(ctx, ownerID, planID, func(state *PlanState) error {
		return state.SetActiveToggle(s.defs, group, sectionID)
	})
}

// ResetPlan replaces a plan's state with a fresh default state. Resets
// are refused while an AI operation is running; any feedback requested
// before the reset would fail its revision check anyway, but refusing
// keeps the stored transcript from interleaving with in-flight chat.
func (s *Service) ResetPlan(ctx context.Context, ownerID, planID uuid.UUID) (*Plan, error) {
	return s.mutateState(ctx, ownerID, planID, func(state *PlanState) error {
		fresh := NewPlanState(s.defs)
		*state = *fresh
		return nil
	})
}

// ImportSnapshot parses raw project data in any supported historical
// shape, reconciles it against the current definitions, and replaces the
// plan's state atomically. A payload that matches no shape leaves the
// plan untouched.
func (s *Service) ImportSnapshot(ctx context.Context, ownerID, planID uuid.UUID, raw []byte) (*Plan, error) {
	loaded, err := ParseSnapshot(raw)
	if err != nil {
		return nil, err
	}
	reconciled := Reconcile(s.defs, loaded)
	return s.mutateState(ctx, ownerID, planID, func(state *PlanState) error {
		*state = *reconciled
		return nil
	})
}

// ExportPlan returns the export snapshot of a plan.
func (s *Service) ExportPlan(ctx context.Context, ownerID, planID uuid.UUID) (Snapshot, error) {
	plan, err := s.GetPlan(ctx, ownerID, planID)
	if err != nil {
		return Snapshot{}, err
	}
	return ExportSnapshot(plan.State), nil
}

// RequestFeedback runs a reviewer round for the plan. The plan's busy
// flag is taken for the duration of the external call; results are
// merged afterwards under a fresh row lock, and any section edited while
// the call was in flight keeps its newer content and gets no feedback.
func (s *Service) RequestFeedback(ctx context.Context, ownerID, planID uuid.UUID, sectionID string) (*AnalysisOutcome, error) {
	mode := string(s.orchestrator.Mode())
	snapshot, err := s.acquireBusy(ctx, ownerID, planID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordFeedbackRequested(ctx, mode, sectionID)

	outcome := s.orchestrator.Analyze(ctx, s.defs, snapshot, sectionID)
	if !outcome.Success {
		s.releaseBusy(planID)
		s.metrics.RecordFeedbackFailed(ctx, mode, outcome.ErrorType, outcome.Duration)
		return outcome, nil
	}

	applied, err := s.mergeFeedback(ctx, ownerID, planID, outcome)
	if err != nil {
		s.metrics.RecordFeedbackFailed(ctx, mode, "merge_failed", outcome.Duration)
		return nil, err
	}
	if applied < len(outcome.Results) {
		s.logger.Info("discarded stale feedback",
			zap.String("plan_id", planID.String()),
			zap.Int("returned", len(outcome.Results)),
			zap.Int("applied", applied),
		)
	}
	s.metrics.RecordFeedbackCompleted(ctx, mode, applied, outcome.Duration)
	return outcome, nil
}

// SendChatMessage appends the user's message to a section's transcript,
// asks the model for a reply, and appends that too. A failed model call
// still produces an assistant turn, carrying a fallback apology, so the
// transcript never ends on an unanswered message.
func (s *Service) SendChatMessage(ctx context.Context, ownerID, planID uuid.UUID, sectionID, message string) (string, error) {
	def := FindDefinition(s.defs, sectionID)
	if def == nil {
		return "", ErrSectionNotFound
	}

	snapshot, err := s.acquireBusyWith(ctx, ownerID, planID, func(state *PlanState) error {
		if _, ok := state.Sections[sectionID]; !ok {
			return ErrSectionNotFound
		}
		state.AddChatMessage(sectionID, "user", message)
		return nil
	})
	if err != nil {
		return "", err
	}

	messages := []llm.Message{
		{Role: "system", Content: chatSystemPrompt(def, snapshot.Sections[sectionID].Content)},
	}
	transcript := snapshot.ChatMessages[sectionID]
	if len(transcript) > chatHistoryLimit {
		transcript = transcript[len(transcript)-chatHistoryLimit:]
	}
	for _, msg := range transcript {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	reply, err := s.chatClient.Chat(ctx, messages, llm.WithTemperature(0.9))
	if err != nil {
		s.logger.Error("chat call failed",
			zap.String("plan_id", planID.String()),
			zap.String("section_id", sectionID),
			zap.Error(err),
		)
		reply = chatFallbackReply
	}

	err = s.withLockedState(context.WithoutCancel(ctx), ownerID, planID, func(state *PlanState) error {
		state.AddChatMessage(sectionID, "assistant", reply)
		return nil
	}, true)
	if err != nil {
		s.releaseBusy(planID)
		return "", err
	}
	return reply, nil
}

// mutateState applies fn to the plan's state inside a row-locked
// transaction and persists the result. Mutations are refused while an AI
// operation holds the busy flag.
func (s *Service) mutateState(ctx context.Context, ownerID, planID uuid.UUID, fn func(*PlanState) error) (*Plan, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	plan, err := s.lockPlan(ctx, tx, ownerID, planID)
	if err != nil {
		return nil, err
	}
	if plan.AIBusy {
		return nil, ErrAIBusy
	}
	if err := fn(plan.State); err != nil {
		return nil, err
	}
	if err := s.saveState(ctx, tx, planID, plan.State, false); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	plan.AIBusy = false
	return plan, nil
}

// acquireBusy takes the plan's busy flag, returning the state as it was
// at that moment. Returns ErrAIBusy when another AI operation holds it.
func (s *Service) acquireBusy(ctx context.Context, ownerID, planID uuid.UUID) (*PlanState, error) {
	return s.acquireBusyWith(ctx, ownerID, planID, nil)
}

// acquireBusyWith is acquireBusy with an extra mutation applied and
// persisted under the same lock that sets the busy flag.
func (s *Service) acquireBusyWith(ctx context.Context, ownerID, planID uuid.UUID, fn func(*PlanState) error) (*PlanState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	plan, err := s.lockPlan(ctx, tx, ownerID, planID)
	if err != nil {
		return nil, err
	}
	if plan.AIBusy {
		return nil, ErrAIBusy
	}
	if fn != nil {
		if err := fn(plan.State); err != nil {
			return nil, err
		}
	}
	if err := s.saveState(ctx, tx, planID, plan.State, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return plan.State, nil
}

// mergeFeedback re-locks the plan, applies each validated result whose
// section has not moved on, clears the busy flag, and persists.
func (s *Service) mergeFeedback(ctx context.Context, ownerID, planID uuid.UUID, outcome *AnalysisOutcome) (int, error) {
	applied := 0
	// The merge must land even when the caller's request was cancelled
	// mid-call, otherwise the busy flag would stick.
	err := s.withLockedState(context.WithoutCancel(ctx), ownerID, planID, func(state *PlanState) error {
		for _, result := range outcome.Results {
			ok, err := state.ApplyFeedback(s.defs, result, outcome.Revisions[result.ID])
			if err != nil {
				// The section vanished between the call and the merge
				// (definition change); skip it like a stale one.
				continue
			}
			if ok {
				applied++
			}
		}
		return nil
	}, true)
	if err != nil {
		s.releaseBusy(planID)
		return 0, err
	}
	return applied, nil
}

// withLockedState runs fn against the row-locked state and persists it,
// optionally clearing the busy flag in the same write.
func (s *Service) withLockedState(ctx context.Context, ownerID, planID uuid.UUID, fn func(*PlanState) error, clearBusy bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	plan, err := s.lockPlan(ctx, tx, ownerID, planID)
	if err != nil {
		return err
	}
	if err := fn(plan.State); err != nil {
		return err
	}
	busy := plan.AIBusy && !clearBusy
	if err := s.saveState(ctx, tx, planID, plan.State, busy); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// releaseBusy clears the busy flag outside any transaction. Used on
// failure paths where no state change needs to be persisted.
func (s *Service) releaseBusy(planID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx,
		`UPDATE plans SET ai_busy = FALSE, busy_since = NULL, updated_at = NOW() WHERE id = $1`,
		planID,
	); err != nil {
		s.logger.Error("failed to release busy flag",
			zap.String("plan_id", planID.String()),
			zap.Error(err),
		)
	}
}

// lockPlan loads a plan under FOR UPDATE and normalizes its state. A
// busy flag whose busy_since is missing or older than the lease was left
// behind by a dead process and is treated as free.
func (s *Service) lockPlan(ctx context.Context, tx pgx.Tx, ownerID, planID uuid.UUID) (*Plan, error) {
	plan := &Plan{}
	var stateJSON []byte
	var busySince *time.Time
	err := tx.QueryRow(ctx,
		`SELECT id, owner_user_id, name, state, ai_busy, busy_since, created_at, updated_at
		 FROM plans
		 WHERE id = $1 AND owner_user_id = $2
		 FOR UPDATE`,
		planID, ownerID,
	).Scan(&plan.ID, &plan.OwnerUserID, &plan.Name, &stateJSON, &plan.AIBusy, &busySince, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to lock plan: %w", err)
	}
	if plan.AIBusy && (busySince == nil || time.Since(*busySince) > aiBusyLease) {
		s.logger.Warn("reclaiming expired busy flag",
			zap.String("plan_id", planID.String()),
		)
		plan.AIBusy = false
	}

	state := &PlanState{}
	if err := json.Unmarshal(stateJSON, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan state: %w", err)
	}
	state.Normalize(s.defs)
	plan.State = state
	return plan, nil
}

// saveState persists the state and busy flag of a locked plan.
func (s *Service) saveState(ctx context.Context, tx pgx.Tx, planID uuid.UUID, state *PlanState, busy bool) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal plan state: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE plans
		 SET state = $1,
		     ai_busy = $2,
		     busy_since = CASE WHEN $2 THEN NOW() ELSE NULL END,
		     updated_at = NOW()
		 WHERE id = $3`,
		stateJSON, busy, planID,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan state: %w", err)
	}
	return nil
}
