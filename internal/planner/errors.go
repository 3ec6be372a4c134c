package planner

import (
	"errors"

	"github.com/planlab/planner-orchestrator/internal/models"
)

// Sentinel errors of the planner core. Handlers map these onto HTTP
// status codes; nothing in the core panics or lets an external failure
// escape unwrapped.
var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSectionNotFound      = errors.New("section not found")
	ErrDefinitionNotFound   = errors.New("section definition not found")
	ErrNoMeaningfulContent  = errors.New("section has no meaningful content to analyze")
	ErrNothingToAnalyze     = errors.New("no sections eligible for analysis")
	ErrInvalidResponseShape = errors.New("unrecognizable response from completion service")
	ErrInvalidProjectFormat = errors.New("project data did not match any known snapshot format")
	ErrExternalCallFailure  = errors.New("completion service call failed")
	ErrUnknownToggleGroup   = errors.New("unknown toggle group")
	ErrAIBusy               = errors.New("an AI operation is already in progress for this plan")
)

// ErrorCode returns the wire-level error code for a core error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		return models.ErrCodePlanNotFound
	case errors.Is(err, ErrSectionNotFound):
		return models.ErrCodeSectionNotFound
	case errors.Is(err, ErrDefinitionNotFound):
		return models.ErrCodeDefinitionNotFound
	case errors.Is(err, ErrNoMeaningfulContent):
		return models.ErrCodeNoMeaningfulContent
	case errors.Is(err, ErrNothingToAnalyze):
		return models.ErrCodeNothingToAnalyze
	case errors.Is(err, ErrInvalidResponseShape):
		return models.ErrCodeInvalidResponseShape
	case errors.Is(err, ErrInvalidProjectFormat):
		return models.ErrCodeInvalidProjectFormat
	case errors.Is(err, ErrExternalCallFailure):
		return models.ErrCodeExternalCallFailure
	case errors.Is(err, ErrAIBusy):
		return models.ErrCodeAIBusy
	case errors.Is(err, ErrUnknownToggleGroup):
		return models.ErrCodeInvalidRequest
	default:
		return models.ErrCodeInternalError
	}
}
