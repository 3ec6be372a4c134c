package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodePlanNotFound         = "PLAN_NOT_FOUND"
	ErrCodeSectionNotFound      = "SECTION_NOT_FOUND"
	ErrCodeDefinitionNotFound   = "DEFINITION_NOT_FOUND"
	ErrCodeNoMeaningfulContent  = "NO_MEANINGFUL_CONTENT"
	ErrCodeNothingToAnalyze     = "NOTHING_TO_ANALYZE"
	ErrCodeInvalidResponseShape = "INVALID_RESPONSE_SHAPE"
	ErrCodeInvalidProjectFormat = "INVALID_PROJECT_FORMAT"
	ErrCodeExternalCallFailure  = "EXTERNAL_CALL_FAILURE"
	ErrCodeAIBusy               = "AI_BUSY"
)
