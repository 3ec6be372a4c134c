package helpers

import (
	"encoding/json"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Email:    "test@example.com",
		Password: "test-password-123",
	}
)

// CreateUserInputsSnapshot builds project data in the current export
// shape: a userInputs map plus toggles.
func CreateUserInputsSnapshot(contents map[string]string, approach, dataMethod string) map[string]interface{} {
	snapshot := map[string]interface{}{
		"userInputs": contents,
	}
	if approach != "" || dataMethod != "" {
		snapshot["detectedToggles"] = map[string]string{
			"approach":   approach,
			"dataMethod": dataMethod,
		}
	}
	return snapshot
}

// CreateSectionsSnapshot builds project data in the legacy sections
// shape, with full per-section objects.
func CreateSectionsSnapshot(sections map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"sections": sections,
	}
}

// CreateFlatSnapshot builds project data in the oldest shape: a flat
// map of section ids to content.
func CreateFlatSnapshot(contents map[string]string) map[string]interface{} {
	snapshot := make(map[string]interface{}, len(contents))
	for id, content := range contents {
		snapshot[id] = content
	}
	return snapshot
}

// MockFeedbackResult builds a reviewer verdict for one section.
func MockFeedbackResult(sectionID string, rating int) map[string]interface{} {
	return map[string]interface{}{
		"id":               sectionID,
		"overallFeedback":  "Solid start; tighten the scope and name your measures.",
		"completionStatus": "partially_complete",
		"rating":           rating,
		"subsections": []map[string]interface{}{
			{
				"id":         sectionID + "_scope",
				"isComplete": true,
				"feedback":   "Scope is stated clearly.",
			},
		},
	}
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// FromJSON parses JSON string to map
func FromJSON(jsonStr string) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal([]byte(jsonStr), &result)
	return result
}
