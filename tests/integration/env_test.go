package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/planlab/planner-orchestrator/internal/auth"
	"github.com/planlab/planner-orchestrator/internal/gateway"
	"github.com/planlab/planner-orchestrator/internal/llm"
	"github.com/planlab/planner-orchestrator/internal/metrics"
	"github.com/planlab/planner-orchestrator/internal/planner"
	"github.com/planlab/planner-orchestrator/tests/helpers"
)

const testJWTSecret = "integration-test-secret"

// testEnv wires the full service stack against the test database and a
// mock completion service.
type testEnv struct {
	DB         *helpers.TestDatabase
	Router     *gin.Engine
	JWTManager *auth.JWTManager
	Service    *planner.Service
	LLMServer  *httptest.Server

	llmMu    sync.Mutex
	llmBlock chan struct{}
}

// blockCompletions makes the mock completion service hold every request
// until the returned release function is called. Release is idempotent.
func (env *testEnv) blockCompletions() (release func()) {
	ch := make(chan struct{})
	env.llmMu.Lock()
	env.llmBlock = ch
	env.llmMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			env.llmMu.Lock()
			env.llmBlock = nil
			env.llmMu.Unlock()
			close(ch)
		})
	}
}

// newTestEnv builds the stack. The mock completion service answers
// feedback calls (json_object response format) with a fixed verdict for
// the requested section, and chat calls with a canned reply.
func newTestEnv(t *testing.T) *testEnv {
	testDB := helpers.NewTestDatabase(t)
	t.Cleanup(testDB.Close)

	logger := zap.NewNop()
	env := &testEnv{DB: testDB}

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.llmMu.Lock()
		block := env.llmBlock
		env.llmMu.Unlock()
		if block != nil {
			<-block
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		content := "That's a promising direction. Have you considered narrowing the population?"
		if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
			result, _ := json.Marshal(map[string]interface{}{
				"result": mockVerdict("question", 7),
			})
			content = string(result)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(llmServer.Close)

	client := llm.NewClient(llmServer.URL, "test-key", "test-model", 10*time.Second, logger)
	orchestrator := planner.NewFeedbackOrchestrator(client, planner.FeedbackModeSingle, logger)

	fm, err := metrics.NewFeedbackMetrics()
	require.NoError(t, err)

	service := planner.NewService(testDB.Pool, planner.DefaultDefinitions(), orchestrator, client, fm, logger)
	require.NoError(t, service.EnsureSchema(testDB.Ctx()))

	jwtManager, err := auth.NewJWTManager(testJWTSecret)
	require.NoError(t, err)

	handler := gateway.NewHandler(service, jwtManager, testDB.Pool, time.Hour, logger)
	chatStream := gateway.NewChatStream(service, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/login", handler.Login)
	api.GET("/definitions", handler.GetDefinitions)

	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager, logger))
	protected.POST("/plans", handler.CreatePlan)
	protected.GET("/plans", handler.ListPlans)
	protected.GET("/plans/:id", handler.GetPlan)
	protected.DELETE("/plans/:id", handler.DeletePlan)
	protected.POST("/plans/:id/reset", handler.ResetPlan)
	protected.POST("/plans/:id/import", handler.ImportPlan)
	protected.GET("/plans/:id/export", handler.ExportPlan)
	protected.PUT("/plans/:id/sections/:sectionId", handler.UpdateSection)
	protected.PUT("/plans/:id/toggles/:group", handler.SetToggle)
	protected.POST("/plans/:id/feedback", handler.RequestFeedback)
	protected.POST("/plans/:id/sections/:sectionId/chat", handler.Chat)
	protected.GET("/ws/plans/:id/chat", chatStream.Stream)

	env.Router = router
	env.JWTManager = jwtManager
	env.Service = service
	env.LLMServer = llmServer
	return env
}

func mockVerdict(sectionID string, rating int) map[string]interface{} {
	return map[string]interface{}{
		"id":               sectionID,
		"overallFeedback":  "Solid start; tighten the scope and name your measures.",
		"completionStatus": "partially_complete",
		"rating":           rating,
		"subsections": []map[string]interface{}{
			{"id": "question_scope", "isComplete": true, "feedback": "Scope is clear."},
		},
	}
}
