package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"mocksmith/internal/ai"
	"mocksmith/internal/generation"
	"mocksmith/internal/metrics"
	"mocksmith/internal/usage"
	"mocksmith/pkg/models"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ProjectID *uint  `json:"project_id"`
	Message   string `json:"message" binding:"required,min=1,max=20000"`

	Mode string `json:"mode"` // discuss (default) or build

	// Optional override; empty means the configured chain decides.
	Model    string `json:"model"`
	Provider string `json:"provider"`

	// nil defers to the user's planning_mode preference.
	Planning *bool `json:"planning"`
}

// ChatResponse is the success payload of POST /chat.
type ChatResponse struct {
	RequestID string                     `json:"request_id"`
	Text      string                     `json:"text"`
	Screens   []models.Screen            `json:"screens,omitempty"`
	Model     string                     `json:"model"`
	Provider  string                     `json:"provider"`
	Usage     generation.CumulativeUsage `json:"usage"`
	Attempts  int                        `json:"attempts"`
	Planned   bool                       `json:"planned"`
}

// Chat runs one conversation turn through the generation pipeline and
// persists any screens the builder produced.
func (h *Handler) Chat(c *gin.Context) {
	user, errored := h.currentUser(c)
	if errored {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "message is required")
		return
	}

	mode := generation.Mode(req.Mode)
	switch mode {
	case "":
		mode = generation.ModeDiscuss
	case generation.ModeDiscuss, generation.ModeBuild:
	default:
		fail(c, http.StatusBadRequest, "INVALID_MODE", "mode must be discuss or build")
		return
	}

	var project *models.Project
	if req.ProjectID != nil {
		var p models.Project
		if err := h.DB.First(&p, *req.ProjectID).Error; err != nil {
			fail(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found")
			return
		}
		if p.OwnerID != user.ID {
			fail(c, http.StatusForbidden, "ACCESS_DENIED", "You do not have access to this project")
			return
		}
		project = &p
	}

	genReq := h.buildGenerationRequest(user, project, &req, mode)
	record := h.createRecord(user.ID, req.ProjectID, mode, req.Message)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.Pipeline.Generate(ctx, genReq)
	duration := time.Since(start)

	if err != nil {
		h.finishRecord(record, nil, duration, err)
		metrics.Get().RecordGeneration(string(mode), "error", "", "", duration, 0, 0, 0)
		h.respondChatError(c, err, record.RequestID)
		return
	}

	h.finishRecord(record, result, duration, nil)
	metrics.Get().RecordGeneration(string(mode), "success", result.Model, string(result.Provider),
		duration, result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.Cost)

	screens, narrative := generation.ParseScreens(result.Text)
	saved := h.persistScreens(c.Request.Context(), user, project, screens, result)

	if project != nil {
		h.appendHistory(project, req.Message, narrative)
	}

	_ = h.Tracker.RecordGeneration(ctx, user.ID, req.ProjectID, result.Model,
		result.Usage.TotalTokens, result.Usage.Cost)

	ok(c, ChatResponse{
		RequestID: record.RequestID,
		Text:      narrative,
		Screens:   saved,
		Model:     result.Model,
		Provider:  string(result.Provider),
		Usage:     result.Usage,
		Attempts:  result.Attempts,
		Planned:   result.Planned,
	})
}

// buildGenerationRequest assembles the pipeline request: conversation
// history plus the new turn, project screens as file context, and the
// user's model/planning preferences unless the request overrides them.
func (h *Handler) buildGenerationRequest(user *models.User, project *models.Project, req *ChatRequest, mode generation.Mode) *generation.Request {
	var messages []ai.Message
	if project != nil {
		for _, turn := range project.History {
			messages = append(messages, ai.Message{Role: turn.Role, Content: turn.Content})
		}
	}
	messages = append(messages, ai.Message{Role: "user", Content: req.Message})

	files := map[string]string{}
	if project != nil {
		var screens []models.Screen
		h.DB.Where("project_id = ?", project.ID).Find(&screens)
		for _, s := range screens {
			files[s.Path] = s.Content
		}
	}

	model := req.Model
	if model == "" && user.PreferredModel != "" && user.PreferredModel != "auto" {
		model = user.PreferredModel
	}

	planning := user.PlanningMode
	if req.Planning != nil {
		planning = *req.Planning
	}

	genReq := &generation.Request{
		Messages: messages,
		Files:    files,
		Mode:     mode,
		Model:    model,
		Provider: ai.Provider(req.Provider),
		Planning: planning,
		UserID:   user.ID,
	}
	if project != nil {
		genReq.ProjectID = project.ID
	}
	return genReq
}

func (h *Handler) createRecord(userID uint, projectID *uint, mode generation.Mode, prompt string) *models.GenerationRecord {
	record := &models.GenerationRecord{
		RequestID: uuid.New().String(),
		UserID:    userID,
		ProjectID: projectID,
		Mode:      string(mode),
		Prompt:    prompt,
		Status:    "pending",
	}
	h.DB.Create(record)
	return record
}

func (h *Handler) finishRecord(record *models.GenerationRecord, result *generation.Result, duration time.Duration, genErr error) {
	updates := map[string]interface{}{
		"duration": duration.Milliseconds(),
	}
	if genErr != nil {
		updates["status"] = "failed"
		updates["error_msg"] = genErr.Error()
	} else {
		updates["status"] = "completed"
		updates["planned"] = result.Planned
		updates["model"] = result.Model
		updates["provider"] = string(result.Provider)
		updates["attempts"] = result.Attempts
		updates["prompt_tokens"] = result.Usage.PromptTokens
		updates["completion_tokens"] = result.Usage.CompletionTokens
		updates["total_tokens"] = result.Usage.TotalTokens
		updates["cost"] = result.Usage.Cost
	}
	h.DB.Model(record).Updates(updates)
}

// persistScreens upserts parsed screens into the project by name. An
// existing screen is replaced and its version bumped; new screens append
// at the end of the display order.
func (h *Handler) persistScreens(ctx context.Context, user *models.User, project *models.Project, parsed []generation.ParsedScreen, result *generation.Result) []models.Screen {
	if project == nil || len(parsed) == 0 {
		return nil
	}

	var maxPosition int
	h.DB.Model(&models.Screen{}).Where("project_id = ?", project.ID).
		Select("COALESCE(MAX(position), -1)").Scan(&maxPosition)

	var saved []models.Screen
	var newScreens int
	var storageDelta int64
	plan := usage.PlanType(user.SubscriptionTier)

	for _, ps := range parsed {
		size := int64(len(ps.HTML))

		var existing models.Screen
		err := h.DB.Where("project_id = ? AND name = ?", project.ID, ps.Name).First(&existing).Error
		if err == nil {
			storageDelta += size - existing.Size
			h.DB.Model(&existing).Updates(map[string]interface{}{
				"content":  ps.HTML,
				"size":     size,
				"model":    result.Model,
				"provider": string(result.Provider),
				"version":  gorm.Expr("version + 1"),
			})
			h.DB.First(&existing, existing.ID)
			saved = append(saved, existing)
			continue
		}

		// New screens count against the plan's screen limit. Updates to
		// existing screens never do.
		if !user.IsUnlimited() {
			allowed, _, _, qerr := h.Tracker.CheckQuota(ctx, user.ID, plan, usage.UsageScreens, 1)
			if qerr == nil && !allowed {
				continue
			}
		}

		maxPosition++
		screen := models.Screen{
			ProjectID: project.ID,
			Name:      ps.Name,
			Path:      fmt.Sprintf("screens/%s.html", screenSlug(ps.Name)),
			Content:   ps.HTML,
			Size:      size,
			Position:  maxPosition,
			Model:     result.Model,
			Provider:  string(result.Provider),
		}
		if err := h.DB.Create(&screen).Error; err != nil {
			continue
		}
		newScreens++
		storageDelta += size
		saved = append(saved, screen)
	}

	if newScreens > 0 {
		_ = h.Tracker.RecordScreens(ctx, user.ID, project.ID, newScreens)
		metrics.Get().ScreensGeneratedTotal.Add(float64(newScreens))
	}
	if storageDelta != 0 {
		pid := project.ID
		_ = h.Tracker.RecordStorageChange(ctx, user.ID, &pid, storageDelta)
	}
	return saved
}

func (h *Handler) appendHistory(project *models.Project, userMessage, assistantReply string) {
	history := append(project.History,
		models.ChatTurn{Role: "user", Content: userMessage},
		models.ChatTurn{Role: "assistant", Content: assistantReply},
	)
	h.DB.Model(project).Update("history", history)
}

// respondChatError maps pipeline failures onto the API error taxonomy.
func (h *Handler) respondChatError(c *gin.Context, err error, requestID string) {
	if errors.Is(err, context.DeadlineExceeded) {
		fail(c, http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "Generation timed out, please try again")
		return
	}

	var exhausted *generation.ExhaustedError
	if errors.As(err, &exhausted) {
		c.JSON(http.StatusBadGateway, StandardResponse{
			Success: false,
			Error:   "All models are currently unavailable, please try again shortly",
			Code:    "MODELS_EXHAUSTED",
			Message: fmt.Sprintf("request %s failed after %d attempts", requestID, exhausted.Attempts),
		})
		return
	}

	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case ai.ErrBadRequest:
			fail(c, http.StatusBadRequest, "INVALID_GENERATION_REQUEST", "The request was rejected by the model provider")
		case ai.ErrAuth:
			fail(c, http.StatusBadGateway, "PROVIDER_AUTH_FAILED", "Model provider rejected our credentials")
		default:
			fail(c, http.StatusBadGateway, "PROVIDER_ERROR", "Model provider request failed")
		}
		return
	}

	fail(c, http.StatusInternalServerError, "GENERATION_FAILED", "Generation failed unexpectedly")
}

var screenSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func screenSlug(name string) string {
	slug := strings.Trim(screenSlugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "screen"
	}
	return slug
}
