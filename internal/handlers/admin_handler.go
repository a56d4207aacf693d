package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cefrlab/speaking-test-service/internal/models"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"github.com/cefrlab/speaking-test-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// AdminTestHandler exposes the test authoring CRUD surface. It talks to the
// repository directly; no session state is involved.
type AdminTestHandler struct {
	BaseHandler
	tests     repositories.TestRepository
	validator *utils.Validator
}

func NewAdminTestHandler(
	tests repositories.TestRepository,
	validator *utils.Validator,
	logger *slog.Logger,
) *AdminTestHandler {
	return &AdminTestHandler{
		BaseHandler: NewBaseHandler(logger),
		tests:       tests,
		validator:   validator,
	}
}

// upsertTestRequest is the create/update payload: a title plus the ordered
// part list as authored.
type upsertTestRequest struct {
	Title string        `json:"title" validate:"required,max=200"`
	Parts []models.Part `json:"parts" validate:"required,min=1"`
}

type testSummary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	PartCount int       `json:"part_count"`
	Questions int       `json:"questions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListTests returns paged test summaries plus the total count.
func (h *AdminTestHandler) ListTests(c *gin.Context) {
	filters := repositories.TestFilters{
		Limit:     parseIntQuery(c, "limit", defaultListLimit),
		Offset:    parseIntQuery(c, "offset", 0),
		SortBy:    sortColumn(c.Query("sort_by")),
		SortOrder: sortOrder(c.Query("sort_order")),
	}
	if filters.Limit > maxListLimit {
		filters.Limit = maxListLimit
	}

	tests, total, err := h.tests.List(c.Request.Context(), filters)
	if err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to list tests", err)
		return
	}

	summaries := make([]testSummary, 0, len(tests))
	for _, test := range tests {
		summary := testSummary{
			ID:        test.ID,
			Title:     test.Title,
			CreatedAt: test.CreatedAt,
			UpdatedAt: test.UpdatedAt,
		}
		if parts, err := test.DecodeParts(); err == nil {
			summary.PartCount = len(parts)
			for _, p := range parts {
				summary.Questions += p.QuestionCount()
			}
		} else {
			h.logger.Warn("Failed to decode parts of stored test",
				"title", test.Title, "error", err)
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{
		"tests": summaries,
		"total": total,
	})
}

// GetTest returns one full test definition by title.
func (h *AdminTestHandler) GetTest(c *gin.Context) {
	title := strings.TrimSpace(c.Param("title"))

	test, err := h.tests.GetByTitle(c.Request.Context(), title)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			h.RespondWithError(c, http.StatusNotFound, "Test not found", err)
			return
		}
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to get test", err)
		return
	}

	c.JSON(http.StatusOK, test)
}

// CreateTest stores a new test definition. Titles are unique.
func (h *AdminTestHandler) CreateTest(c *gin.Context) {
	req, ok := h.bindUpsertRequest(c)
	if !ok {
		return
	}

	exists, err := h.tests.ExistsByTitle(c.Request.Context(), req.Title)
	if err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to check title uniqueness", err)
		return
	}
	if exists {
		h.RespondWithError(c, http.StatusConflict, "Test with this title already exists", nil)
		return
	}

	test := &models.Test{Title: req.Title}
	if err := test.EncodeParts(req.Parts); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to encode parts", err)
		return
	}

	if err := h.tests.Create(c.Request.Context(), test); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to create test", err)
		return
	}

	h.LogRequest(c, "Test created", "title", test.Title)
	c.JSON(http.StatusCreated, test)
}

// UpdateTest replaces an existing test's title and parts.
func (h *AdminTestHandler) UpdateTest(c *gin.Context) {
	title := strings.TrimSpace(c.Param("title"))

	test, err := h.tests.GetByTitle(c.Request.Context(), title)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			h.RespondWithError(c, http.StatusNotFound, "Test not found", err)
			return
		}
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to get test", err)
		return
	}

	req, ok := h.bindUpsertRequest(c)
	if !ok {
		return
	}

	// Renames must not collide with another test's title.
	if req.Title != test.Title {
		exists, err := h.tests.ExistsByTitle(c.Request.Context(), req.Title)
		if err != nil {
			h.RespondWithError(c, http.StatusInternalServerError, "Failed to check title uniqueness", err)
			return
		}
		if exists {
			h.RespondWithError(c, http.StatusConflict, "Test with this title already exists", nil)
			return
		}
	}

	test.Title = req.Title
	if err := test.EncodeParts(req.Parts); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to encode parts", err)
		return
	}

	if err := h.tests.Update(c.Request.Context(), test); err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to update test", err)
		return
	}

	h.LogRequest(c, "Test updated", "title", test.Title)
	c.JSON(http.StatusOK, test)
}

// DeleteTest removes a test definition by title.
func (h *AdminTestHandler) DeleteTest(c *gin.Context) {
	title := strings.TrimSpace(c.Param("title"))

	if err := h.tests.Delete(c.Request.Context(), title); err != nil {
		if repositories.IsNotFoundError(err) {
			h.RespondWithError(c, http.StatusNotFound, "Test not found", err)
			return
		}
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to delete test", err)
		return
	}

	h.LogRequest(c, "Test deleted", "title", title)
	c.JSON(http.StatusOK, gin.H{"deleted": title})
}

// Stats reports store-level totals.
func (h *AdminTestHandler) Stats(c *gin.Context) {
	total, err := h.tests.Count(c.Request.Context())
	if err != nil {
		h.RespondWithError(c, http.StatusInternalServerError, "Failed to count tests", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"total_tests": total})
}

func (h *AdminTestHandler) bindUpsertRequest(c *gin.Context) (*upsertTestRequest, bool) {
	var req upsertTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request body", err, err.Error())
		return nil, false
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := h.validator.Validate(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Validation failed", err, err.Error())
		return nil, false
	}
	return &req, true
}

func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	value := c.Query(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

// sortColumn whitelists sortable columns; anything else falls back to the
// repository default.
func sortColumn(value string) string {
	switch value {
	case "title", "created_at", "updated_at":
		return value
	}
	return ""
}

func sortOrder(value string) string {
	switch value {
	case "asc", "desc":
		return value
	}
	return ""
}
