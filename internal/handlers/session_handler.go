package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cefrlab/speaking-test-service/internal/gateways"
	"github.com/cefrlab/speaking-test-service/internal/services"
	"github.com/gin-gonic/gin"
)

// maxAudioBytes bounds one uploaded answer clip (32 MiB).
const maxAudioBytes = 32 << 20

// SessionHandler is the boundary for the speaking test protocol: start a
// session, submit one spoken answer, fetch the final verdict. It is
// stateless; all session state lives in the registry.
type SessionHandler struct {
	BaseHandler
	registry    services.SessionRegistry
	transcriber gateways.Transcriber
}

func NewSessionHandler(
	registry services.SessionRegistry,
	transcriber gateways.Transcriber,
	logger *slog.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(logger),
		registry:    registry,
		transcriber: transcriber,
	}
}

// StartTest creates a new session. An optional ?title= query pins the test;
// otherwise the configured fixed test or a random one is used.
func (h *SessionHandler) StartTest(c *gin.Context) {
	title := strings.TrimSpace(c.Query("title"))

	resp, err := h.registry.Start(c.Request.Context(), title)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitSpeech accepts one multipart answer {session_id, part,
// question_index, audio}, transcribes it, and records the transcript. When
// the submission completes the session the response doubles as the verdict.
func (h *SessionHandler) SubmitSpeech(c *gin.Context) {
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	part := strings.TrimSpace(c.PostForm("part"))
	indexStr := strings.TrimSpace(c.PostForm("question_index"))

	if sessionID == "" || part == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "session_id and part are required",
		})
		return
	}

	questionIndex, err := strconv.Atoi(indexStr)
	if err != nil || questionIndex < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "question_index must be a non-negative integer",
		})
		return
	}

	audio, err := h.readAudioFile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Audio file is required",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Transcribing answer",
		"session_id", sessionID,
		"part", part,
		"question_index", questionIndex,
		"audio_bytes", len(audio))

	// Transcription failure must not mutate the session: the registry is
	// only reached on gateway success, so a retry with the same audio still
	// counts exactly once.
	transcript, err := h.transcriber.Transcribe(c.Request.Context(), audio)
	if err != nil {
		err = errors.Join(services.ErrTranscriptionFailed, err)
		h.RespondWithError(c, http.StatusBadGateway, "Transcription failed", err, upstreamDetail(err))
		return
	}

	submitResp, err := h.registry.SubmitAnswer(c.Request.Context(), &services.SubmitAnswerRequest{
		SessionID:     sessionID,
		Part:          part,
		QuestionIndex: questionIndex,
		Transcript:    transcript,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if !submitResp.Completed {
		c.JSON(http.StatusOK, gin.H{
			"ok":            true,
			"transcription": submitResp.Transcript,
			"received":      submitResp.Received,
			"expected":      submitResp.Expected,
		})
		return
	}

	// Last answer: its response doubles as the verdict.
	final, err := h.registry.ComputeFinalResult(c.Request.Context(), sessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"transcription": submitResp.Transcript,
		"final":         final.Final,
		"raw":           final.Raw,
	})
}

// GetResult returns the session's verdict, computing it if needed.
func (h *SessionHandler) GetResult(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "session_id is required",
		})
		return
	}

	resp, err := h.registry.ComputeFinalResult(c.Request.Context(), sessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) readAudioFile(c *gin.Context) ([]byte, error) {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return nil, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, maxAudioBytes))
}

func (h *SessionHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownSession):
		h.RespondWithError(c, http.StatusNotFound, "Unknown session - please restart the test", err)
	case errors.Is(err, services.ErrInvalidRequest):
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request", err, err.Error())
	case errors.Is(err, services.ErrTestNotFound):
		h.RespondWithError(c, http.StatusNotFound, "Test not found", err)
	case errors.Is(err, services.ErrNoTestsAvailable):
		h.RespondWithError(c, http.StatusServiceUnavailable, "No tests available on server", err)
	case errors.Is(err, services.ErrAssessmentUnavailable):
		h.RespondWithError(c, http.StatusBadGateway, "Assessment service unavailable", err)
	default:
		h.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}

// upstreamDetail surfaces the upstream status and body text when available.
func upstreamDetail(err error) string {
	var statusErr *gateways.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Error()
	}
	return err.Error()
}
