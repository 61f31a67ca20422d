package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mirageproxy/mirage/internal/dispatch"
	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
	"github.com/mirageproxy/mirage/internal/pool"
	"github.com/mirageproxy/mirage/internal/storage"
	"github.com/mirageproxy/mirage/internal/task"
)

// Handler serves the generation API. The image and video paths carry
// different deadlines, hence two dispatchers over the same pool.
type Handler struct {
	imageDispatcher *dispatch.Dispatcher
	videoDispatcher *dispatch.Dispatcher
	runner          *task.Runner
	pool            *pool.Pool
	artifacts       *storage.ArtifactStore
	imageModel      string
	videoModel      string
	cleanupAge      time.Duration
	validator       *validator.Validate
	logger          *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	imageDispatcher, videoDispatcher *dispatch.Dispatcher,
	runner *task.Runner,
	p *pool.Pool,
	artifacts *storage.ArtifactStore,
	imageModel, videoModel string,
	cleanupAge time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		imageDispatcher: imageDispatcher,
		videoDispatcher: videoDispatcher,
		runner:          runner,
		pool:            p,
		artifacts:       artifacts,
		imageModel:      imageModel,
		videoModel:      videoModel,
		cleanupAge:      cleanupAge,
		validator:       validator.New(),
		logger:          logger,
	}
}

// GenerateImage handles POST /v1/images/generations.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req GenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalid(w, "Invalid request body", "invalid_json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondInvalid(w, "Validation error: "+err.Error(), "validation_error")
		return
	}
	if req.N != 0 && req.N != 1 {
		respondInvalid(w, "Only n=1 is supported", "invalid_n")
		return
	}

	model := req.Model
	if model == "" {
		model = h.imageModel
	}

	artifact, err := h.imageDispatcher.Dispatch(r.Context(), engine.Request{
		Kind:   engine.ArtifactImage,
		Prompt: req.Prompt,
		Model:  model,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	url, err := h.artifacts.SaveFile(artifact.Path, "img")
	if err != nil {
		h.logger.Error("failed to store image artifact", "error", err)
		respondJSON(w, http.StatusInternalServerError,
			newErrorBody("Failed to store generated image", "server_error", "storage_error"))
		return
	}

	respondJSON(w, http.StatusOK, GenerationResponse{
		Created: nowUnix(),
		Data:    []MediaData{{URL: url}},
	})
}

// GenerateVideo handles POST /v1/videos/generations, the synchronous
// video path.
func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeVideoRequest(w, r)
	if !ok {
		return
	}

	artifact, err := h.videoDispatcher.Dispatch(r.Context(), videoEngineRequest(req, h.videoModel))
	if err != nil {
		respondError(w, err)
		return
	}

	url, err := h.artifacts.SaveFile(artifact.Path, "vid")
	if err != nil {
		h.logger.Error("failed to store video artifact", "error", err)
		respondJSON(w, http.StatusInternalServerError,
			newErrorBody("Failed to store generated video", "server_error", "storage_error"))
		return
	}

	respondJSON(w, http.StatusOK, GenerationResponse{
		Created: nowUnix(),
		Data:    []MediaData{{URL: url}},
	})
}

// CreateVideoTask handles POST /v2/videos/generations, the async path:
// the task is durable once this returns and executes in the background.
func (h *Handler) CreateVideoTask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeVideoRequest(w, r)
	if !ok {
		return
	}

	model := req.Model
	if model == "" {
		model = h.videoModel
	}

	t, err := h.runner.Submit(r.Context(), model, domain.TaskRequest{
		Prompt:          req.Prompt,
		Model:           model,
		ReferenceImages: req.Images,
		ReferenceVideos: req.ReferenceVideos,
		FirstFrameImage: req.FirstFrameImage,
		LastFrameImage:  req.LastFrameImage,
		AspectRatio:     req.Ratio,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, taskToResponse(t))
}

// GetVideoTask handles GET /v2/videos/generations/{id}.
func (h *Handler) GetVideoTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskToResponse(t))
}

// Health handles GET /v1/health. It is unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := h.pool.Snapshot()
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:            "ok",
		GlobalInFlight:    snapshot.GlobalInFlight,
		GlobalLimit:       snapshot.GlobalLimit,
		AccountsTotal:     snapshot.AccountsTotal,
		AccountsAvailable: snapshot.AccountsAvailable,
		Accounts:          snapshot.Accounts,
	})
}

// Cleanup handles POST /v1/cleanup. The optional max_age_hours query
// parameter overrides the configured cleanup age.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	age := h.cleanupAge
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 {
			respondInvalid(w, "max_age_hours must be a non-negative integer", "invalid_max_age")
			return
		}
		age = time.Duration(hours) * time.Hour
	}

	deleted, err := h.artifacts.Cleanup(age)
	if err != nil {
		h.logger.Error("artifact cleanup failed", "error", err)
		respondJSON(w, http.StatusInternalServerError,
			newErrorBody("Cleanup failed", "server_error", "cleanup_failed"))
		return
	}

	if deleted == nil {
		deleted = []string{}
	}
	respondJSON(w, http.StatusOK, CleanupResponse{
		DeletedCount: len(deleted),
		DeletedFiles: deleted,
	})
}

func (h *Handler) decodeVideoRequest(w http.ResponseWriter, r *http.Request) (GenerateVideoRequest, bool) {
	var req GenerateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalid(w, "Invalid request body", "invalid_json")
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		respondInvalid(w, "Validation error: "+err.Error(), "validation_error")
		return req, false
	}
	if req.N != 0 && req.N != 1 {
		respondInvalid(w, "Only n=1 is supported", "invalid_n")
		return req, false
	}
	return req, true
}

func videoEngineRequest(req GenerateVideoRequest, defaultModel string) engine.Request {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	return engine.Request{
		Kind:            engine.ArtifactVideo,
		Prompt:          req.Prompt,
		Model:           model,
		ReferenceImages: req.Images,
		ReferenceVideos: req.ReferenceVideos,
		FirstFrameImage: req.FirstFrameImage,
		LastFrameImage:  req.LastFrameImage,
		AspectRatio:     req.Ratio,
		DurationSeconds: req.Duration,
	}
}
