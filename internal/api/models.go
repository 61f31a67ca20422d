package api

import (
	"time"

	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/pool"
)

// GenerateImageRequest is the body of POST /v1/images/generations,
// compatible with OpenAI's images API.
type GenerateImageRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1"`
	Model  string `json:"model"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

// GenerateVideoRequest is the body of the synchronous and asynchronous
// video generation endpoints.
type GenerateVideoRequest struct {
	Prompt          string   `json:"prompt" validate:"required,min=1"`
	Model           string   `json:"model"`
	N               int      `json:"n"`
	Images          []string `json:"images"           validate:"dive,url"`
	ReferenceVideos []string `json:"reference_videos" validate:"dive,url"`
	FirstFrameImage string   `json:"first_frame_image" validate:"omitempty,url"`
	LastFrameImage  string   `json:"last_frame_image"  validate:"omitempty,url"`
	Ratio           string   `json:"ratio"`
	Duration        int      `json:"duration" validate:"gte=0,lte=60"`
}

// MediaData is one generated artifact reference.
type MediaData struct {
	URL string `json:"url"`
}

// GenerationResponse is the body of the synchronous generation
// endpoints.
type GenerationResponse struct {
	Created int64       `json:"created"`
	Data    []MediaData `json:"data"`
}

// TaskResponse is the body of the async task endpoints.
type TaskResponse struct {
	ID      string             `json:"id"`
	Created int64              `json:"created"`
	Status  string             `json:"status"`
	Model   string             `json:"model"`
	Result  *domain.TaskResult `json:"result,omitempty"`
	Error   *domain.TaskError  `json:"error,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status            string               `json:"status"`
	GlobalInFlight    int                  `json:"global_in_flight"`
	GlobalLimit       int                  `json:"global_limit"`
	AccountsTotal     int                  `json:"accounts_total"`
	AccountsAvailable int                  `json:"accounts_available"`
	Accounts          []pool.AccountStatus `json:"accounts"`
}

// CleanupResponse is the body of POST /v1/cleanup.
type CleanupResponse struct {
	DeletedCount int      `json:"deleted_count"`
	DeletedFiles []string `json:"deleted_files"`
}

// taskToResponse converts a stored task to its API representation.
func taskToResponse(t *domain.GenerationTask) TaskResponse {
	return TaskResponse{
		ID:      t.ID,
		Created: t.CreatedAt.Unix(),
		Status:  string(t.Status),
		Model:   t.Model,
		Result:  t.Result,
		Error:   t.Error,
	}
}

// nowUnix is separated for readability at call sites.
func nowUnix() int64 {
	return time.Now().Unix()
}
