package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
)

// pollInterval is how often a pending video operation is checked.
const pollInterval = 10 * time.Second

// credentialBundle is the adapter's view of an account's credential
// material. The scheduler never looks inside it.
type credentialBundle struct {
	APIKey string `json:"api_key"`
}

// Engine implements engine.Engine against the Gemini API. Clients are
// cached per account so repeated calls on the same account reuse the
// same transport.
type Engine struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New creates a Gemini-backed engine.
func New(logger *slog.Logger) *Engine {
	return &Engine{
		logger:  logger,
		clients: make(map[string]*genai.Client),
	}
}

// Execute runs one generation job with the given account's credentials.
// Failures are returned as typed *engine.Failure values; an
// unparseable or rejected credential bundle classifies as
// session_invalid so the pool can quarantine the account.
func (e *Engine) Execute(ctx context.Context, req engine.Request, account *domain.Account) (*engine.Artifact, error) {
	client, err := e.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case engine.ArtifactImage:
		return e.generateImage(ctx, client, req)
	case engine.ArtifactVideo:
		return e.generateVideo(ctx, client, req)
	default:
		return nil, engine.NewFailure(engine.FailureInvalidInput,
			fmt.Sprintf("unsupported artifact kind %q", req.Kind), nil)
	}
}

// clientFor returns a cached client for the account, creating one from
// its credential bundle on first use.
func (e *Engine) clientFor(ctx context.Context, account *domain.Account) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[account.ID]; ok {
		return client, nil
	}

	var bundle credentialBundle
	if err := json.Unmarshal(account.Credentials, &bundle); err != nil || bundle.APIKey == "" {
		return nil, engine.NewFailure(engine.FailureSessionInvalid,
			"credential bundle does not contain a usable API key", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  bundle.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, engine.NewFailure(engine.FailureUpstream, "failed to create Gemini client", err)
	}

	e.clients[account.ID] = client
	return client, nil
}

func (e *Engine) generateImage(ctx context.Context, client *genai.Client, req engine.Request) (*engine.Artifact, error) {
	if req.Prompt == "" {
		return nil, engine.NewFailure(engine.FailureInvalidInput, "prompt cannot be empty", nil)
	}

	cfg := &genai.GenerateImagesConfig{NumberOfImages: 1}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}

	e.logger.Debug("calling Gemini image generation", "model", req.Model)
	resp, err := client.Models.GenerateImages(ctx, req.Model, req.Prompt, cfg)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, engine.NewFailure(engine.FailureUpstream, "no image in Gemini response", nil)
	}

	image := resp.GeneratedImages[0].Image
	path, err := writeTemp("mirage_img_", ".png", image.ImageBytes)
	if err != nil {
		return nil, engine.NewFailure(engine.FailureUpstream, "failed to write image artifact", err)
	}

	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &engine.Artifact{Path: path, MIMEType: mimeType}, nil
}

func (e *Engine) generateVideo(ctx context.Context, client *genai.Client, req engine.Request) (*engine.Artifact, error) {
	if req.Prompt == "" {
		return nil, engine.NewFailure(engine.FailureInvalidInput, "prompt cannot be empty", nil)
	}

	var firstFrame *genai.Image
	if req.FirstFrameImage != "" {
		data, err := readReference(ctx, req.FirstFrameImage)
		if err != nil {
			return nil, engine.NewFailure(engine.FailureInvalidInput, "failed to read first frame image", err)
		}
		firstFrame = &genai.Image{ImageBytes: data, MIMEType: "image/jpeg"}
	}

	if len(req.ReferenceImages) > 0 || len(req.ReferenceVideos) > 0 || req.LastFrameImage != "" {
		e.logger.Warn("reference inputs beyond the first frame are not supported by this engine and were ignored",
			"model", req.Model)
	}

	cfg := &genai.GenerateVideosConfig{NumberOfVideos: 1}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}
	if req.DurationSeconds > 0 {
		cfg.DurationSeconds = genai.Ptr(int32(req.DurationSeconds))
	}

	e.logger.Debug("submitting Gemini video generation", "model", req.Model)
	op, err := client.Models.GenerateVideos(ctx, req.Model, req.Prompt, firstFrame, cfg)
	if err != nil {
		return nil, classify(ctx, err)
	}

	// The upstream job is asynchronous; poll until done or the
	// scheduler's deadline cancels ctx.
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, engine.NewFailure(engine.FailureTimeout, "video generation exceeded deadline", ctx.Err())
		case <-time.After(pollInterval):
		}

		op, err = client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, classify(ctx, err)
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, engine.NewFailure(engine.FailureUpstream, "no video in Gemini response", nil)
	}

	video := op.Response.GeneratedVideos[0].Video
	if len(video.VideoBytes) == 0 {
		if _, err := client.Files.Download(ctx, video, nil); err != nil {
			return nil, classify(ctx, err)
		}
	}
	if len(video.VideoBytes) == 0 {
		return nil, engine.NewFailure(engine.FailureUpstream, "empty video payload from Gemini", nil)
	}

	path, err := writeTemp("mirage_vid_", ".mp4", video.VideoBytes)
	if err != nil {
		return nil, engine.NewFailure(engine.FailureUpstream, "failed to write video artifact", err)
	}

	return &engine.Artifact{Path: path, MIMEType: "video/mp4"}, nil
}

// readReference resolves a reference input that may be a remote URL or
// a local file path.
func readReference(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return os.ReadFile(ref)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reference download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func writeTemp(prefix, ext string, data []byte) (string, error) {
	f, err := os.CreateTemp("", prefix+"*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
