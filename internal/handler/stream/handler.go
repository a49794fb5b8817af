package stream

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	diagnosishandler "github.com/zhouzirui/medrax/backend/internal/handler/diagnosis"
	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
	"github.com/zhouzirui/medrax/backend/pkg/utils"
)

// Analyzer runs the analysis pipeline with streamed report output.
type Analyzer interface {
	Analyze(ctx context.Context, upload diagnosis.Upload) (*diagnosis.Result, error)
	AnalyzeStream(ctx context.Context, upload diagnosis.Upload, cb diagnosis.StreamCallbacks) (*diagnosis.Result, error)
}

// Handler manages streaming analysis via Server-Sent Events
type Handler struct {
	analyzer      Analyzer
	maxUploadSize int64
	streaming     bool
}

// New creates a new stream handler. When streaming is false the report is
// generated in one call and sent as a single event.
func New(analyzer Analyzer, maxUploadSize int64, streaming bool) *Handler {
	return &Handler{
		analyzer:      analyzer,
		maxUploadSize: maxUploadSize,
		streaming:     streaming,
	}
}

// RegisterRoutes 注册流式分析路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze-image/stream", h.handleAnalyzeStream)
}

// Event payloads.
type captionEvent struct {
	Caption string `json:"caption"`
}

type deltaEvent struct {
	Content string `json:"content"`
}

type doneEvent struct {
	HistoryID history.ID `json:"history_id"`
	Analysis  string     `json:"analysis"`
}

type errorEvent struct {
	Error string `json:"error"`
}

func (h *Handler) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// 校验在写入SSE头之前完成，客户端仍能收到普通的JSON错误。
	upload, err := diagnosishandler.ReadUpload(w, r, h.maxUploadSize)
	if err != nil {
		diagnosishandler.RespondUploadError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	log.Printf("[sse] analysis stream opened file=%q size=%d", upload.Filename, len(upload.Data))

	cb := diagnosis.StreamCallbacks{
		OnCaption: func(caption string) error {
			return utils.SendSSEEvent(w, flusher, "caption", captionEvent{Caption: caption})
		},
		OnDelta: func(delta string) error {
			return utils.SendSSEEvent(w, flusher, "delta", deltaEvent{Content: delta})
		},
	}

	var result *diagnosis.Result
	if h.streaming {
		result, err = h.analyzer.AnalyzeStream(ctx, upload, cb)
	} else {
		result, err = h.analyzer.Analyze(ctx, upload)
	}
	if err != nil {
		message := "Unable to generate report"
		if errors.Is(err, diagnosis.ErrInvalidImage) {
			message = "Invalid image"
		} else {
			log.Printf("[sse] analysis failed file=%q: %v", upload.Filename, err)
		}
		_ = utils.SendSSEEvent(w, flusher, "error", errorEvent{Error: message})
		return
	}

	_ = utils.SendSSEEvent(w, flusher, "done", doneEvent{HistoryID: result.HistoryID, Analysis: result.Report})
	log.Printf("[sse] analysis stream completed record=%s", result.HistoryID)
}
