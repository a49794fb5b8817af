package diagnosis

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
	"github.com/zhouzirui/medrax/backend/internal/service/qa"
	"github.com/zhouzirui/medrax/backend/pkg/utils"
)

// Analyzer 是影像分析与历史查询的服务接口。
type Analyzer interface {
	Analyze(ctx context.Context, upload diagnosis.Upload) (*diagnosis.Result, error)
	History(ctx context.Context) ([]history.Record, error)
	Record(ctx context.Context, id history.ID) (*history.Record, error)
}

// Answerer answers follow-up questions about a stored report.
type Answerer interface {
	Answer(ctx context.Context, id history.ID, question string) (string, error)
}

// Handler 诊断相关的HTTP处理器
type Handler struct {
	analyzer      Analyzer
	answerer      Answerer
	maxUploadSize int64
}

// New 创建诊断处理器
func New(analyzer Analyzer, answerer Answerer, maxUploadSize int64) *Handler {
	return &Handler{
		analyzer:      analyzer,
		answerer:      answerer,
		maxUploadSize: maxUploadSize,
	}
}

// RegisterRoutes 注册分析、问答与历史路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze-image", h.handleAnalyze)
	r.Post("/ask", h.handleAsk)
	r.Get("/history", h.handleHistory)
	r.Get("/history/{id}", h.handleRecord)
}

type analyzeResponse struct {
	Analysis  string     `json:"analysis"`
	HistoryID history.ID `json:"history_id"`
}

type askRequest struct {
	HistoryID string `json:"history_id"`
	Question  string `json:"question"`
}

type askResponse struct {
	Text string `json:"text"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	upload, err := ReadUpload(w, r, h.maxUploadSize)
	if err != nil {
		RespondUploadError(w, err)
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), upload)
	if err != nil {
		if errors.Is(err, diagnosis.ErrInvalidImage) {
			utils.RespondError(w, http.StatusBadRequest, "Invalid image")
			return
		}
		log.Printf("[diagnosis] analyze failed file=%q: %v", upload.Filename, err)
		utils.RespondError(w, http.StatusInternalServerError, "Unable to generate report")
		return
	}

	utils.RespondJSON(w, http.StatusOK, analyzeResponse{
		Analysis:  result.Report,
		HistoryID: result.HistoryID,
	})
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload askRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Missing data")
		return
	}

	rawID := strings.TrimSpace(payload.HistoryID)
	// 问题原样转发并保存，只拒绝空字符串。
	question := payload.Question
	if rawID == "" || question == "" {
		utils.RespondError(w, http.StatusBadRequest, "Missing data")
		return
	}

	// 无法解析的ID与不存在的记录同样返回404。
	id, err := history.ParseID(rawID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "History not found")
		return
	}

	answer, err := h.answerer.Answer(r.Context(), id, question)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, askResponse{Text: answer})
	case errors.Is(err, history.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "History not found")
	case errors.Is(err, qa.ErrQuestionRequired):
		utils.RespondError(w, http.StatusBadRequest, "Missing data")
	default:
		log.Printf("[qa] answer failed record=%s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "Unable to generate answer")
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.analyzer.History(r.Context())
	if err != nil {
		log.Printf("[history] list failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Unable to load history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := history.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "History not found")
		return
	}

	rec, err := h.analyzer.Record(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "History not found")
			return
		}
		log.Printf("[history] get failed record=%s: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "Unable to load history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec)
}

// RespondUploadError 将上传校验错误转换为JSON响应。
func RespondUploadError(w http.ResponseWriter, err error) {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		utils.RespondError(w, uploadErr.Status, uploadErr.Message)
		return
	}
	utils.RespondError(w, http.StatusBadRequest, "Invalid image")
}
