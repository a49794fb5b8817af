package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/medrax/backend/internal/handler/diagnosis"
	"github.com/zhouzirui/medrax/backend/internal/handler/stream"
	"github.com/zhouzirui/medrax/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/medrax/backend/internal/middleware"
	diagnosisService "github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
	qaService "github.com/zhouzirui/medrax/backend/internal/service/qa"
	"github.com/zhouzirui/medrax/backend/pkg/utils"
)

// Options 控制路由层的可调参数。
type Options struct {
	MaxUploadSize int64
	Streaming     bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(diagnosisSvc *diagnosisService.Service, qaSvc *qaService.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// 兼容 /analyze-image/ 这类带尾斜杠的客户端路径。
	r.Use(middleware.StripSlashes)
	r.Use(middlewarePkg.CORS)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "MedRAX AI running"})
	})

	diagnosis.New(diagnosisSvc, qaSvc, opts.MaxUploadSize).RegisterRoutes(r)
	stream.New(diagnosisSvc, opts.MaxUploadSize, opts.Streaming).RegisterRoutes(r)
	ws.NewWebSocketHandler(qaSvc, diagnosisSvc, opts.Streaming).RegisterRoutes(r)

	return r
}
