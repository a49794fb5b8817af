package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/qa"
	"github.com/zhouzirui/medrax/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Answerer answers follow-up questions, optionally streaming the answer.
type Answerer interface {
	Answer(ctx context.Context, id history.ID, question string) (string, error)
	StreamAnswer(ctx context.Context, id history.ID, question string, onDelta func(string) error) (string, error)
}

// RecordLoader looks up a record before the connection is upgraded.
type RecordLoader interface {
	Record(ctx context.Context, id history.ID) (*history.Record, error)
}

// WebSocketHandler 基于WebSocket的报告追问处理器
type WebSocketHandler struct {
	answerer  Answerer
	records   RecordLoader
	streaming bool
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(answerer Answerer, records RecordLoader, streaming bool) *WebSocketHandler {
	return &WebSocketHandler{
		answerer:  answerer,
		records:   records,
		streaming: streaming,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/ask/{historyID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// QuestionMessage 客户端提问
type QuestionMessage struct {
	Question string `json:"question"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	HistoryID string      `json:"history_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := history.ParseID(chi.URLParam(r, "historyID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "History not found")
		return
	}

	rec, err := h.records.Record(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "History not found")
			return
		}
		log.Printf("[ws] load record=%s failed: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "Unable to load history")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for record: %s", id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, id, "ready", map[string]any{
		"qa_count":   len(rec.QAHistory),
		"created_at": rec.CreatedAt,
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "question":
			h.handleQuestion(ctx, conn, id, msg.Data)
		default:
			h.sendError(conn, id, "unsupported message type: "+msg.Type)
		}
	}
}

// handleQuestion 回答一个问题。连接按顺序处理问题，同一连接上的追问不会交错写入。
func (h *WebSocketHandler) handleQuestion(ctx context.Context, conn *websocket.Conn, id history.ID, raw json.RawMessage) {
	var q QuestionMessage
	if err := json.Unmarshal(raw, &q); err != nil {
		h.sendError(conn, id, "invalid question payload")
		return
	}
	question := q.Question
	if question == "" {
		h.sendError(conn, id, "Missing data")
		return
	}

	var (
		answer string
		err    error
	)
	if h.streaming {
		answer, err = h.answerer.StreamAnswer(ctx, id, question, func(delta string) error {
			return h.write(conn, outgoingMessage{
				Type:      "delta",
				HistoryID: id.String(),
				Data:      map[string]string{"text": delta},
				Timestamp: time.Now().Unix(),
			})
		})
	} else {
		answer, err = h.answerer.Answer(ctx, id, question)
	}

	switch {
	case err == nil:
		h.send(conn, id, "answer", map[string]string{
			"question": question,
			"text":     answer,
		})
	case errors.Is(err, history.ErrNotFound):
		h.sendError(conn, id, "History not found")
	case errors.Is(err, qa.ErrQuestionRequired):
		h.sendError(conn, id, "Missing data")
	default:
		log.Printf("[ws] answer failed record=%s: %v", id, err)
		h.sendError(conn, id, "Unable to generate answer")
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, id history.ID, msgType string, data interface{}) {
	msg := outgoingMessage{
		Type:      msgType,
		HistoryID: id.String(),
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := h.write(conn, msg); err != nil {
		log.Printf("[ws] write %s failed: %v", msgType, err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, id history.ID, message string) {
	h.send(conn, id, "error", map[string]string{"message": message})
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// pingLoop 定期发送ping消息。WriteControl 可与 WriteJSON 并发调用。
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
