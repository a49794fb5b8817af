package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
	"github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
)

type fakeAnalyzer struct {
	store   *history.MemoryStore
	report  string
	err     error
	uploads []diagnosis.Upload
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, upload diagnosis.Upload) (*diagnosis.Result, error) {
	f.uploads = append(f.uploads, upload)
	if f.err != nil {
		return nil, f.err
	}
	id, err := f.store.Create(ctx, &history.Record{Report: f.report})
	if err != nil {
		return nil, err
	}
	return &diagnosis.Result{HistoryID: id, Report: f.report}, nil
}

func (f *fakeAnalyzer) History(ctx context.Context) ([]history.Record, error) {
	return f.store.List(ctx)
}

func (f *fakeAnalyzer) Record(ctx context.Context, id history.ID) (*history.Record, error) {
	return f.store.Get(ctx, id)
}

type fakeAnswerer struct {
	store  *history.MemoryStore
	answer string
	err    error
}

func (f *fakeAnswerer) Answer(ctx context.Context, id history.ID, question string) (string, error) {
	if _, err := f.store.Get(ctx, id); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	if err := f.store.AppendQA(ctx, id, history.QAEntry{Question: question, Answer: f.answer, Time: time.Now().UTC()}); err != nil {
		return "", err
	}
	return f.answer, nil
}

func setupRouter(limit int64) (*chi.Mux, *fakeAnalyzer, *fakeAnswerer) {
	store := history.NewMemoryStore()
	analyzer := &fakeAnalyzer{store: store, report: "Impression: 1. No acute cardiopulmonary process."}
	answerer := &fakeAnswerer{store: store, answer: "No."}

	r := chi.NewRouter()
	New(analyzer, answerer, limit).RegisterRoutes(r)
	return r, analyzer, answerer
}

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="xray.png"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart err: %v", err)
	}
	part.Write(data)
	writer.Close()
	return body, writer.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json body %q: %v", resp.Body.String(), err)
	}
	return payload["error"]
}

func TestAnalyzeImageSuccess(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	body, contentType := multipartBody(t, "file", "image/png", pngBytes(t))

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Analysis  string `json:"analysis"`
		HistoryID string `json:"history_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !strings.Contains(payload.Analysis, "Impression") || payload.HistoryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(analyzer.uploads) != 1 || analyzer.uploads[0].ContentType != "image/png" || analyzer.uploads[0].Filename != "xray.png" {
		t.Fatalf("unexpected upload %+v", analyzer.uploads)
	}
}

func TestAnalyzeImageRejectsNonImage(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	body, contentType := multipartBody(t, "file", "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest || decodeError(t, resp) != "Not an image" {
		t.Fatalf("expected 400 Not an image, got %d %s", resp.Code, resp.Body.String())
	}
	if len(analyzer.uploads) != 0 {
		t.Fatal("analyzer must not run")
	}
}

func TestAnalyzeImageMissingFile(t *testing.T) {
	r, _, _ := setupRouter(50 << 20)
	body, contentType := multipartBody(t, "other", "image/png", pngBytes(t))

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest || decodeError(t, resp) != "No image uploaded" {
		t.Fatalf("expected 400 No image uploaded, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestAnalyzeImageTooLarge(t *testing.T) {
	r, _, _ := setupRouter(1024)
	body, contentType := multipartBody(t, "file", "image/png", bytes.Repeat([]byte{0x89}, 8192))

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestAnalyzeImageErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid image", diagnosis.ErrInvalidImage, http.StatusBadRequest, "Invalid image"},
		{"upstream", &ai.UpstreamError{Op: "report", StatusCode: 500, Body: "boom"}, http.StatusInternalServerError, "Unable to generate report"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, analyzer, _ := setupRouter(50 << 20)
			analyzer.err = tc.err
			body, contentType := multipartBody(t, "file", "image/png", pngBytes(t))

			req := httptest.NewRequest(http.MethodPost, "/analyze-image", body)
			req.Header.Set("Content-Type", contentType)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tc.status || decodeError(t, resp) != tc.message {
				t.Fatalf("expected %d %q, got %d %s", tc.status, tc.message, resp.Code, resp.Body.String())
			}
			if strings.Contains(resp.Body.String(), "boom") {
				t.Fatal("upstream body must not leak to clients")
			}
		})
	}
}

func askRequestBody(id, question string) *bytes.Reader {
	payload, _ := json.Marshal(map[string]string{"history_id": id, "question": question})
	return bytes.NewReader(payload)
}

func TestAskAppendsQA(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	id, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "r"})

	question := " Is the heart enlarged?\n"
	req := httptest.NewRequest(http.MethodPost, "/ask", askRequestBody(id.String(), question))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", resp.Code, resp.Body.String())
	}
	var payload map[string]string
	json.Unmarshal(resp.Body.Bytes(), &payload)
	if payload["text"] != "No." {
		t.Fatalf("unexpected answer %v", payload)
	}

	rec, _ := analyzer.store.Get(context.Background(), id)
	if len(rec.QAHistory) != 1 || rec.QAHistory[0].Question != question {
		t.Fatalf("unexpected qa history %+v", rec.QAHistory)
	}
}

func TestAskValidation(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	id, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "r"})

	cases := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"bad json", `{"history_id":`, http.StatusBadRequest, "Missing data"},
		{"missing question", `{"history_id":"` + id.String() + `"}`, http.StatusBadRequest, "Missing data"},
		{"empty question", `{"history_id":"` + id.String() + `","question":""}`, http.StatusBadRequest, "Missing data"},
		{"blank id", `{"history_id":"  ","question":"q"}`, http.StatusBadRequest, "Missing data"},
		{"unparsable id", `{"history_id":"not-an-id","question":"q"}`, http.StatusNotFound, "History not found"},
		{"unknown id", `{"history_id":"` + history.NewID().String() + `","question":"q"}`, http.StatusNotFound, "History not found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tc.status || decodeError(t, resp) != tc.message {
				t.Fatalf("expected %d %q, got %d %s", tc.status, tc.message, resp.Code, resp.Body.String())
			}
		})
	}

	rec, _ := analyzer.store.Get(context.Background(), id)
	if len(rec.QAHistory) != 0 {
		t.Fatal("invalid requests must not mutate the record")
	}
}

func TestAskUpstreamFailure(t *testing.T) {
	r, analyzer, answerer := setupRouter(50 << 20)
	answerer.err = errors.New("rate limited")
	id, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "r"})

	req := httptest.NewRequest(http.MethodPost, "/ask", askRequestBody(id.String(), "q"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError || decodeError(t, resp) != "Unable to generate answer" {
		t.Fatalf("expected 500, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	r, _, _ := setupRouter(50 << 20)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "old", CreatedAt: base})
	newer, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "new", CreatedAt: base.Add(time.Hour)})

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var records []struct {
		ID     string `json:"_id"`
		Report string `json:"report"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(records) != 2 || records[0].ID != newer.String() || records[1].ID != older.String() {
		t.Fatalf("unexpected order %+v", records)
	}
}

func TestHistoryRecord(t *testing.T) {
	r, analyzer, _ := setupRouter(50 << 20)
	id, _ := analyzer.store.Create(context.Background(), &history.Record{Report: "r"})

	for path, status := range map[string]int{
		"/history/" + id.String():              http.StatusOK,
		"/history/" + history.NewID().String(): http.StatusNotFound,
		"/history/garbage":                     http.StatusNotFound,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != status {
			t.Fatalf("%s: expected %d, got %d", path, status, resp.Code)
		}
	}
}
