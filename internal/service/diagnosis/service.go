package diagnosis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/caption"
)

// ErrInvalidImage is returned when the upload cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// Reporter turns a caption into a report.
type Reporter interface {
	Synthesize(ctx context.Context, caption string) (string, error)
	SynthesizeStream(ctx context.Context, caption string, onDelta func(string) error) (string, error)
}

// Upload 是一次待分析的图像上传。
type Upload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Result 是分析完成后返回给客户端的内容。
type Result struct {
	HistoryID history.ID
	Caption   string
	Report    string
}

// StreamCallbacks receive progress while AnalyzeStream runs. Either may be nil.
type StreamCallbacks struct {
	OnCaption func(caption string) error
	OnDelta   func(delta string) error
}

// Service 串联 描述 → 报告 → 持久化 三个步骤。
type Service struct {
	captioner caption.Generator
	reporter  Reporter
	store     history.Store
	now       func() time.Time
}

// NewService wires the analysis pipeline.
func NewService(captioner caption.Generator, reporter Reporter, store history.Store) *Service {
	return &Service{
		captioner: captioner,
		reporter:  reporter,
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Analyze 生成描述与报告并保存记录。描述或报告失败时不写入任何数据。
func (s *Service) Analyze(ctx context.Context, upload Upload) (*Result, error) {
	return s.analyze(ctx, upload, StreamCallbacks{}, false)
}

// AnalyzeStream runs the same pipeline but streams the report through cb.
func (s *Service) AnalyzeStream(ctx context.Context, upload Upload, cb StreamCallbacks) (*Result, error) {
	return s.analyze(ctx, upload, cb, true)
}

func (s *Service) analyze(ctx context.Context, upload Upload, cb StreamCallbacks, stream bool) (*Result, error) {
	img, mime, err := caption.DecodeImage(upload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	started := s.now()
	text, err := s.captioner.Caption(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("caption failed: %w", err)
	}
	log.Printf("[caption] generated caption file=%q declared=%s detected=%s size=%d elapsed=%s",
		upload.Filename, upload.ContentType, mime, len(upload.Data), s.now().Sub(started))

	if cb.OnCaption != nil {
		if err := cb.OnCaption(text); err != nil {
			return nil, err
		}
	}

	var report string
	if stream {
		report, err = s.reporter.SynthesizeStream(ctx, text, cb.OnDelta)
	} else {
		report, err = s.reporter.Synthesize(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("report failed: %w", err)
	}

	rec := &history.Record{
		ImageBase64: base64.StdEncoding.EncodeToString(upload.Data),
		Caption:     text,
		Report:      report,
		CreatedAt:   s.now(),
	}
	id, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to save history: %w", err)
	}

	log.Printf("[history] stored record=%s report_length=%d", id, len(report))
	return &Result{HistoryID: id, Caption: text, Report: report}, nil
}

// History 返回全部记录，最新的在前。
func (s *Service) History(ctx context.Context) ([]history.Record, error) {
	return s.store.List(ctx)
}

// Record returns a single stored record.
func (s *Service) Record(ctx context.Context, id history.ID) (*history.Record, error) {
	return s.store.Get(ctx, id)
}
