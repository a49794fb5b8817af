package diagnosis

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/medrax/backend/internal/service/diagnosis"
)

// UploadField is the multipart field carrying the image.
const UploadField = "file"

// multipartMemory is how much of a form is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// UploadError is a client error found while reading an upload.
type UploadError struct {
	Status  int
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ReadUpload 解析 multipart 上传并校验文件类型，body 大小受 limit 限制。
func ReadUpload(w http.ResponseWriter, r *http.Request, limit int64) (diagnosis.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return diagnosis.Upload{}, &UploadError{Status: http.StatusRequestEntityTooLarge, Message: "File too large", Err: err}
		}
		return diagnosis.Upload{}, &UploadError{Status: http.StatusBadRequest, Message: "No image uploaded", Err: err}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		return diagnosis.Upload{}, &UploadError{Status: http.StatusBadRequest, Message: "No image uploaded", Err: err}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return diagnosis.Upload{}, &UploadError{Status: http.StatusBadRequest, Message: "Not an image"}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return diagnosis.Upload{}, &UploadError{Status: http.StatusBadRequest, Message: "Invalid image", Err: err}
	}
	if len(data) == 0 {
		return diagnosis.Upload{}, &UploadError{Status: http.StatusBadRequest, Message: "Invalid image"}
	}

	return diagnosis.Upload{
		Data:        data,
		ContentType: contentType,
		Filename:    header.Filename,
	}, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
