package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/storage"
)

// multipart framing allowance on top of the file limit
const formOverhead = 1 << 20

// UploadHandler accepts attachments and hands them to the configured storage.
type UploadHandler struct {
	store    storage.Storage
	maxBytes int64
}

func NewUploadHandler(store storage.Storage, maxBytes int64) *UploadHandler {
	return &UploadHandler{store: store, maxBytes: maxBytes}
}

var fileTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/zip",
	"text/plain",
	"text/csv",
}

// Upload handles POST /upload with multipart fields "file" and "type".
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+formOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(c, models.MessageFile)
			return
		}
		observability.IncUpload(string(models.MessageFile), "rejected")
		fail(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	kind := models.MessageFile
	if values := form.Value["type"]; len(values) > 0 && values[0] != "" {
		kind = models.MessageType(values[0])
	}
	if kind != models.MessageImage && kind != models.MessageVoice && kind != models.MessageFile {
		observability.IncUpload("unknown", "rejected")
		fail(c, http.StatusBadRequest, "unsupported upload type")
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		observability.IncUpload(string(kind), "rejected")
		fail(c, http.StatusBadRequest, "file is required")
		return
	}
	header := files[0]
	if header.Size > h.maxBytes {
		h.rejectTooLarge(c, kind)
		return
	}

	file, err := header.Open()
	if err != nil {
		observability.IncUpload(string(kind), "error")
		failWithLog(c, http.StatusInternalServerError, "could not read upload", err)
		return
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		observability.IncUpload(string(kind), "error")
		failWithLog(c, http.StatusInternalServerError, "could not read upload", err)
		return
	}
	if !allowedContent(kind, mtype) {
		observability.IncUpload(string(kind), "rejected")
		fail(c, http.StatusUnsupportedMediaType, fmt.Sprintf("%s uploads do not accept %s", kind, mtype.String()))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		observability.IncUpload(string(kind), "error")
		failWithLog(c, http.StatusInternalServerError, "could not read upload", err)
		return
	}

	fileName := filepath.Base(header.Filename)
	url, err := h.store.Put(c.Request.Context(), storage.Object{
		Kind:        string(kind),
		FileName:    fileName,
		ContentType: mtype.String(),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		observability.IncUpload(string(kind), "error")
		failWithLog(c, http.StatusInternalServerError, "upload failed", err)
		return
	}

	observability.IncUpload(string(kind), "stored")
	observability.ObserveUploadBytes(string(kind), header.Size)
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url, "fileName": fileName})
}

func (h *UploadHandler) rejectTooLarge(c *gin.Context, kind models.MessageType) {
	observability.IncUpload(string(kind), "too_large")
	fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large (max %s)", humanize.Bytes(uint64(h.maxBytes))))
}

func allowedContent(kind models.MessageType, mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		ct := m.String()
		switch kind {
		case models.MessageImage:
			if strings.HasPrefix(ct, "image/") {
				return true
			}
		case models.MessageVoice:
			// browser recorders emit webm/ogg containers that sniff as video
			if strings.HasPrefix(ct, "audio/") || ct == "video/webm" || ct == "video/ogg" {
				return true
			}
		case models.MessageFile:
			if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "audio/") {
				return true
			}
			for _, allowed := range fileTypes {
				if mimetype.EqualsAny(ct, allowed) {
					return true
				}
			}
		}
	}
	return false
}
