package termui

import (
	"bufio"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"support-chat/internal/models"
)

// UploadKind picks the upload category for a local file from its content.
func UploadKind(path string) models.MessageType {
	mt, err := mimetype.DetectFile(path)
	if err == nil && strings.HasPrefix(mt.String(), "image/") {
		return models.MessageImage
	}
	return models.MessageFile
}

// ReadLines sends every input line on out and closes it at EOF.
func ReadLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
