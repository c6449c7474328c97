package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"framegate/internal/logging"
	"framegate/internal/services"
)

// Upload stages a local file in the backend's input area and returns the name
// the job graph should reference.
func (c *Client) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", fmt.Sprintf("open %q", localPath), err)
	}
	defer file.Close()
	return c.UploadReader(ctx, filepath.Base(localPath), file)
}

// UploadReader stages content read from r under name.
func (c *Client) UploadReader(ctx context.Context, name string, r io.Reader) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", "file name required", nil)
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(c.dialect.uploadField, name)
	if err != nil {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", "build form", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", fmt.Sprintf("read %q", name), err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", "build form", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrSubmission, stageName, "upload", "build form", err)
	}

	data, err := c.send(ctx, "upload", http.MethodPost, c.dialect.uploadPath, writer.FormDataContentType(), &body, true)
	if err != nil {
		return "", err
	}
	staged, err := c.dialect.parseUpload(data)
	if err != nil {
		return "", services.Wrap(services.ErrBackend, stageName, "upload", "decode response", err)
	}
	if staged == "" {
		staged = name
	}
	c.logger.Debug("input staged",
		logging.String("file", name),
		logging.String("staged_as", staged))
	return staged, nil
}
