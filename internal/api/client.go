// internal/api/client.go
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// UploadMetadata describes a run report being uploaded.
type UploadMetadata struct {
	RunID        string
	VehicleCount int
	RunDuration  float64 // seconds
	Tag          string
	Done         int
	Aborted      int
	Failed       int
}

func (m UploadMetadata) fields() [][2]string {
	return [][2]string{
		{"runId", m.RunID},
		{"vehicleCount", strconv.Itoa(m.VehicleCount)},
		{"runDuration", strconv.FormatFloat(m.RunDuration, 'f', 3, 64)},
		{"tag", m.Tag},
		{"done", strconv.Itoa(m.Done)},
		{"aborted", strconv.Itoa(m.Aborted)},
		{"failed", strconv.Itoa(m.Failed)},
	}
}

// Client talks to the ground-station HTTP service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck reports whether the ground station answers on /healthcheck.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create healthcheck request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	return statusError("healthcheck", resp)
}

// Upload posts a run report file with its metadata as a multipart form.
// The file is streamed, not buffered.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := c.writeForm(form, filepath.Base(filePath), file, meta)
		if cerr := form.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs/add", pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := <-errCh; err != nil {
		return err
	}
	return statusError("upload", resp)
}

func (c *Client) writeForm(form *multipart.Writer, name string, report io.Reader, meta UploadMetadata) error {
	if err := form.WriteField("secret", c.apiKey); err != nil {
		return fmt.Errorf("failed to write form: %w", err)
	}
	if err := form.WriteField("filename", name); err != nil {
		return fmt.Errorf("failed to write form: %w", err)
	}
	for _, f := range meta.fields() {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, report); err != nil {
		return fmt.Errorf("failed to copy report: %w", err)
	}
	return nil
}

// statusError turns a non-200 response into an error carrying the start of
// the response body.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, msg)
	}
	return fmt.Errorf("%s returned status %d", op, resp.StatusCode)
}
