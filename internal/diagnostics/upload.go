package diagnostics

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
)

// DefaultUploadURL is an mclo.gs compatible paste endpoint.
const DefaultUploadURL = "https://api.mclo.gs/1/log"

const (
	ErrMissingUploadURL = errors.Sentinel("diagnostics: upload url is required")
	ErrInvalidUploadURL = errors.Sentinel("diagnostics: upload url is invalid")
)

type uploadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// Upload posts a report to an mclo.gs compatible endpoint and returns the URL
// it can be viewed at.
func Upload(ctx context.Context, client *http.Client, apiURL string, report string) (string, error) {
	if apiURL == "" {
		return "", ErrMissingUploadURL
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.WithDetails(ErrInvalidUploadURL, "url", apiURL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)
	if err := form.WriteField("content", report); err != nil {
		return "", errors.WithStack(err)
	}
	if err := form.Close(); err != nil {
		return "", errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: failed to create upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: failed to upload report")
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "diagnostics: failed to read upload response")
	}
	if res.StatusCode != http.StatusOK {
		return "", errors.WithDetails(errors.New("diagnostics: upload was rejected"), "status", res.StatusCode, "body", string(b))
	}

	var out uploadResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", errors.Wrap(err, "diagnostics: failed to decode upload response")
	}
	if !out.Success {
		if out.Error != "" {
			return "", errors.Errorf("diagnostics: upload failed: %s", out.Error)
		}
		return "", errors.New("diagnostics: upload failed")
	}
	if out.URL == "" {
		return "", errors.New("diagnostics: upload response is missing the url")
	}
	return out.URL, nil
}
