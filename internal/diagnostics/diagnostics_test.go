package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"emperror.dev/errors"

	"github.com/priyxstudio/kiwi/config"
)

func TestRenderRedactsSecrets(t *testing.T) {
	c, err := config.NewAtPath("/etc/kiwi/config.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Token = "bot-token"
	c.Api.Token = "api-token"

	logs := filepath.Join(t.TempDir(), "kiwi.log")
	var lines []string
	for n := range 5 {
		lines = append(lines, fmt.Sprintf(`{"message":"line %d"}`, n))
	}
	lines = append(lines, `{"message":"connecting with bot-token"}`)
	if err := os.WriteFile(logs, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := &Report{Config: c, Modules: "List (list): Tick off entries\n", LogFile: logs, LogLines: 2}
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	for _, s := range []string{"bot-token", "api-token", "line 3"} {
		if strings.Contains(out, s) {
			t.Fatalf("did not expect %q in report:\n%s", s, out)
		}
	}
	for _, s := range []string{"/etc/kiwi/config.yml", "List (list)", `{"message":"line 4"}`, "connecting with {redacted}"} {
		if !strings.Contains(out, s) {
			t.Fatalf("expected %q in report:\n%s", s, out)
		}
	}
}

func TestRenderMissingLogFile(t *testing.T) {
	r := &Report{LogFile: filepath.Join(t.TempDir(), "missing.log"), LogLines: 10}
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to read") {
		t.Fatalf("expected the read failure to be reported:\n%s", buf.String())
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("content") != "report" {
			fmt.Fprint(w, `{"success":false,"error":"empty"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"id":"abc","url":"https://mclo.gs/abc"}`)
	}))
	defer srv.Close()

	u, err := Upload(context.Background(), srv.Client(), srv.URL, "report")
	if err != nil || u != "https://mclo.gs/abc" {
		t.Fatalf("unexpected result %q (%v)", u, err)
	}
	if _, err := Upload(context.Background(), srv.Client(), srv.URL, "other"); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected the api error to be returned, got %v", err)
	}
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := Upload(context.Background(), srv.Client(), srv.URL, "report"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestUploadURLValidation(t *testing.T) {
	if _, err := Upload(context.Background(), nil, "", "x"); !errors.Is(err, ErrMissingUploadURL) {
		t.Fatalf("expected ErrMissingUploadURL, got %v", err)
	}
	if _, err := Upload(context.Background(), nil, "not a url", "x"); !errors.Is(err, ErrInvalidUploadURL) {
		t.Fatalf("expected ErrInvalidUploadURL, got %v", err)
	}
}
