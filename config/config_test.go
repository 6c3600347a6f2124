package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return p
}

func TestNewAtPathDefaults(t *testing.T) {
	c, err := NewAtPath("/tmp/kiwi.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Api.Port != 8080 || c.Api.Host != "127.0.0.1" || c.Api.Enabled {
		t.Fatalf("unexpected api defaults: %+v", c.Api)
	}
	if c.Scheduler.Timezone != "UTC" || c.Scheduler.JobTimeout != 300 {
		t.Fatalf("unexpected scheduler defaults: %+v", c.Scheduler)
	}
	if c.Discord.RegistrationWorkers != 2 || c.Database.Path == "" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Path() != "/tmp/kiwi.yml" {
		t.Fatalf("unexpected path %q", c.Path())
	}
}

func TestFromFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "api-token")
	if err := os.WriteFile(secret, []byte("s3cret\r\n"), 0o600); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	p := writeFile(t, "token: from-file\napi:\n  enabled: true\n  port: 9090\n  token: file://"+secret+"\nscheduler:\n  timezone: Europe/Berlin\n")

	t.Setenv("KIWI_TOKEN", "from-env")
	if err := FromFile(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := Get()
	if c.Token != "from-env" {
		t.Fatalf("expected the environment token to win, got %q", c.Token)
	}
	if c.Api.Token != "s3cret" || c.Api.Port != 9090 || !c.Api.Enabled {
		t.Fatalf("unexpected api config: %+v", c.Api)
	}
	if c.Api.Host != "127.0.0.1" {
		t.Fatalf("expected defaults for unset keys, got %q", c.Api.Host)
	}
	loc, err := c.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Fatalf("unexpected location %v (%v)", loc, err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := NewAtPath("")
	Set(c)
	Get().Debug = true
	if Get().Debug {
		t.Fatalf("expected Get to return a copy")
	}
	Update(func(c *Configuration) { c.Debug = true })
	if !Get().Debug {
		t.Fatalf("expected Update to modify the stored configuration")
	}
}

func TestLocationInvalid(t *testing.T) {
	c := &Configuration{Scheduler: SchedulerConfiguration{Timezone: "Mars/Olympus"}}
	loc, err := c.Location()
	if err == nil || loc != time.UTC {
		t.Fatalf("expected UTC and an error, got %v (%v)", loc, err)
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("KIWI_TEST_VALUE", "abc")
	if v, err := Expand("${KIWI_TEST_VALUE}-1"); err != nil || v != "abc-1" {
		t.Fatalf("unexpected value %q (%v)", v, err)
	}
	if _, err := Expand("file:///does/not/exist"); err == nil {
		t.Fatalf("expected an error for a missing secret file")
	}
}

func TestWriteToDiskKeepsComments(t *testing.T) {
	p := writeFile(t, "# bot token\ntoken: old\n# admin api\napi:\n  port: 9000 # custom port\n")
	c, err := NewAtPath(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Token = "new"
	c.Api.Port = 9001

	if err := WriteToDisk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	out := string(b)
	for _, want := range []string{"# bot token", "token: new", "# admin api", "port: 9001 # custom port", "scheduler:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in written config:\n%s", want, out)
		}
	}
}

func TestWriteToDiskNewFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	c, _ := NewAtPath(p)
	if err := WriteToDisk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := FromFile(p); err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if Get().Api.Port != 8080 {
		t.Fatalf("expected defaults to round trip")
	}

	if err := WriteToDisk(&Configuration{}); err == nil {
		t.Fatalf("expected an error without a path")
	}
}
