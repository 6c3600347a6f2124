// Package diagnostics builds a plain text report about a bot installation
// that can be shared when asking for help.
package diagnostics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/system"
)

const redacted = "{redacted}"

// Report holds what goes into a diagnostics report.
type Report struct {
	Config  *config.Configuration
	System  *system.Information
	Modules string
	// LogFile is read from the end for at most LogLines lines.
	LogFile  string
	LogLines int
}

// Render writes the report to w. Secrets from the configuration never appear
// in the output, including inside log lines.
func (r *Report) Render(w io.Writer) error {
	var sb strings.Builder

	section(&sb, "Versions")
	fmt.Fprintf(&sb, "%18s: %s\n", "Kiwi", system.Version)
	if r.System != nil {
		fmt.Fprintf(&sb, "%18s: %s\n", "Go", r.System.Process.GoVersion)
		fmt.Fprintf(&sb, "%18s: %s\n", "Kernel", r.System.System.KernelVersion)
		fmt.Fprintf(&sb, "%18s: %s\n", "OS", r.System.System.OS)
		fmt.Fprintf(&sb, "%18s: %s\n", "Architecture", r.System.System.Architecture)
		fmt.Fprintf(&sb, "%18s: %d\n", "CPU Threads", r.System.System.CPUThreads)
	}

	if c := r.Config; c != nil {
		section(&sb, "Configuration")
		fmt.Fprintf(&sb, "%18s: %s\n", "Config File", c.Path())
		fmt.Fprintf(&sb, "%18s: %t\n", "Debug", c.Debug)
		fmt.Fprintf(&sb, "%18s: %s\n", "Token", secret(c.Token))
		fmt.Fprintf(&sb, "%18s: %s\n", "Database", c.Database.Path)
		fmt.Fprintf(&sb, "%18s: %t\n", "API Enabled", c.Api.Enabled)
		fmt.Fprintf(&sb, "%18s: %s:%d\n", "API Bind", c.Api.Host, c.Api.Port)
		fmt.Fprintf(&sb, "%18s: %t\n", "API SSL", c.Api.Ssl.Enabled)
		fmt.Fprintf(&sb, "%18s: %s\n", "Timezone", c.Scheduler.Timezone)
		fmt.Fprintf(&sb, "%18s: %ds\n", "Job Timeout", c.Scheduler.JobTimeout)
		fmt.Fprintf(&sb, "%18s: %d\n", "Intents", c.Discord.Intents)
		fmt.Fprintf(&sb, "%18s: %s\n", "Log Directory", c.System.LogDirectory)
	}

	section(&sb, "Modules")
	sb.WriteString(r.Modules)

	if r.LogFile != "" && r.LogLines > 0 {
		section(&sb, "Latest Logs")
		lines, err := tail(r.LogFile, r.LogLines)
		if err != nil {
			fmt.Fprintf(&sb, "failed to read %s: %s\n", r.LogFile, err)
		}
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}

	out := sb.String()
	if c := r.Config; c != nil {
		for _, s := range []string{c.Token, c.Api.Token} {
			if s != "" {
				out = strings.ReplaceAll(out, s, redacted)
			}
		}
	}
	_, err := io.WriteString(w, out)
	return err
}

func section(sb *strings.Builder, title string) {
	fmt.Fprintf(sb, "\n|\n| %s\n| ------------------------------\n", title)
}

func secret(s string) string {
	if s == "" {
		return "not set"
	}
	return redacted
}

// tail returns the last n lines of a file.
func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		lines = append(lines, s.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, s.Err()
}
