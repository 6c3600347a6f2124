package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/internal/diagnostics"
	"github.com/priyxstudio/kiwi/loggers/cli"
	"github.com/priyxstudio/kiwi/system"
)

const DefaultLogLines = 200

var diagnosticsArgs struct {
	Upload    bool
	UploadURL string
	LogLines  int
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this kiwi instance to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		RunE: diagnosticsCmdRun,
	}

	command.Flags().BoolVar(&diagnosticsArgs.Upload, "upload", false, "upload the report and print its url instead of printing it")
	command.Flags().StringVar(&diagnosticsArgs.UploadURL, "upload-url", diagnostics.DefaultUploadURL, "the mclo.gs compatible endpoint to upload to")
	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")

	return command
}

// diagnosticsCmdRun collects the versions, the configuration with secrets
// removed, the module catalog and the latest logs.
func diagnosticsCmdRun(cmd *cobra.Command, _ []string) error {
	c := config.Get()

	info, err := system.GetSystemInformation()
	if err != nil {
		log.WithError(err).Warn("failed to read system information")
	}
	catalog, err := describeModules()
	if err != nil {
		return err
	}

	r := &diagnostics.Report{Config: c, System: info, Modules: catalog, LogLines: diagnosticsArgs.LogLines}
	if c.System.LogDirectory != "" {
		r.LogFile = filepath.Join(c.System.LogDirectory, "kiwi.log")
	}

	if !diagnosticsArgs.Upload {
		return r.Render(os.Stdout)
	}

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	u, err := diagnostics.Upload(ctx, nil, diagnosticsArgs.UploadURL, buf.String())
	if err != nil {
		return err
	}
	fmt.Printf("Your report is available here: %s\n", u)
	return nil
}
