package cmd

import (
	"context"
	"fmt"
	log2 "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/bot"
	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/internal/database"
	"github.com/priyxstudio/kiwi/loggers/cli"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/modules/activity"
	"github.com/priyxstudio/kiwi/modules/list"
	"github.com/priyxstudio/kiwi/modules/permissions"
	"github.com/priyxstudio/kiwi/modules/settings"
	"github.com/priyxstudio/kiwi/platform"
	"github.com/priyxstudio/kiwi/platform/discord"
	"github.com/priyxstudio/kiwi/router"
	"github.com/priyxstudio/kiwi/system"
)

var (
	configPath = config.DefaultLocation
	debug      = false
)

var rootCommand = &cobra.Command{
	Use:   "kiwi",
	Short: "Runs the modular chat bot.",
	PreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		initLogging()
	},
	Run: rootCmdRun,
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Prints the current executable version and exits.",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("kiwi v%s\n", system.Version)
	},
}

func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log2.Fatalf("failed to execute command: %s", err)
	}
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run the bot in debug mode")

	rootCommand.AddCommand(versionCommand)
	rootCommand.AddCommand(newSyncCommandsCommand())
	rootCommand.AddCommand(newModulesCommand())
	rootCommand.AddCommand(newDiagnosticsCommand())
}

// builtinModules returns every module shipped with the bot in load order.
func builtinModules() []*modules.Module {
	return []*modules.Module{
		activity.New(),
		list.New(),
		permissions.New(),
		settings.New(),
	}
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
	log.WithField("version", system.Version).Info("starting kiwi")
	c := config.Get()
	if c.Token == "" {
		log.Fatal("no bot token configured, set token in the configuration file or KIWI_TOKEN")
	}

	if err := database.Initialize(c.Database.Path); err != nil {
		log.WithField("error", err).Fatal("failed to initialize database")
	}

	client, err := newClient(c)
	if err != nil {
		log.WithField("error", err).Fatal("failed to create discord client")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := newBot(c, client, database.Instance(), bot.WithRegisterer(reg))
	if err != nil {
		log.WithField("error", err).Fatal("failed to create bot")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.OnInteraction(func(i *platform.Interaction) { b.HandleInteraction(ctx, i) })
	client.OnEvent(func(e *platform.Event) { b.HandleEvent(ctx, e) })
	b.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Open(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})
	if c.Api.Enabled {
		g.Go(func() error {
			return serveAPI(gctx, b, reg)
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	if err := client.Close(); err != nil {
		log.WithError(err).Warn("failed to close gateway connection")
	}
	if err := b.Close(); err != nil {
		log.WithError(err).Warn("failed to stop the bot cleanly")
	}
	if err != nil {
		log.WithField("error", err).Fatal("kiwi stopped with an error")
	}
}

// newClient creates the discord client from the configuration.
func newClient(c *config.Configuration) (*discord.Client, error) {
	opts := []discord.Option{
		discord.WithApplicationID(c.ApplicationID),
		discord.WithMemberCacheTTL(config.Seconds(c.Discord.MemberCacheTTL)),
	}
	if c.Intents() != 0 {
		opts = append(opts, discord.WithIntents(c.Intents()))
	}
	return discord.New(c.Token, opts...)
}

// newBot wires a bot with the builtin modules on top of a platform client.
func newBot(c *config.Configuration, p platform.Platform, db *gorm.DB, opts ...bot.Option) (*bot.Bot, error) {
	loc, err := c.Location()
	if err != nil {
		log.WithError(err).Warn("falling back to UTC for scheduled jobs")
	}
	opts = append([]bot.Option{
		bot.WithLocation(loc),
		bot.WithJobTimeout(config.Seconds(c.Scheduler.JobTimeout)),
		bot.WithRegistrationWorkers(c.Discord.RegistrationWorkers, config.Seconds(c.Discord.RegistrationTimeout)),
	}, opts...)

	b, err := bot.New(p, db, opts...)
	if err != nil {
		return nil, err
	}
	if err := b.Load(builtinModules()...); err != nil {
		return nil, err
	}
	return b, nil
}

// serveAPI runs the admin API until the context is cancelled.
func serveAPI(ctx context.Context, b *bot.Bot, gatherer prometheus.Gatherer) error {
	c := config.Get()
	if c.Api.Token == "" {
		return errors.New("cmd/root: api.token must be set when the api is enabled")
	}

	s := &http.Server{
		Addr:              net.JoinHostPort(c.Api.Host, strconv.Itoa(c.Api.Port)),
		Handler:           router.Configure(b, gatherer),
		TLSConfig:         config.DefaultTLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	log.WithFields(log.Fields{"use_ssl": c.Api.Ssl.Enabled, "address": s.Addr}).Info("configuring admin api")
	var err error
	if c.Api.Ssl.Enabled {
		err = s.ListenAndServeTLS(c.Api.Ssl.CertificateFile, c.Api.Ssl.KeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "cmd/root: admin api stopped")
}

// Reads the configuration from the disk and then sets up the global singleton
// with all the configuration values. A missing file is replaced by a default
// one and the process exits so the token can be filled in.
func initConfig() {
	if !filepath.IsAbs(configPath) {
		d, err := filepath.Abs(configPath)
		if err != nil {
			log2.Fatalf("cmd/root: failed to determine configuration file path: %s", err)
		}
		configPath = d
	}
	err := config.FromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := writeDefaultConfig(configPath); err != nil {
				log2.Fatalf("cmd/root: failed to write default configuration: %s", err)
			}
			exitWithConfigurationNotice()
		}
		log2.Fatalf("cmd/root: error while reading configuration file: %s", err)
	}
	if debug && !config.Get().Debug {
		config.SetDebugViaFlag(debug)
	}
}

// writeDefaultConfig writes a configuration file holding only default values.
func writeDefaultConfig(path string) error {
	c, err := config.NewAtPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return config.WriteToDisk(c)
}

// Configures the global apex logger so that we can call it from any location
// in the code without having to pass around a logger instance.
func initLogging() {
	handlers := []log.Handler{cli.Default}
	if dir := config.Get().System.LogDirectory; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log2.Fatalf("cmd/root: failed to create log directory: %s", err)
		}
		// logrotate reopens the file on SIGHUP.
		w, err := logrotate.NewFile(filepath.Join(dir, "kiwi.log"))
		if err != nil {
			log2.Fatalf("cmd/root: failed to create log file: %s", err)
		}
		handlers = append(handlers, json.New(w))
	}

	log.SetLevel(log.InfoLevel)
	if config.Get().Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(handlers...))
	log.WithField("path", config.Get().Path()).Debug("loaded configuration from file")
}

// Prints a notice after writing a fresh configuration file.
func exitWithConfigurationNotice() {
	fmt.Printf(`
A default configuration was written to %s.

Set the bot token in that file, or through the KIWI_TOKEN environment
variable, then start kiwi again.

`, configPath)
	os.Exit(1)
}
