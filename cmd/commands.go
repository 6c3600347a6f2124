package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/priyxstudio/kiwi/bot"
	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/internal/database"
	"github.com/priyxstudio/kiwi/loggers/cli"
	"github.com/priyxstudio/kiwi/platform"
	"github.com/priyxstudio/kiwi/platform/discord"
)

var syncArgs struct {
	timeout time.Duration
}

func newSyncCommandsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "sync-commands",
		Short: "Replace the registered commands of the bot and every guild it is in, then exit.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		RunE: syncCommandsCmdRun,
	}

	command.Flags().DurationVar(&syncArgs.timeout, "timeout", 2*time.Minute, "how long to wait for the gateway and the registrations")

	return command
}

func syncCommandsCmdRun(cmd *cobra.Command, _ []string) error {
	c := config.Get()
	if err := database.Initialize(c.Database.Path); err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	b, err := newBot(c, client, database.Instance(), bot.WithoutAutoSync())
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), syncArgs.timeout)
	defer cancel()

	if err := client.Open(ctx); err != nil {
		return err
	}
	defer client.Close()

	select {
	case <-client.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	guilds := client.GuildIDs()
	for _, id := range guilds {
		b.HandleEvent(ctx, &platform.Event{Kind: platform.EventGuildReady, GuildID: id})
	}
	if err := b.Sync(ctx, guilds...); err != nil {
		return err
	}
	fmt.Printf("Replaced the global commands and the commands of %d guild(s).\n", len(guilds))
	return nil
}

func newModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "Print the modules of the bot with their commands, components and jobs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := describeModules()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

// describeModules builds an offline bot to render the module catalog. Nothing
// is sent to the platform.
func describeModules() (string, error) {
	c, err := config.NewAtPath("")
	if err != nil {
		return "", err
	}
	client, err := discord.New("")
	if err != nil {
		return "", err
	}
	db, err := database.Open(":memory:")
	if err != nil {
		return "", err
	}
	b, err := newBot(c, client, db, bot.WithoutAutoSync())
	if err != nil {
		return "", err
	}
	defer b.Close()
	return b.Describe(), nil
}
