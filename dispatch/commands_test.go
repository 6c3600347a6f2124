package dispatch

import (
	"context"
	"testing"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
	"github.com/priyxstudio/kiwi/platform/platformtest"
)

func init() {
	log.SetHandler(discard.New())
}

type testRuntime struct {
	p platform.Platform
}

func (r *testRuntime) Platform() platform.Platform { return r.p }
func (r *testRuntime) DB() *gorm.DB                { return nil }
func (r *testRuntime) Modules() *modules.Manager   { return nil }

func newCommandRouter(t *testing.T, opts ...Option) (*CommandRouter, *platformtest.Fake) {
	t.Helper()
	fake := platformtest.New()
	r := NewCommandRouter(&testRuntime{p: fake}, opts...)
	t.Cleanup(r.Close)
	return r, fake
}

func commandInteraction(guildID, name string, member *permission.Member) *platform.Interaction {
	return &platform.Interaction{
		ID:          "I1",
		Kind:        platform.KindCommand,
		GuildID:     guildID,
		UserID:      "U1",
		CommandName: name,
		Member:      member,
	}
}

func names(listing []*discordgo.ApplicationCommand) []string {
	out := make([]string, 0, len(listing))
	for _, c := range listing {
		out = append(out, c.Name)
	}
	return out
}

func TestLoadGlobalDuplicateKeepsFirst(t *testing.T) {
	r, _ := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "activity"}

	first := &modules.Command{ID: "activity", Description: "first"}
	second := &modules.Command{ID: "activity", Description: "second"}

	if err := r.LoadGlobal(m, first); err != nil {
		t.Fatalf("expected first load to succeed, got %v", err)
	}
	err := r.LoadGlobal(m, second)
	if !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}

	_, cmd, ok := r.Lookup("", "activity")
	if !ok || cmd.Description != "first" {
		t.Fatalf("expected the first registration to stay, got %+v", cmd)
	}
}

func TestLoadGuildIsScopedPerGuild(t *testing.T) {
	r, _ := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "permissions"}
	c := &modules.Command{ID: "level", Scope: modules.ScopeGuild}

	if err := r.LoadGuild("G1", m, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.LoadGuild("G2", m, c); err != nil {
		t.Fatalf("expected the same id to load in another guild, got %v", err)
	}
	if err := r.LoadGuild("G1", m, c); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}
	if diff := cmp.Diff([]string{"G1", "G2"}, r.Guilds()); diff != "" {
		t.Fatalf("unexpected guilds (-want +got):\n%s", diff)
	}
}

func TestLookupPrefersGuildScope(t *testing.T) {
	r, _ := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "config"}
	global := &modules.Command{ID: "config", Description: "global"}
	local := &modules.Command{ID: "config", Description: "guild"}

	_ = r.LoadGlobal(m, global)
	_ = r.LoadGuild("G1", m, local)

	if _, c, _ := r.Lookup("G1", "config"); c != local {
		t.Fatalf("expected the guild command to win in G1")
	}
	if _, c, _ := r.Lookup("G2", "config"); c != global {
		t.Fatalf("expected the global command in G2")
	}
	if _, _, ok := r.Lookup("G1", "missing"); ok {
		t.Fatalf("expected unknown command lookup to fail")
	}
}

func TestUnload(t *testing.T) {
	r, _ := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "list"}
	_ = r.LoadGlobal(m, &modules.Command{ID: "list"})

	if err := r.UnloadGlobal("list"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.UnloadGlobal("list"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if err := r.UnloadGuild("G1", "level"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if err := r.LoadGlobal(m, &modules.Command{ID: "list"}); err != nil {
		t.Fatalf("expected reload after unload to succeed, got %v", err)
	}
}

func TestLoadPushesWholeScope(t *testing.T) {
	fake := platformtest.New()
	r := NewCommandRouter(&testRuntime{p: fake}, WithRegistrationWorkers(1))
	m := &modules.Module{ID: "activity"}

	_ = r.LoadGlobal(m, &modules.Command{ID: "list"})
	_ = r.LoadGlobal(m, &modules.Command{ID: "activity"})
	_ = r.LoadGuild("G1", m, &modules.Command{ID: "level", Scope: modules.ScopeGuild})
	r.Close()

	global := fake.GlobalCommands()
	if len(global) != 2 {
		t.Fatalf("expected two global pushes, got %d", len(global))
	}
	if diff := cmp.Diff([]string{"activity", "list"}, names(global[len(global)-1])); diff != "" {
		t.Fatalf("unexpected global listing (-want +got):\n%s", diff)
	}
	guild := fake.GuildCommands("G1")
	if len(guild) != 1 || guild[0][0].Name != "level" {
		t.Fatalf("expected level to be pushed to G1, got %v", guild)
	}
}

func TestRemoteFailureKeepsLocalEntry(t *testing.T) {
	fake := platformtest.New()
	fake.RegisterErr = &discordgo.RESTError{ResponseBody: []byte(`{"message": "Invalid Form Body", "code": 50035}`)}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewCommandRouter(&testRuntime{p: fake}, WithMetrics(metrics))

	var ran bool
	m := &modules.Module{ID: "activity"}
	c := &modules.Command{ID: "activity", Trigger: func(context.Context, *modules.Context, *modules.Data) error {
		ran = true
		return nil
	}}
	if err := r.LoadGlobal(m, c); err != nil {
		t.Fatalf("expected load to succeed locally, got %v", err)
	}
	r.Close()

	if got := testutil.ToFloat64(metrics.registrations.WithLabelValues("global", OutcomeRegistration)); got != 1 {
		t.Fatalf("expected one failed registration, got %v", got)
	}

	r.Dispatch(context.Background(), commandInteraction("G1", "activity", &permission.Member{UserID: "U1"}))
	if !ran {
		t.Fatalf("expected the command to stay dispatchable")
	}
}

func TestSyncReportsFailures(t *testing.T) {
	r, fake := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "permissions"}
	_ = r.LoadGlobal(m, &modules.Command{ID: "config"})
	_ = r.LoadGuild("G1", m, &modules.Command{ID: "level"})

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.GlobalCommands()) != 1 || len(fake.GuildCommands("G1")) != 1 {
		t.Fatalf("expected one push per scope")
	}

	fake.RegisterErr = errors.New("unavailable")
	if err := r.Sync(context.Background()); err == nil {
		t.Fatalf("expected sync to report the failure")
	}
}

func TestSyncClearsUnloadedGuilds(t *testing.T) {
	r, fake := newCommandRouter(t, WithoutAutoSync())
	m := &modules.Module{ID: "permissions"}
	_ = r.LoadGuild("G1", m, &modules.Command{ID: "level"})

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.UnloadGuild("G1", "level"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Sync(context.Background(), "G9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pushes := fake.GuildCommands("G1")
	if len(pushes) != 2 {
		t.Fatalf("expected two pushes for G1, got %d", len(pushes))
	}
	if len(pushes[1]) != 0 {
		t.Fatalf("expected the unloaded guild listing to be cleared, got %d commands", len(pushes[1]))
	}
	extra := fake.GuildCommands("G9")
	if len(extra) != 1 || len(extra[0]) != 0 {
		t.Fatalf("expected one empty push for G9, got %v", extra)
	}
}

func TestDispatchOpenByDefault(t *testing.T) {
	r, fake := newCommandRouter(t, WithoutAutoSync())

	var got *modules.Data
	m := &modules.Module{ID: "activity"}
	c := &modules.Command{ID: "activity", Trigger: func(_ context.Context, _ *modules.Context, d *modules.Data) error {
		got = d
		return nil
	}}
	_ = r.LoadGlobal(m, c)

	r.Dispatch(context.Background(), commandInteraction("G1", "activity", &permission.Member{UserID: "U1"}))
	if got == nil {
		t.Fatalf("expected a member without roles or permissions to be allowed")
	}
	if got.GuildID != "G1" || got.InvokingUserID != "U1" {
		t.Fatalf("unexpected data bag: %+v", got)
	}
	if len(fake.Replies()) != 0 {
		t.Fatalf("expected the router not to reply on success")
	}
}

func TestDispatchNotPermitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r, fake := newCommandRouter(t, WithoutAutoSync(), WithMetrics(metrics))

	var ran bool
	m := &modules.Module{ID: "config", Access: &permission.AccessRule{Roles: []string{"R1"}}}
	_ = r.LoadGlobal(m, &modules.Command{ID: "config", Trigger: func(context.Context, *modules.Context, *modules.Data) error {
		ran = true
		return nil
	}})

	r.Dispatch(context.Background(), commandInteraction("G1", "config", &permission.Member{UserID: "U1"}))
	if ran {
		t.Fatalf("expected the trigger not to run")
	}
	replies := fake.Replies()
	if len(replies) != 1 || replies[0].Response.Content != NotPermittedMessage || !replies[0].Response.Ephemeral {
		t.Fatalf("expected one ephemeral not permitted reply, got %+v", replies)
	}
	if got := testutil.ToFloat64(metrics.interactions.WithLabelValues("command", "config", OutcomeDenied)); got != 1 {
		t.Fatalf("expected one denied interaction, got %v", got)
	}

	r.Dispatch(context.Background(), commandInteraction("G1", "config", nil))
	if ran {
		t.Fatalf("expected a missing member to be denied")
	}
}

func TestDispatchCommandOverrideWins(t *testing.T) {
	r, _ := newCommandRouter(t, WithoutAutoSync())

	var ran bool
	m := &modules.Module{ID: "config", Access: &permission.AccessRule{Permissions: []int64{permission.Administrator}}}
	_ = r.LoadGlobal(m, &modules.Command{
		ID:     "config",
		Access: &permission.AccessRule{Roles: []string{"R1"}},
		Trigger: func(context.Context, *modules.Context, *modules.Data) error {
			ran = true
			return nil
		},
	})

	r.Dispatch(context.Background(), commandInteraction("G1", "config", &permission.Member{UserID: "U1", Roles: []string{"R1"}}))
	if !ran {
		t.Fatalf("expected the command rule to be used exclusively")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, fake := newCommandRouter(t, WithoutAutoSync())
	r.Dispatch(context.Background(), commandInteraction("G1", "missing", &permission.Member{}))
	if len(fake.Replies()) != 0 {
		t.Fatalf("expected no reply for an unknown command")
	}
}

func TestDispatchHookSequencing(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		before    error
		trigger   error
		panics    bool
		want      []string
		wantReply bool
	}{
		{name: "success", want: []string{"before", "trigger", "after"}},
		{name: "before fails", before: boom, want: []string{"before"}, wantReply: true},
		{name: "trigger fails", trigger: boom, want: []string{"before", "trigger", "after"}, wantReply: true},
		{name: "trigger panics", panics: true, want: []string{"before", "trigger", "after"}, wantReply: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fake := newCommandRouter(t, WithoutAutoSync())

			var calls []string
			c := &modules.Command{
				ID: "activity",
				BeforeTrigger: func(context.Context, *modules.Context, *modules.Data) error {
					calls = append(calls, "before")
					return tt.before
				},
				Trigger: func(context.Context, *modules.Context, *modules.Data) error {
					calls = append(calls, "trigger")
					if tt.panics {
						panic("trigger exploded")
					}
					return tt.trigger
				},
				AfterTrigger: func(context.Context, *modules.Context, *modules.Data) error {
					calls = append(calls, "after")
					return errors.New("after failures are only logged")
				},
			}
			_ = r.LoadGlobal(&modules.Module{ID: "activity"}, c)

			r.Dispatch(context.Background(), commandInteraction("G1", "activity", &permission.Member{UserID: "U1"}))

			if diff := cmp.Diff(tt.want, calls); diff != "" {
				t.Fatalf("unexpected stage order (-want +got):\n%s", diff)
			}
			replies := fake.Replies()
			if tt.wantReply {
				if len(replies) != 1 || replies[0].Response.Content != FailureMessage || !replies[0].Response.Ephemeral {
					t.Fatalf("expected one ephemeral failure reply, got %+v", replies)
				}
			} else if len(replies) != 0 {
				t.Fatalf("expected no reply, got %+v", replies)
			}
		})
	}
}

func TestDispatchBuildsContext(t *testing.T) {
	fake := platformtest.New()
	rt := &testRuntime{p: fake}
	r := NewCommandRouter(rt, WithoutAutoSync())
	t.Cleanup(r.Close)

	m := &modules.Module{ID: "activity"}
	var got *modules.Context
	c := &modules.Command{ID: "activity", Trigger: func(_ context.Context, c *modules.Context, _ *modules.Data) error {
		got = c
		return nil
	}}
	_ = r.LoadGlobal(m, c)

	r.Dispatch(context.Background(), commandInteraction("G1", "activity", &permission.Member{}))
	if got == nil || got.Module != m || got.Command != c || got.GuildID != "G1" || got.Runtime != rt {
		t.Fatalf("unexpected context: %+v", got)
	}
}
