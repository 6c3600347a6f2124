package modules

import (
	"context"
	"strings"
	"sync"
	"testing"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	. "github.com/franela/goblin"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/internal/database"
	"github.com/priyxstudio/kiwi/internal/models"
	"github.com/priyxstudio/kiwi/platform"
)

func init() {
	log.SetHandler(discard.New())
}

type fakeJobs struct {
	mu          sync.Mutex
	active      map[string]bool
	activations int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{active: make(map[string]bool)}
}

func (f *fakeJobs) Activate(m *Module, j *ScheduledJob, guildID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := m.ID + "/" + j.ID + "/" + guildID
	if f.active[key] {
		return false, nil
	}
	f.active[key] = true
	f.activations++
	return true, nil
}

func (f *fakeJobs) Deactivate(moduleID, guildID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.active {
		if strings.HasPrefix(key, moduleID+"/") && strings.HasSuffix(key, "/"+guildID) {
			delete(f.active, key)
			n++
		}
	}
	return n
}

func (f *fakeJobs) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active), f.activations
}

type fakeCommands struct {
	global map[string]bool
	guild  map[string]bool
}

func (f *fakeCommands) LoadGlobal(_ *Module, c *Command) error {
	if f.global[c.ID] {
		return errors.Errorf("command %s is already loaded globally", c.ID)
	}
	f.global[c.ID] = true
	return nil
}

func (f *fakeCommands) LoadGuild(guildID string, _ *Module, c *Command) error {
	key := guildID + "/" + c.ID
	if f.guild[key] {
		return errors.Errorf("command %s is already loaded in guild %s", c.ID, guildID)
	}
	f.guild[key] = true
	return nil
}

type fakeComponents struct {
	keys map[string]bool
}

func (f *fakeComponents) Register(_ *Module, h *ComponentHandler) error {
	if f.keys[h.Key] {
		return errors.Errorf("duplicate handler %s", h.Key)
	}
	f.keys[h.Key] = true
	return nil
}

type testRuntime struct {
	db *gorm.DB
	m  *Manager
}

func (r *testRuntime) Platform() platform.Platform { return nil }
func (r *testRuntime) DB() *gorm.DB                { return r.db }
func (r *testRuntime) Modules() *Manager           { return r.m }

func noop(context.Context, Runtime, string) error { return nil }

func activityModule() *Module {
	return &Module{
		ID: "activity",
		Commands: []*Command{
			{ID: "activity", Scope: ScopeGlobal},
			{ID: "level", Scope: ScopeGuild},
		},
		Components: []*ComponentHandler{{Key: "activity", ParameterCount: 1}},
		Jobs: []*ScheduledJob{
			{ID: "daily", Spec: "0 0 * * *", Execute: noop},
			{ID: "monthly", Spec: "0 0 1 * *", Execute: noop},
		},
	}
}

func countRows(t *testing.T, db *gorm.DB, guildID, moduleID string) int64 {
	var n int64
	if err := db.Model(&models.GuildModule{}).Where("guild_id = ? AND module_id = ?", guildID, moduleID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return n
}

func TestManager(t *testing.T) {
	g := Goblin(t)
	g.Describe("Manager", func() {

		var (
			db         *gorm.DB
			jobs       *fakeJobs
			commands   *fakeCommands
			components *fakeComponents
			m          *Manager
			ctx        = context.Background()
		)

		g.BeforeEach(func() {
			var err error
			db, err = database.Open(":memory:")
			if err != nil {
				t.Fatalf("failed to open database: %v", err)
			}
			jobs = newFakeJobs()
			commands = &fakeCommands{global: map[string]bool{}, guild: map[string]bool{}}
			components = &fakeComponents{keys: map[string]bool{}}
			m = NewManager(NewGormStore(db),
				WithCommandLoader(commands),
				WithComponentLoader(components),
				WithJobScheduler(jobs))
		})

		g.Describe("Load", func() {
			g.It("registers global commands and component handlers", func() {
				g.Assert(m.Load(activityModule())).IsNil()
				g.Assert(commands.global["activity"]).IsTrue()
				g.Assert(commands.global["level"]).IsFalse()
				g.Assert(components.keys["activity"]).IsTrue()
			})

			g.It("fails loudly when the same module is loaded twice", func() {
				g.Assert(m.Load(activityModule())).IsNil()
				err := m.Load(activityModule())
				g.Assert(errors.Is(err, ErrModuleLoaded)).IsTrue()
				g.Assert(len(m.List())).Equal(1)
			})
		})

		g.Describe("SetEnabled", func() {
			g.BeforeEach(func() {
				g.Assert(m.Load(activityModule())).IsNil()
			})

			g.It("treats unconfigured modules as disabled", func() {
				enabled, err := m.IsEnabled(ctx, "G1", "activity")
				g.Assert(err).IsNil()
				g.Assert(enabled).IsFalse()
				g.Assert(countRows(t, db, "G1", "activity")).Equal(int64(0))
			})

			g.It("is idempotent when enabling twice", func() {
				g.Assert(m.SetEnabled(ctx, "G1", "activity", true)).IsNil()
				g.Assert(m.SetEnabled(ctx, "G1", "activity", true)).IsNil()

				g.Assert(countRows(t, db, "G1", "activity")).Equal(int64(1))
				enabled, _ := m.IsEnabled(ctx, "G1", "activity")
				g.Assert(enabled).IsTrue()

				active, activations := jobs.count()
				g.Assert(active).Equal(2)
				g.Assert(activations).Equal(2)
			})

			g.It("does not create a row when disabling an unconfigured module", func() {
				g.Assert(m.SetEnabled(ctx, "G1", "activity", false)).IsNil()
				g.Assert(countRows(t, db, "G1", "activity")).Equal(int64(0))
			})

			g.It("keeps a single row and deactivates jobs when disabled", func() {
				g.Assert(m.SetEnabled(ctx, "G1", "activity", true)).IsNil()
				g.Assert(m.SetEnabled(ctx, "G1", "activity", false)).IsNil()
				g.Assert(m.SetEnabled(ctx, "G1", "activity", false)).IsNil()

				g.Assert(countRows(t, db, "G1", "activity")).Equal(int64(1))
				enabled, _ := m.IsEnabled(ctx, "G1", "activity")
				g.Assert(enabled).IsFalse()
				active, _ := jobs.count()
				g.Assert(active).Equal(0)
			})

			g.It("keeps guilds independent", func() {
				g.Assert(m.SetEnabled(ctx, "G1", "activity", true)).IsNil()
				enabled, _ := m.IsEnabled(ctx, "G2", "activity")
				g.Assert(enabled).IsFalse()
			})

			g.It("rejects unknown modules", func() {
				err := m.SetEnabled(ctx, "G1", "missing", true)
				g.Assert(errors.Is(err, ErrUnknownModule)).IsTrue()
			})

			g.It("serializes concurrent toggles into one row", func() {
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_ = m.SetEnabled(ctx, "G1", "activity", true)
					}()
				}
				wg.Wait()
				g.Assert(countRows(t, db, "G1", "activity")).Equal(int64(1))
				_, activations := jobs.count()
				g.Assert(activations).Equal(2)
			})
		})

		g.Describe("Reconcile", func() {
			g.It("loads guild commands, runs setup and restores enabled jobs", func() {
				var setups []string
				mod := activityModule()
				mod.Setup = func(_ context.Context, _ Runtime, guildID string) error {
					setups = append(setups, guildID)
					return nil
				}
				g.Assert(m.Load(mod)).IsNil()
				g.Assert(db.Create(&models.GuildModule{GuildID: "G1", ModuleID: "activity", Enabled: true}).Error).IsNil()

				rt := &testRuntime{db: db, m: m}
				g.Assert(m.Reconcile(ctx, rt, "G1")).IsNil()
				g.Assert(m.Reconcile(ctx, rt, "G1")).IsNil()

				g.Assert(commands.guild["G1/level"]).IsTrue()
				g.Assert(setups).Equal([]string{"G1", "G1"})
				active, activations := jobs.count()
				g.Assert(active).Equal(2)
				g.Assert(activations).Equal(2)
			})
		})

		g.Describe("Emit", func() {
			g.It("delivers events to subscribers and survives panics", func() {
				var got []string
				panicking := &Module{ID: "broken", Events: []*Event{{
					Kind: platform.EventMemberJoin,
					Handle: func(context.Context, Runtime, *platform.Event) error {
						panic("boom")
					},
				}}}
				listening := &Module{ID: "welcome", Events: []*Event{{
					Kind: platform.EventMemberJoin,
					Handle: func(_ context.Context, _ Runtime, e *platform.Event) error {
						got = append(got, e.UserID)
						return nil
					},
				}}}
				g.Assert(m.Load(panicking)).IsNil()
				g.Assert(m.Load(listening)).IsNil()

				m.Emit(ctx, &testRuntime{db: db, m: m}, &platform.Event{Kind: platform.EventMemberJoin, GuildID: "G1", UserID: "U1"})
				m.Emit(ctx, &testRuntime{db: db, m: m}, &platform.Event{Kind: platform.EventGuildReady, GuildID: "G1"})
				g.Assert(got).Equal([]string{"U1"})
			})
		})
	})
}
