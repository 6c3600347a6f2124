package router

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/kiwi/router/middleware"
	"github.com/priyxstudio/kiwi/scheduler"
)

// ModuleInfo describes a loaded module.
type ModuleInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Commands    []CommandInfo   `json:"commands"`
	Components  []ComponentInfo `json:"components"`
	Jobs        []JobInfo       `json:"jobs"`
}

type CommandInfo struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

type ComponentInfo struct {
	Key            string `json:"key"`
	ParameterCount int    `json:"parameter_count"`
}

type JobInfo struct {
	ID   string `json:"id"`
	Spec string `json:"spec"`
}

// GuildModule is the state of a module in one guild.
type GuildModule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// getModules returns the catalog of loaded modules.
func getModules(c *gin.Context) {
	b := middleware.ExtractBot(c)

	data := []ModuleInfo{}
	for _, m := range b.Modules().List() {
		info := ModuleInfo{
			ID:          m.ID,
			Name:        m.DisplayName(),
			Description: m.Description,
			Commands:    []CommandInfo{},
			Components:  []ComponentInfo{},
			Jobs:        []JobInfo{},
		}
		for _, cmd := range m.Commands {
			info.Commands = append(info.Commands, CommandInfo{Name: cmd.ID, Scope: cmd.Scope.String()})
		}
		for _, h := range m.Components {
			info.Components = append(info.Components, ComponentInfo{Key: h.Key, ParameterCount: h.ParameterCount})
		}
		for _, j := range m.Jobs {
			info.Jobs = append(info.Jobs, JobInfo{ID: j.ID, Spec: j.Spec})
		}
		data = append(data, info)
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// getGuildModules returns the enabled state of every module in a guild.
func getGuildModules(c *gin.Context) {
	b := middleware.ExtractBot(c)

	enabled, err := b.Modules().EnabledModules(c.Request.Context(), c.Param("guild"))
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}

	data := []GuildModule{}
	for _, m := range b.Modules().List() {
		data = append(data, GuildModule{ID: m.ID, Name: m.DisplayName(), Enabled: slices.Contains(enabled, m.ID)})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func postModuleEnable(c *gin.Context) {
	setModuleState(c, true)
}

func postModuleDisable(c *gin.Context) {
	setModuleState(c, false)
}

func setModuleState(c *gin.Context, enabled bool) {
	b := middleware.ExtractBot(c)
	guild, module := c.Param("guild"), c.Param("module")

	if err := b.Modules().SetEnabled(c.Request.Context(), guild, module, enabled); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	middleware.ExtractLogger(c).WithField("guild_id", guild).WithField("module", module).
		WithField("enabled", enabled).Info("module state changed through the api")
	c.Status(http.StatusNoContent)
}

// getGuildJobs returns the scheduled jobs active in a guild.
func getGuildJobs(c *gin.Context) {
	jobs := middleware.ExtractBot(c).Scheduler().Jobs(c.Param("guild"))
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// postJobRun fires an active job right away.
func postJobRun(c *gin.Context) {
	s := middleware.ExtractBot(c).Scheduler()
	if err := s.RunNow(c.Param("module"), c.Param("job"), c.Param("guild")); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
