package config

import (
	"bytes"
	"crypto/tls"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// DefaultLocation is set dynamically based on the platform
var DefaultLocation = GetDefaultConfigLocation()

// DefaultTLSConfig sets sane defaults to use when configuring the admin API
// to listen for public connections.
var DefaultTLSConfig = &tls.Config{
	NextProtos: []string{"h2", "http/1.1"},
	CipherSuites: []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	},
	MinVersion:       tls.VersionTLS12,
	MaxVersion:       tls.VersionTLS13,
	CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
}

var (
	mu            sync.RWMutex
	_config       *Configuration
	_debugViaFlag bool
)

// Locker specific to writing the configuration to the disk, this happens
// in areas that might already be locked, so we don't want to crash the process.
var _writeLock sync.Mutex

// DatabaseConfiguration defines where the bot keeps its state.
type DatabaseConfiguration struct {
	// Path is the sqlite database file.
	Path string `yaml:"path"`
}

// ApiConfiguration defines the admin HTTP API.
type ApiConfiguration struct {
	Enabled bool `default:"false" yaml:"enabled"`

	// The interface that the API should bind to.
	Host string `default:"127.0.0.1" yaml:"host"`

	// The port that the API should listen on.
	Port int `default:"8080" yaml:"port"`

	// Token is the bearer token every /api request must carry. The API refuses
	// to start without one.
	Token string `json:"-" yaml:"token"`

	Ssl struct {
		Enabled         bool   `json:"enabled" yaml:"enabled"`
		CertificateFile string `json:"cert" yaml:"cert"`
		KeyFile         string `json:"key" yaml:"key"`
	} `yaml:"ssl"`

	// TrustedProxies are the proxies gin trusts forwarded headers from.
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
}

// SchedulerConfiguration defines how scheduled module jobs run.
type SchedulerConfiguration struct {
	// Timezone cron expressions are evaluated in.
	Timezone string `default:"UTC" yaml:"timezone"`

	// JobTimeout bounds a single job run, in seconds.
	JobTimeout int `default:"300" yaml:"job_timeout"`
}

// DiscordConfiguration tunes the platform client.
type DiscordConfiguration struct {
	// RegistrationWorkers is how many command listing replacements may run
	// against the API at once.
	RegistrationWorkers int `default:"2" yaml:"registration_workers"`

	// RegistrationTimeout bounds a single listing replacement, in seconds.
	RegistrationTimeout int `default:"30" yaml:"registration_timeout"`

	// MemberCacheTTL is how long fetched members are cached, in seconds.
	MemberCacheTTL int `default:"60" yaml:"member_cache_ttl"`

	// Intents overrides the gateway intents. Zero uses the client defaults.
	Intents int `default:"0" yaml:"intents"`
}

// SystemConfiguration defines host level settings.
type SystemConfiguration struct {
	// Directory where JSON copies of the logs are written. Empty disables file
	// logging.
	LogDirectory string `yaml:"log_directory"`
}

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the bot should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `yaml:"debug"`

	// Token is the bot token. The KIWI_TOKEN environment variable takes
	// precedence.
	Token string `json:"-" yaml:"token"`

	// ApplicationID is looked up from the API when empty.
	ApplicationID string `yaml:"application_id"`

	Database  DatabaseConfiguration  `yaml:"database"`
	Api       ApiConfiguration       `yaml:"api"`
	Scheduler SchedulerConfiguration `yaml:"scheduler"`
	Discord   DiscordConfiguration   `yaml:"discord"`
	System    SystemConfiguration    `yaml:"system"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file take priority over the
	// default values.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	if c.Database.Path == "" {
		c.Database.Path = GetDefaultDatabasePath()
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such that
// anything trying to set a different configuration value, or read the configuration
// will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	defer mu.Unlock()
	_config = c
}

// SetDebugViaFlag tracks if the application is running in debug mode because of
// a command line flag argument. If so we do not want to store that configuration
// change to the disk.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	defer mu.Unlock()
	_config.Debug = d
	_debugViaFlag = d
}

// Get returns the global configuration instance. This is a thread-safe operation
// that will block if the configuration is presently being modified.
//
// Be aware that you CANNOT make modifications to the currently stored configuration
// by modifying the struct returned by this function. The only way to make
// modifications is by using the Update() function and passing data through in
// the callback.
func Get() *Configuration {
	mu.RLock()
	c := *_config
	mu.RUnlock()
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock. This is the correct way to make modifications to
// the global configuration.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	defer mu.Unlock()
	callback(_config)
}

// Path returns the file path where this configuration is stored.
func (c *Configuration) Path() string {
	return c.path
}

// Location returns the scheduler time zone, falling back to UTC when the
// configured name is unknown.
func (c *Configuration) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC, errors.WithDetails(errors.Wrap(err, "config: invalid scheduler timezone"), "timezone", c.Scheduler.Timezone)
	}
	return loc, nil
}

// Intents returns the configured gateway intents, or zero when the client
// defaults should be used.
func (c *Configuration) Intents() discordgo.Intent {
	return discordgo.Intent(c.Discord.Intents)
}

// Seconds converts one of the integer second settings into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// WriteToDisk writes the configuration to the disk. This is a thread safe operation
// and will only allow one write at a time. Additional calls while writing are
// queued up. Comments of an existing file are kept.
func WriteToDisk(c *Configuration) error {
	_writeLock.Lock()
	defer _writeLock.Unlock()

	ccopy := *c
	// If debugging is set with the flag, don't save that to the configuration file,
	// otherwise you'll always end up in debug mode.
	if _debugViaFlag {
		ccopy.Debug = false
	}
	if c.path == "" {
		return errors.New("cannot write configuration, no path defined in struct")
	}

	b, err := yaml.Marshal(&ccopy)
	if err != nil {
		return errors.Wrap(err, "config: failed to marshal configuration")
	}
	if raw, err := os.ReadFile(c.path); err == nil {
		if merged, err := mergeWithRaw(raw, b); err == nil {
			b = merged
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "config: failed to read configuration file")
	}

	if err := os.WriteFile(c.path, b, 0o600); err != nil {
		return errors.Wrap(err, "config: failed to write configuration file")
	}
	return nil
}

// FromFile reads the configuration from the provided file and stores it in the
// global singleton for this instance.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrap(err, "config: failed to parse configuration file")
	}

	if token := os.Getenv("KIWI_TOKEN"); token != "" {
		c.Token = token
	}
	if c.Token, err = Expand(c.Token); err != nil {
		return err
	}
	if c.Api.Token, err = Expand(c.Api.Token); err != nil {
		return err
	}

	// Store this configuration in the global state.
	Set(c)
	return nil
}

// Expand expands an input string by calling [os.ExpandEnv] to expand all
// environment variables, then checks if the value is prefixed with `file://`
// to support reading the value from a file.
//
// NOTE: the order of expanding environment variables first then checking if
// the value references a file is important. This behaviour allows a user to
// pass a value like `file://${CREDENTIALS_DIRECTORY}/token` to allow us to
// work with credentials loaded by systemd's `LoadCredential` options.
func Expand(v string) (string, error) {
	v = os.ExpandEnv(v)

	const filePrefix = "file://"
	if strings.HasPrefix(v, filePrefix) {
		p := v[len(filePrefix):]

		b, err := os.ReadFile(p)
		if err != nil {
			return "", errors.Wrap(err, "config: failed to read secret file")
		}
		v = string(bytes.TrimRight(b, "\r\n"))
	}

	return v, nil
}
