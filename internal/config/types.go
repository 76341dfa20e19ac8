package config

// Config is the complete gantry executor configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Broker   BrokerConfig   `yaml:"broker"`
	Executor ExecutorConfig `yaml:"executor"`
	Merger   MergerConfig   `yaml:"merger"`
	API      APIConfig      `yaml:"api,omitempty"`
	State    StateConfig    `yaml:"state"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// BrokerConfig defines the RPC work-queue broker endpoint.
type BrokerConfig struct {
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`
}

// ExecutorConfig defines job execution settings.
type ExecutorConfig struct {
	StateDir        string `yaml:"state_dir"`
	JobDirRoot      string `yaml:"job_dir_root"`
	KeepJobDirs     bool   `yaml:"keep_job_dirs"`
	DefaultUsername string `yaml:"default_username"`
	PrivateKeyFile  string `yaml:"private_key_file"`
	FingerPort      int    `yaml:"finger_port"`
	// ExecutionWrapper selects the subprocess isolation driver.
	ExecutionWrapper string `yaml:"execution_wrapper"`

	TrustedRODirs   []string `yaml:"trusted_ro_dirs,omitempty"`
	TrustedRWDirs   []string `yaml:"trusted_rw_dirs,omitempty"`
	UntrustedRODirs []string `yaml:"untrusted_ro_dirs,omitempty"`
	UntrustedRWDirs []string `yaml:"untrusted_rw_dirs,omitempty"`
}

// MergerConfig defines git mirror cache settings and the connection map.
type MergerConfig struct {
	GitDir       string                  `yaml:"git_dir"`
	ZuulURL      string                  `yaml:"zuul_url"`
	GitUserName  string                  `yaml:"git_user_name"`
	GitUserEmail string                  `yaml:"git_user_email"`
	Connections  map[string]ConnectionConf `yaml:"connections"`
}

// ConnectionConf maps a named connection to its host metadata.
type ConnectionConf struct {
	BaseURL       string `yaml:"base_url"`
	Hostname      string `yaml:"hostname"`
	DefaultBranch string `yaml:"default_branch,omitempty"`
}

// APIConfig defines the HTTP status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StateConfig defines the build-history database location.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "gantry",
			LogLevel: "info",
		},
		Broker: BrokerConfig{
			Server: "127.0.0.1",
			Port:   4730,
		},
		Executor: ExecutorConfig{
			StateDir:         "/var/lib/gantry",
			DefaultUsername:  "zuul",
			PrivateKeyFile:   "~/.ssh/id_rsa",
			FingerPort:       79,
			ExecutionWrapper: "passthrough",
		},
		Merger: MergerConfig{
			GitDir: "/var/lib/gantry/git",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		State: StateConfig{
			Path: "/var/lib/gantry/history.db",
		},
	}
}
