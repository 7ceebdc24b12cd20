package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration. It is captured once at startup and
// passed down explicitly; nothing below the CLI reads the environment.
type Config struct {
	Verbose    bool   `mapstructure:"verbose"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	LogLevel   string `mapstructure:"log_level"`
	LogDir     string `mapstructure:"log_dir"`

	// Namespace the measurement daemon runs in (env NAMESPACE)
	Namespace string `mapstructure:"namespace"`
	// DaemonPort is the measurement daemon HTTP port (env AUTOPILOT_PORT)
	DaemonPort int `mapstructure:"daemon_port"`
	// PodName and NodeName identify the pod this process runs in
	PodName  string `mapstructure:"pod_name"`
	NodeName string `mapstructure:"node_name"`

	DaemonService     string        `mapstructure:"daemon_service"`
	DaemonSelector    string        `mapstructure:"daemon_selector"`
	DaemonSetSelector string        `mapstructure:"daemonset_selector"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "test_results/logs")
	v.SetDefault("namespace", "autopilot")
	v.SetDefault("daemon_port", 9001)
	v.SetDefault("daemon_service", "autopilot-healthchecks")
	v.SetDefault("daemon_selector", "app=autopilot")
	v.SetDefault("daemonset_selector", "app=autopilot")
	v.SetDefault("request_timeout", 10*time.Minute)
}

// BindEnv maps keys whose environment variable differs from the key name
func BindEnv(v *viper.Viper) {
	_ = v.BindEnv("daemon_port", "AUTOPILOT_PORT")
	_ = v.BindEnv("namespace", "NAMESPACE")
	_ = v.BindEnv("pod_name", "POD_NAME")
	_ = v.BindEnv("node_name", "NODE_NAME")
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if config.DaemonPort <= 0 || config.DaemonPort > 65535 {
		return nil, fmt.Errorf("invalid daemon port %d", config.DaemonPort)
	}

	return &config, nil
}
