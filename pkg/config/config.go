package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	Fleet        FleetConfig        `yaml:"fleet"`
	Cloud        CloudConfig        `yaml:"cloud"`
	Index        IndexConfig        `yaml:"index"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Mode string `yaml:"mode"` // debug, release
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FleetConfig fleet run configuration
type FleetConfig struct {
	Runners      int           `yaml:"runners"`       // desired worker count
	NamePrefix   string        `yaml:"name_prefix"`   // instance names are prefix + zero-padded index
	PollInterval time.Duration `yaml:"poll_interval"` // wait between reconciliation ticks
	AlivePolicy  string        `yaml:"alive_policy"`  // observed, unresolved
	Startup      StartupConfig `yaml:"startup"`
	RecordEvents bool          `yaml:"record_events"` // append worker transitions to MySQL
	Lock         bool          `yaml:"lock"`          // hold a Redis lock on the name prefix while running

	// ProvisionTimeout marks workers never listed this long after provisioning as LOST. 0 disables it.
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
}

// StartupConfig startup script rendering configuration
type StartupConfig struct {
	WorkDir  string `yaml:"work_dir"`
	User     string `yaml:"user"`
	Command  string `yaml:"command"`
	Template string `yaml:"template"` // optional text/template file replacing the built-in script
}

// CloudConfig cloud backend configuration
type CloudConfig struct {
	Provider string    `yaml:"provider"` // gce, ec2, k8s
	GCE      GCEConfig `yaml:"gce"`
	EC2      EC2Config `yaml:"ec2"`
	K8s      K8sConfig `yaml:"k8s"`
}

// GCEConfig Google Compute Engine configuration
type GCEConfig struct {
	Project          string `yaml:"project"`
	Zone             string `yaml:"zone"`
	InstanceTemplate string `yaml:"instance_template"`
	DiskImage        string `yaml:"disk_image"`
	DiskName         string `yaml:"disk_name"`
	DiskSizeGB       int64  `yaml:"disk_size_gb"`
	DiskType         string `yaml:"disk_type"`
}

// EC2Config AWS EC2 configuration
type EC2Config struct {
	Region          string `yaml:"region"`
	LaunchTemplate  string `yaml:"launch_template"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// K8sConfig Kubernetes configuration
type K8sConfig struct {
	Namespace   string `yaml:"namespace"`
	Image       string `yaml:"image"`
	PodTemplate string `yaml:"pod_template"` // optional pod YAML used as the base for every worker
}

// IndexConfig index-allocation service configuration
type IndexConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Store string `yaml:"store"` // memory, redis, mysql
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NotificationConfig notification configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"`
}

// Defaults
const (
	DefaultRunners          = 5
	DefaultNamePrefix       = "runner-"
	DefaultPollInterval     = 5 * time.Second
	DefaultAlivePolicy      = "observed"
	DefaultProvider         = "gce"
	DefaultInstanceTemplate = "runner-vm-template"
	DefaultDiskImage        = "global/images/runner-master-disk"
	DefaultDiskName         = "runner-disk"
	DefaultDiskSizeGB       = 10
	DefaultDiskType         = "pd-standard"
	DefaultStartupWorkDir   = "/var/yarrow"
	DefaultStartupUser      = "yarrow"
	DefaultStartupCommand   = "./run_test"
	DefaultK8sNamespace     = "default"
	DefaultIndexStore       = "memory"
	DefaultIndexHost        = "localhost"
	DefaultIndexPort        = 8400
)

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads the YAML file at path and applies defaults.
// A missing file is not an error: every setting has a default and the CLI supplies the rest.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults
func ApplyDefaults(cfg *Config) {
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}

	if cfg.Fleet.Runners <= 0 {
		cfg.Fleet.Runners = DefaultRunners
	}
	if cfg.Fleet.NamePrefix == "" {
		cfg.Fleet.NamePrefix = DefaultNamePrefix
	}
	if cfg.Fleet.PollInterval <= 0 {
		cfg.Fleet.PollInterval = DefaultPollInterval
	}
	if cfg.Fleet.AlivePolicy == "" {
		cfg.Fleet.AlivePolicy = DefaultAlivePolicy
	}
	if cfg.Fleet.Startup.WorkDir == "" {
		cfg.Fleet.Startup.WorkDir = DefaultStartupWorkDir
	}
	if cfg.Fleet.Startup.User == "" {
		cfg.Fleet.Startup.User = DefaultStartupUser
	}
	if cfg.Fleet.Startup.Command == "" {
		cfg.Fleet.Startup.Command = DefaultStartupCommand
	}

	if cfg.Cloud.Provider == "" {
		cfg.Cloud.Provider = DefaultProvider
	}
	if cfg.Cloud.GCE.InstanceTemplate == "" {
		cfg.Cloud.GCE.InstanceTemplate = DefaultInstanceTemplate
	}
	if cfg.Cloud.GCE.DiskImage == "" {
		cfg.Cloud.GCE.DiskImage = DefaultDiskImage
	}
	if cfg.Cloud.GCE.DiskName == "" {
		cfg.Cloud.GCE.DiskName = DefaultDiskName
	}
	if cfg.Cloud.GCE.DiskSizeGB <= 0 {
		cfg.Cloud.GCE.DiskSizeGB = DefaultDiskSizeGB
	}
	if cfg.Cloud.GCE.DiskType == "" {
		cfg.Cloud.GCE.DiskType = DefaultDiskType
	}
	if cfg.Cloud.EC2.LaunchTemplate == "" {
		cfg.Cloud.EC2.LaunchTemplate = DefaultInstanceTemplate
	}
	if cfg.Cloud.K8s.Namespace == "" {
		cfg.Cloud.K8s.Namespace = DefaultK8sNamespace
	}

	if cfg.Index.Store == "" {
		cfg.Index.Store = DefaultIndexStore
	}
	if cfg.Index.Host == "" {
		cfg.Index.Host = DefaultIndexHost
	}
	if cfg.Index.Port <= 0 {
		cfg.Index.Port = DefaultIndexPort
	}
}
