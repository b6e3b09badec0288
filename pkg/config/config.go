//Package config reads the server configuration from config.yaml and POSE_ environment variables
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chenBenjamin97/pose-tracker/pkg/detect"
)

const EnvPrefix = "POSE"

type HTTP struct {
	Port string `mapstructure:"port"`
}

type Directory struct {
	Root   string `mapstructure:"root"`
	Source string `mapstructure:"source"` //user uploads
	Ready  string `mapstructure:"ready"`  //finished traces
	Temp   string `mapstructure:"temp"`
}

type Frontend struct {
	StaticFilesPath string `mapstructure:"static-files-path"`
}

type Video struct {
	ProdFormat string   `mapstructure:"prod_format"`
	Extensions []string `mapstructure:"extensions"`
}

type Detector struct {
	Backend                    string        `mapstructure:"backend"`
	ModelPath                  string        `mapstructure:"model_path"`
	Delegate                   string        `mapstructure:"delegate"`
	Python                     string        `mapstructure:"python"`
	Script                     string        `mapstructure:"script"`
	CallTimeout                time.Duration `mapstructure:"call_timeout"`
	NumPoses                   int           `mapstructure:"num_poses"`
	MinPoseDetectionConfidence float64       `mapstructure:"min_pose_detection_confidence"`
	MinPosePresenceConfidence  float64       `mapstructure:"min_pose_presence_confidence"`
	MinTrackingConfidence      float64       `mapstructure:"min_tracking_confidence"`
	InitTimeout                time.Duration `mapstructure:"init_timeout"`
}

type Tracker struct {
	FrameInterval    time.Duration `mapstructure:"frame_interval"`
	//SessionRetention is how long a finished tracking session stays queryable before it is forgotten
	SessionRetention time.Duration `mapstructure:"session_retention"`
}

type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

//Config is the whole server configuration
type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Directory Directory `mapstructure:"directory"`
	Frontend  Frontend  `mapstructure:"frontend"`
	Video     Video     `mapstructure:"video"`
	Detector  Detector  `mapstructure:"detector"`
	Tracker   Tracker   `mapstructure:"tracker"`
	Log       Log       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	opts := detect.DefaultOptions()

	v.SetDefault("http.port", "8080")
	v.SetDefault("directory.root", "./data")
	v.SetDefault("directory.source", "./data/uploads")
	v.SetDefault("directory.ready", "./data/ready")
	v.SetDefault("directory.temp", "./data/tmp")
	v.SetDefault("frontend.static-files-path", "./frontend/")
	v.SetDefault("video.prod_format", "mp4")
	v.SetDefault("video.extensions", []string{".mp4", ".webm", ".mov", ".avi", ".mkv"})
	v.SetDefault("detector.backend", detect.BackendOpenCV)
	v.SetDefault("detector.model_path", opts.ModelPath)
	v.SetDefault("detector.delegate", opts.Delegate)
	v.SetDefault("detector.python", "python3")
	v.SetDefault("detector.script", "./scripts/pose_worker.py")
	v.SetDefault("detector.call_timeout", 30*time.Second)
	v.SetDefault("detector.num_poses", opts.NumPoses)
	v.SetDefault("detector.min_pose_detection_confidence", opts.MinPoseDetectionConfidence)
	v.SetDefault("detector.min_pose_presence_confidence", opts.MinPosePresenceConfidence)
	v.SetDefault("detector.min_tracking_confidence", opts.MinTrackingConfidence)
	v.SetDefault("detector.init_timeout", time.Minute)
	v.SetDefault("tracker.frame_interval", time.Second/60)
	v.SetDefault("tracker.session_retention", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

//Load reads the configuration file at path, config.yaml in the working directory when path is empty.
//A missing default file is not an error, every key has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: could not read config file, got '%w'", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Load: could not decode configuration, got '%w'", err)
	}
	cfg.Detector.Backend = strings.ToLower(cfg.Detector.Backend)

	return cfg, cfg.Validate()
}

//Validate rejects a configuration missing critical values
func (c *Config) Validate() error {
	var missing []string
	for key, value := range map[string]string{
		"http.port":                  c.HTTP.Port,
		"directory.source":           c.Directory.Source,
		"directory.ready":            c.Directory.Ready,
		"frontend.static-files-path": c.Frontend.StaticFilesPath,
		"video.prod_format":          c.Video.ProdFormat,
	} {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch c.Detector.Backend {
	case detect.BackendOpenCV:
		if c.Detector.ModelPath == "" {
			missing = append(missing, "detector.model_path")
		}
	case detect.BackendMediapipe:
		if c.Detector.Script == "" {
			missing = append(missing, "detector.script")
		}
	default:
		return fmt.Errorf("Validate: unknown detector backend '%s'", c.Detector.Backend)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("Validate: missing critical configurations: %s", strings.Join(missing, ", "))
	}

	return nil
}

//DetectorOptions converts the detector section to landmarker options
func (c *Config) DetectorOptions() detect.Options {
	return detect.Options{
		ModelPath:                  c.Detector.ModelPath,
		Delegate:                   c.Detector.Delegate,
		NumPoses:                   c.Detector.NumPoses,
		MinPoseDetectionConfidence: c.Detector.MinPoseDetectionConfidence,
		MinPosePresenceConfidence:  c.Detector.MinPosePresenceConfidence,
		MinTrackingConfidence:      c.Detector.MinTrackingConfidence,
		RunningMode:                detect.ModeVideo,
	}
}

//ProcessOptions converts the detector section to worker process options
func (c *Config) ProcessOptions() detect.ProcessOptions {
	return detect.ProcessOptions{
		Python:      c.Detector.Python,
		Script:      c.Detector.Script,
		CallTimeout: c.Detector.CallTimeout,
	}
}

//Dirs lists the data directories the server writes to
func (c *Config) Dirs() []string {
	return []string{c.Directory.Root, c.Directory.Source, c.Directory.Ready, c.Directory.Temp}
}
