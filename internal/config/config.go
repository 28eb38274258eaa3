package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig `mapstructure:"server"`
	Engine   EngineConfig `mapstructure:"engine"`
	Audio    AudioConfig  `mapstructure:"audio"`
	Paths    PathsConfig  `mapstructure:"paths"`
	LogLevel string       `mapstructure:"log_level"`
}

type ServerConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	MaxTextBytes     int           `mapstructure:"max_text_bytes"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	GateTimeout      time.Duration `mapstructure:"gate_timeout"`
	StreamChunkBytes int           `mapstructure:"stream_chunk_bytes"`
	Metrics          bool          `mapstructure:"metrics"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
}

type EngineConfig struct {
	Backend           string `mapstructure:"backend"`
	ModelDir          string `mapstructure:"model_dir"`
	Device            string `mapstructure:"device"`
	PythonPath        string `mapstructure:"python_path"`
	Command           string `mapstructure:"command"`
	WorkDir           string `mapstructure:"work_dir"`
	PocketCLIPath     string `mapstructure:"pocket_cli_path"`
	PocketConfigPath  string `mapstructure:"pocket_config_path"`
	PocketMaleVoice   string `mapstructure:"pocket_male_voice"`
	PocketFemaleVoice string `mapstructure:"pocket_female_voice"`
	Quiet             bool   `mapstructure:"quiet"`
}

type AudioConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	FFmpegArgs string `mapstructure:"ffmpeg_args"`
	TempDir    string `mapstructure:"temp_dir"`
}

type PathsConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:       ":8000",
			MaxTextBytes:     4096,
			MaxUploadBytes:   20 << 20,
			RequestTimeout:   5 * time.Minute,
			ShutdownTimeout:  30 * time.Second,
			GateTimeout:      0,
			StreamChunkBytes: 32 * 1024,
			Metrics:          true,
			CORSOrigins:      []string{"*"},
		},
		Engine: EngineConfig{
			Backend:           BackendSparkCLI,
			ModelDir:          "pretrained_models/Spark-TTS-0.5B",
			Device:            "0",
			PythonPath:        "python",
			Command:           "",
			WorkDir:           "",
			PocketCLIPath:     "",
			PocketConfigPath:  "",
			PocketMaleVoice:   "",
			PocketFemaleVoice: "",
			Quiet:             true,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			FFmpegArgs: "",
			TempDir:    "",
		},
		Paths: PathsConfig{
			OutputDir: "results",
		},
		LogLevel: "info",
	}
}

// flagKeys maps config keys to their command-line flags.
var flagKeys = [][2]string{
	{"server.listen_addr", "server-listen-addr"},
	{"server.max_text_bytes", "server-max-text-bytes"},
	{"server.max_upload_bytes", "server-max-upload-bytes"},
	{"server.request_timeout", "server-request-timeout"},
	{"server.shutdown_timeout", "server-shutdown-timeout"},
	{"server.gate_timeout", "server-gate-timeout"},
	{"server.stream_chunk_bytes", "server-stream-chunk-bytes"},
	{"server.metrics", "server-metrics"},
	{"server.cors_origins", "server-cors-origins"},
	{"engine.backend", "backend"},
	{"engine.model_dir", "model-dir"},
	{"engine.device", "device"},
	{"engine.python_path", "engine-python-path"},
	{"engine.command", "engine-command"},
	{"engine.work_dir", "engine-work-dir"},
	{"engine.pocket_cli_path", "engine-pocket-cli-path"},
	{"engine.pocket_config_path", "engine-pocket-config-path"},
	{"engine.pocket_male_voice", "engine-pocket-male-voice"},
	{"engine.pocket_female_voice", "engine-pocket-female-voice"},
	{"engine.quiet", "engine-quiet"},
	{"audio.ffmpeg_path", "audio-ffmpeg-path"},
	{"audio.ffmpeg_args", "audio-ffmpeg-args"},
	{"audio.temp_dir", "audio-temp-dir"},
	{"paths.output_dir", "paths-output-dir"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum text length in bytes")
	fs.Int64("server-max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum request body size for uploads")
	fs.Duration("server-request-timeout", defaults.Server.RequestTimeout, "Deadline for reading and normalizing a request")
	fs.Duration("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period")
	fs.Duration("server-gate-timeout", defaults.Server.GateTimeout, "Maximum wait for the inference engine (0 waits forever)")
	fs.Int("server-stream-chunk-bytes", defaults.Server.StreamChunkBytes, "Chunk size for streamed responses")
	fs.Bool("server-metrics", defaults.Server.Metrics, "Serve Prometheus metrics on /metrics")
	fs.StringSlice("server-cors-origins", defaults.Server.CORSOrigins, "Browser origins allowed to call the API (* for any, empty disables CORS)")
	fs.String("backend", defaults.Engine.Backend, "Inference backend (spark-cli|pocket-tts)")
	fs.String("model-dir", defaults.Engine.ModelDir, "Spark-TTS model directory")
	fs.String("device", defaults.Engine.Device, "Spark-TTS device id")
	fs.String("engine-python-path", defaults.Engine.PythonPath, "Python interpreter for Spark-TTS")
	fs.String("engine-command", defaults.Engine.Command, "Full Spark-TTS inference command line (overrides python path)")
	fs.String("engine-work-dir", defaults.Engine.WorkDir, "Spark-TTS checkout to run inference in")
	fs.String("engine-pocket-cli-path", defaults.Engine.PocketCLIPath, "Path to pocket-tts executable")
	fs.String("engine-pocket-config-path", defaults.Engine.PocketConfigPath, "Path to pocket-tts config file")
	fs.String("engine-pocket-male-voice", defaults.Engine.PocketMaleVoice, "pocket-tts voice for gender=male")
	fs.String("engine-pocket-female-voice", defaults.Engine.PocketFemaleVoice, "pocket-tts voice for gender=female")
	fs.Bool("engine-quiet", defaults.Engine.Quiet, "Pass --quiet to pocket-tts")
	fs.String("audio-ffmpeg-path", defaults.Audio.FFmpegPath, "Path to ffmpeg")
	fs.String("audio-ffmpeg-args", defaults.Audio.FFmpegArgs, "Extra ffmpeg arguments (shell words)")
	fs.String("audio-temp-dir", defaults.Audio.TempDir, "Directory for per-request scratch files")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory generated audio is written to")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("SPARKTTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("sparktts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Engine.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Engine.Backend = backend

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects limits that would make the server unusable.
func (c Config) Validate() error {
	var errs []error
	if c.Server.MaxTextBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_text_bytes must be positive, got %d", c.Server.MaxTextBytes))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout))
	}
	if c.Server.GateTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.gate_timeout must not be negative, got %s", c.Server.GateTimeout))
	}
	if c.Server.StreamChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.stream_chunk_bytes must be positive, got %d", c.Server.StreamChunkBytes))
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		errs = append(errs, errors.New("paths.output_dir must not be empty"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.gate_timeout", c.Server.GateTimeout)
	v.SetDefault("server.stream_chunk_bytes", c.Server.StreamChunkBytes)
	v.SetDefault("server.metrics", c.Server.Metrics)
	v.SetDefault("server.cors_origins", c.Server.CORSOrigins)
	v.SetDefault("engine.backend", c.Engine.Backend)
	v.SetDefault("engine.model_dir", c.Engine.ModelDir)
	v.SetDefault("engine.device", c.Engine.Device)
	v.SetDefault("engine.python_path", c.Engine.PythonPath)
	v.SetDefault("engine.command", c.Engine.Command)
	v.SetDefault("engine.work_dir", c.Engine.WorkDir)
	v.SetDefault("engine.pocket_cli_path", c.Engine.PocketCLIPath)
	v.SetDefault("engine.pocket_config_path", c.Engine.PocketConfigPath)
	v.SetDefault("engine.pocket_male_voice", c.Engine.PocketMaleVoice)
	v.SetDefault("engine.pocket_female_voice", c.Engine.PocketFemaleVoice)
	v.SetDefault("engine.quiet", c.Engine.Quiet)
	v.SetDefault("audio.ffmpeg_path", c.Audio.FFmpegPath)
	v.SetDefault("audio.ffmpeg_args", c.Audio.FFmpegArgs)
	v.SetDefault("audio.temp_dir", c.Audio.TempDir)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds each known flag to its nested key. Flags only override
// file and env values when set explicitly.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, kf := range flagKeys {
		f := fs.Lookup(kf[1])
		if f == nil {
			continue
		}
		if err := v.BindPFlag(kf[0], f); err != nil {
			return fmt.Errorf("bind flag %s: %w", kf[1], err)
		}
	}

	return nil
}
