package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"ShortsComposer-server/models"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const defaultConfigPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Worker struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"worker"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	GCS struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"gcs"`
	Publisher struct {
		Backend string `yaml:"backend"` // minio | gcs | none
	} `yaml:"publisher"`
	Log struct {
		Level   string `yaml:"level"`
		Service string `yaml:"service"`
	} `yaml:"log"`
	Composer    ComposerConfig           `yaml:"composer"`
	TextOverlay models.TextOverlayConfig `yaml:"text_overlay"`
}

// ComposerConfig 合成引擎参数，整个部署固定一种竖屏规格
type ComposerConfig struct {
	StubMode         bool          `yaml:"stub_mode"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	ScratchDir       string        `yaml:"scratch_dir"`
	OutputDir        string        `yaml:"output_dir"`
	Width            int           `yaml:"width"`
	Height           int           `yaml:"height"`
	AspectRatio      string        `yaml:"aspect_ratio"`
	FPS              int           `yaml:"fps"`
	EndZoom          float64       `yaml:"end_zoom"`
	AlternateMotion  bool          `yaml:"alternate_motion"`
	Concurrency      int           `yaml:"concurrency"`
	VideoCodec       string        `yaml:"video_codec"`
	Preset           string        `yaml:"preset"`
	CRF              int           `yaml:"crf"`
	AudioCodec       string        `yaml:"audio_codec"`
	AudioBitrate     string        `yaml:"audio_bitrate"`
	AudioSampleRate  int           `yaml:"audio_sample_rate"`
	TimeoutBase      time.Duration `yaml:"timeout_base"`
	TimeoutPerSecond time.Duration `yaml:"timeout_per_second"`
}

var AppConfig *Config

func InitConfig() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	AppConfig = cfg
}

// Load 读取 .env（可选）与 YAML 配置，应用环境变量覆盖与默认值并校验
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("COMPOSER_STUB_MODE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Composer.StubMode = b
		}
	}
	setString(&c.Composer.FFmpegPath, "COMPOSER_FFMPEG_PATH")
	setString(&c.Composer.ScratchDir, "COMPOSER_SCRATCH_DIR")
	setString(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ApplyDefaults 为未设置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Publisher.Backend == "" {
		c.Publisher.Backend = "minio"
	}
	if c.Log.Service == "" {
		c.Log.Service = "shorts-composer"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Composer.ApplyDefaults()
}

func (c *ComposerConfig) ApplyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir() + "/shorts-composer"
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	if c.Width == 0 {
		c.Width = 1080
	}
	if c.Height == 0 {
		c.Height = 1920
	}
	if c.AspectRatio == "" {
		c.AspectRatio = "9:16"
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.EndZoom == 0 {
		c.EndZoom = 1.08
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "libx264"
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.CRF == 0 {
		c.CRF = 20
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "aac"
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = "192k"
	}
	if c.AudioSampleRate == 0 {
		c.AudioSampleRate = 44100
	}
	if c.TimeoutBase == 0 {
		c.TimeoutBase = 30 * time.Second
	}
	if c.TimeoutPerSecond == 0 {
		c.TimeoutPerSecond = 8 * time.Second
	}
}

func (c *Config) Validate() error {
	switch c.Publisher.Backend {
	case "minio", "gcs", "none":
	default:
		return fmt.Errorf("unknown publisher backend %q", c.Publisher.Backend)
	}
	return c.Composer.Validate()
}

func (c ComposerConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("composer resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("composer resolution must be even, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("composer fps must be positive, got %d", c.FPS)
	}
	if c.EndZoom < 1 {
		return fmt.Errorf("composer end_zoom must be >= 1, got %v", c.EndZoom)
	}
	return nil
}

// Resolution 形如 1080x1920
func (c ComposerConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}
