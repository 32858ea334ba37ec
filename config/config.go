package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "GTTA"

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	LevelDB      LevelDBConfig      `mapstructure:"leveldb"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Node         NodeConfig         `mapstructure:"node"`
	Tangle       TangleConfig       `mapstructure:"tangle"`
	TipSelection TipSelectionConfig `mapstructure:"tip_selection"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	// empty keeps checkpoints in memory
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep"`
}

const (
	FeedZMQ   = "zmq"
	FeedKafka = "kafka"
	FeedFile  = "file"
)

type FeedConfig struct {
	Type          string      `mapstructure:"type"`
	ZMQEndpoint   string      `mapstructure:"zmq_endpoint"`
	File          string      `mapstructure:"file"` // "-" reads stdin
	FileBatchSize int         `mapstructure:"file_batch_size"`
	Kafka         KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NodeConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RemoteFallback bool          `mapstructure:"remote_fallback"`
}

type TangleConfig struct {
	MarkDepth   int `mapstructure:"mark_depth"`
	DeleteDepth int `mapstructure:"delete_depth"`
}

type TipSelectionConfig struct {
	Alpha    float64       `mapstructure:"alpha"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "")
	v.SetDefault("leveldb.keep", 100)
	v.SetDefault("feed.type", FeedZMQ)
	v.SetDefault("feed.zmq_endpoint", "tcp://localhost:5556")
	v.SetDefault("feed.file", "")
	v.SetDefault("feed.file_batch_size", 100)
	v.SetDefault("feed.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("feed.kafka.topic", "iota-feed")
	v.SetDefault("node.url", "http://localhost:14265")
	v.SetDefault("node.timeout", 10*time.Second)
	v.SetDefault("node.remote_fallback", true)
	v.SetDefault("tangle.mark_depth", 5)
	v.SetDefault("tangle.delete_depth", 6)
	v.SetDefault("tip_selection.alpha", 0.001)
	v.SetDefault("tip_selection.cache_ttl", time.Duration(0))
	v.SetDefault("metrics.namespace", "gtta")
}

// Load reads the config file at path, if any, on top of the defaults. Every key can be
// overridden by an environment variable, e.g. GTTA_FEED_TYPE for feed.type.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Tangle.MarkDepth < 0 || c.Tangle.DeleteDepth <= c.Tangle.MarkDepth {
		return errors.Errorf("invalid retention window: mark depth %d, delete depth %d", c.Tangle.MarkDepth, c.Tangle.DeleteDepth)
	}
	if c.TipSelection.Alpha <= 0 {
		return errors.Errorf("alpha must be positive, got %v", c.TipSelection.Alpha)
	}
	switch c.Feed.Type {
	case FeedZMQ:
		if c.Feed.ZMQEndpoint == "" {
			return errors.New("zmq feed needs an endpoint")
		}
	case FeedKafka:
		if len(c.Feed.Kafka.Brokers) == 0 || c.Feed.Kafka.Topic == "" {
			return errors.New("kafka feed needs brokers and a topic")
		}
	case FeedFile:
		if c.Feed.File == "" {
			return errors.New("file feed needs a file")
		}
	default:
		return errors.Errorf("unknown feed type %q", c.Feed.Type)
	}
	if c.Node.URL == "" {
		return errors.New("node url is required")
	}
	return nil
}
