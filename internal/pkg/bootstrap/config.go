// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，从 yaml 文件加载，关键项允许环境变量覆盖
type Config struct {
	App struct {
		LogLevel string `yaml:"logLevel"`
	} `yaml:"app"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers       []string `yaml:"brokers"`
			RequestTopic  string   `yaml:"requestTopic"`
			DltTopic      string   `yaml:"dltTopic"`
			ConsumerGroup string   `yaml:"consumerGroup"`
			MaxAttempts   int      `yaml:"maxAttempts"`
		} `yaml:"kafka"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Zookeeper struct {
			Servers        []string      `yaml:"servers"`
			SessionTimeout time.Duration `yaml:"sessionTimeout"`
		} `yaml:"zookeeper"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Issuance struct {
		Lock struct {
			Backend   string        `yaml:"backend"` // redis | zookeeper
			WaitTime  time.Duration `yaml:"waitTime"`
			LeaseTime time.Duration `yaml:"leaseTime"`
		} `yaml:"lock"`
		Worker struct {
			Concurrency int `yaml:"concurrency"`
		} `yaml:"worker"`
		OutcomeTTL        time.Duration `yaml:"outcomeTTL"`
		AccountServiceURL string        `yaml:"accountServiceUrl"`
	} `yaml:"issuance"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

// Init 加载配置文件。必须在 GetCurrentConfig 之前调用（通常在 main 的第一行）。
func Init() {
	configOnce.Do(func() {
		cfg := defaultConfig()

		path := getEnv("CONFIG_PATH", "configs/config.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("⚠️ WARNING: could not read config file %s: %v. Using defaults.", path, err)
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("FATAL: invalid config file %s: %v", path, err)
		}

		applyEnvOverrides(cfg)
		currentConfig = cfg
	})
}

// GetCurrentConfig 返回当前配置，要求 Init 已执行
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		log.Fatal("FATAL: bootstrap.Init() must be called before GetCurrentConfig()")
	}
	return currentConfig
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.LogLevel = "info"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.RequestTopic = "coupon-issuance-requests"
	cfg.Infra.Kafka.DltTopic = "coupon-issuance-requests-dlt"
	cfg.Infra.Kafka.ConsumerGroup = "coupon-issuance-workers"
	cfg.Infra.Kafka.MaxAttempts = 3
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/surge?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Issuance.Lock.Backend = "redis"
	cfg.Issuance.Lock.WaitTime = 3 * time.Second
	cfg.Issuance.Lock.LeaseTime = 10 * time.Second
	cfg.Issuance.Worker.Concurrency = 8
	cfg.Issuance.OutcomeTTL = 24 * time.Hour
	return cfg
}

// applyEnvOverrides 允许容器环境里不改文件就覆盖关键连接项
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = splitNonEmpty(v)
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		cfg.Infra.Mysql.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDRS"); ok {
		cfg.Infra.Redis.Addrs = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		cfg.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("NACOS_GROUP"); ok {
		cfg.Infra.Nacos.Group = v
	}
	if v, ok := os.LookupEnv("ACCOUNT_SERVICE_URL"); ok {
		cfg.Issuance.AccountServiceURL = v
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
