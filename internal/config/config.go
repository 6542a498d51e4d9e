// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Walrus    WalrusConfig    `mapstructure:"walrus"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// CORS 允许的前端来源列表。
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// WalrusConfig 存储远程 Walrus 块存储服务的配置。
type WalrusConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
	// 单次请求超时（秒）；远程不可达时必须快速失败并回退本地。
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Enabled 为 false 时整个系统只使用本地文件存储。
	Enabled bool `mapstructure:"enabled"`
}

// Timeout 返回配置的请求超时秒数，未配置时默认 5 秒。
func (c WalrusConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 5
	}
	return c.TimeoutSeconds
}

// DocumentsConfig 存储文档语料与向量工件的本地存放位置。
type DocumentsConfig struct {
	// DataDir 是原始文档目录（平铺存放）。
	DataDir string `mapstructure:"data_dir"`
	// VectorStoreDir 存放三个向量工件文件（索引、向量器、元数据）。
	VectorStoreDir string `mapstructure:"vector_store_dir"`
	// MapFile 是文档映射文件（filename -> blob_id）。
	MapFile string `mapstructure:"map_file"`
	// SideTableFile 是工件 blob_id 侧表文件。
	SideTableFile string `mapstructure:"side_table_file"`
	// LockFile 用于串行化摄取任务的文件锁。
	LockFile string `mapstructure:"lock_file"`
	// Extensions 是允许摄取的文件扩展名白名单。
	Extensions []string `mapstructure:"extensions"`
}

// RetrievalConfig 存储检索相关的配置。
type RetrievalConfig struct {
	// TopK 是每次检索返回的最近邻数量，默认 3。
	TopK int `mapstructure:"top_k"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled 为 false 时摄取任务在进程内同步执行。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	// 允许通过环境变量覆盖（例如 WALRUS_API_KEY）。
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
