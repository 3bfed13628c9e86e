package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Signer   SignerConfig   `mapstructure:"signer"`
	Faucet   FaucetConfig   `mapstructure:"faucet"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PointSettled string `mapstructure:"point_settled"`
	InvokeResult string `mapstructure:"invoke_result"`
	FaucetResult string `mapstructure:"faucet_result"`
}

// ChainConfig 链接入配置
// CallPrivateKey 是本服务托管的"调用身份"私钥（hex）。该身份发出的交易本地签名，
// 其余发送方一律走远程签名服务。
type ChainConfig struct {
	Nodes          map[string]string `mapstructure:"nodes"` // chainId -> 节点 HTTP 地址
	CallPrivateKey string            `mapstructure:"call_private_key"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

func (c ChainConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SignerConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c SignerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FaucetConfig 测试币水龙头配置
type FaucetConfig struct {
	ChainID         string `mapstructure:"chain_id"`
	ContractAddress string `mapstructure:"contract_address"` // 代币合约地址
	OwnerAddress    string `mapstructure:"owner_address"`    // 出资地址（查余额用）
	Symbol          string `mapstructure:"symbol"`
	Amount          int64  `mapstructure:"amount"` // 单次发放数量（最小单位）
	Suspended       bool   `mapstructure:"suspended"`
}

// SettlePointConfig 一个需要定期结算的积分（链 + 积分名 + 结算合约）
type SettlePointConfig struct {
	ChainID         string `mapstructure:"chain_id"`
	PointName       string `mapstructure:"point_name"`
	ContractAddress string `mapstructure:"contract_address"`
	Method          string `mapstructure:"method"` // 如 BatchSettle
}

type BusinessConfig struct {
	MaxRetryCount           int                 `mapstructure:"max_retry_count"`
	ConfirmDeadlineSeconds  int                 `mapstructure:"confirm_deadline_seconds"` // NOTEXISTED 视为丢弃的期限
	PageSize                int                 `mapstructure:"page_size"`
	SweepIntervalSeconds    int                 `mapstructure:"sweep_interval_seconds"`
	DispatchIntervalSeconds int                 `mapstructure:"dispatch_interval_seconds"`
	HeightIntervalSeconds   int                 `mapstructure:"height_interval_seconds"`
	SweepConcurrency        int                 `mapstructure:"sweep_concurrency"`
	SettlePoints            []SettlePointConfig `mapstructure:"settle_points"`
}

func (c BusinessConfig) ConfirmDeadline() time.Duration {
	if c.ConfirmDeadlineSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ConfirmDeadlineSeconds) * time.Second
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
