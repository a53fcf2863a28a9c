package config

import "time"

// Config 对应 config/tradesd.yaml 的内容
type Config struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Addr  string `yaml:"addr" mapstructure:"addr"` // HTTP 监听地址
	Chain Chain  `yaml:"chain" mapstructure:"chain"`
	Redis Redis  `yaml:"redis" mapstructure:"redis"`
	State State  `yaml:"state" mapstructure:"state"`
	Trace Trace  `yaml:"trace" mapstructure:"trace"`
	Log   Log    `yaml:"log" mapstructure:"log"`
}

type Chain struct {
	NodeURL         string `yaml:"node_url" mapstructure:"node_url"`
	ContractAddress string `yaml:"contract_address" mapstructure:"contract_address"`
	NetworkID       int64  `yaml:"network_id" mapstructure:"network_id"`
	// 需要跟踪成交记录的账户地址列表
	WatchedAddresses []string      `yaml:"watched_addresses" mapstructure:"watched_addresses"`
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// 单次 FilterLogs 最多跨多少个块，0 表示不限制
	MaxBlockRange uint64 `yaml:"max_block_range" mapstructure:"max_block_range"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

type State struct {
	// redis 不可用时落到本地文件
	FilePath string `yaml:"file_path" mapstructure:"file_path"`
	RedisKey string `yaml:"redis_key" mapstructure:"redis_key"`
}

type Trace struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"` // OTLP gRPC 地址
}

type Log struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}
