package types

// CommonConf 包含 server 和 agent 两种模式共有的配置
type CommonConf struct {
	Mode           string `ini:"mode"`
	MaxConnections int    `ini:"maxConnections"`
	BufferSize     int    `ini:"bufferSize"`
}

// LogConf controls the zerolog backend.
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // console | json
	File   string `ini:"file"`
}

// ServerConf 包含 server 模式特有的配置
type ServerConf struct {
	WebPort             int    `ini:"web_port"`
	BindHost            string `ini:"bind_host"`
	AgentPath           string `ini:"agent_path"`
	HealthCheckInterval int    `ini:"health_check_interval"` // seconds, 0 disables
	HealthCheckTimeout  int    `ini:"health_check_timeout"`  // seconds
}

// ForwardConf tunes the local side of reverse port-forwards.
type ForwardConf struct {
	DialTimeout   int `ini:"dial_timeout"`   // seconds, 0 means no timeout
	ProxyProtocol int `ini:"proxy_protocol"` // 0 off, 1 or 2 for the header version
}

// Socks5Conf holds defaults for proxy listeners opened from the control surface.
type Socks5Conf struct {
	DefaultListen string `ini:"default_listen"`
}

// EventsConf 配置会话生命周期事件的 NATS 发布
type EventsConf struct {
	NatsURL       string `ini:"nats_url"`
	SubjectPrefix string `ini:"subject_prefix"`
}

// AgentConf 包含 agent 模式特有的配置
type AgentConf struct {
	ServerURL         string `ini:"server_url"`
	Name              string `ini:"name"`
	ReconnectInterval int    `ini:"reconnect_interval"` // seconds
}

// Config 是整个应用程序的统一配置结构体
type Config struct {
	CommonConf  `ini:"common"`
	LogConf     `ini:"log"`
	ServerConf  `ini:"server"`
	ForwardConf `ini:"forward"`
	Socks5Conf  `ini:"socks5"`
	EventsConf  `ini:"events"`
	AgentConf   `ini:"agent"`
}
