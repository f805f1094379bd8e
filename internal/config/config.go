package config

import (
	"fmt"
	"os"
	"strconv"

	"m0n1t0r_go/internal/types"

	ini "gopkg.in/ini.v1"
)

// defaults 在 ini 文件缺少对应键时生效
func defaults(cfg *types.Config) {
	cfg.CommonConf.BufferSize = 32 * 1024
	cfg.LogConf.Level = "info"
	cfg.LogConf.Format = "console"
	cfg.ServerConf.WebPort = 10801
	cfg.ServerConf.BindHost = "0.0.0.0"
	cfg.ServerConf.AgentPath = "/agent"
	cfg.ServerConf.HealthCheckInterval = 30
	cfg.ServerConf.HealthCheckTimeout = 10
	cfg.Socks5Conf.DefaultListen = "0.0.0.0:0"
	cfg.EventsConf.SubjectPrefix = "m0n1t0r"
	cfg.AgentConf.ReconnectInterval = 5
}

// LoadIni 从指定的 fileName 加载配置到传入的 types.Config 结构体中。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}

	defaults(cfg)
	// MapTo 将 .ini 文件的 section 映射到 cfg 的嵌入字段，缺失的键保留默认值
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}

	overrideFromEnvInt(&cfg.ServerConf.WebPort, "M0N1T0R_WEB_PORT")
	overrideFromEnvInt(&cfg.CommonConf.MaxConnections, "M0N1T0R_MAX_CONNECTIONS")
	overrideFromEnvString(&cfg.LogConf.Level, "M0N1T0R_LOG_LEVEL")
	overrideFromEnvString(&cfg.EventsConf.NatsURL, "M0N1T0R_NATS_URL")
	overrideFromEnvString(&cfg.AgentConf.ServerURL, "M0N1T0R_SERVER_URL")

	return validate(cfg)
}

// SaveIni 将内存中的 types.Config 结构体保存回指定的 fileName。
func SaveIni(cfg *types.Config, fileName string) error {
	iniFile := ini.Empty()
	if err := ini.ReflectFrom(iniFile, cfg); err != nil {
		return fmt.Errorf("failed to reflect config to ini object: %w", err)
	}
	return iniFile.SaveTo(fileName)
}

func validate(cfg *types.Config) error {
	if cfg.CommonConf.BufferSize <= 0 {
		return fmt.Errorf("common.bufferSize must be positive, got %d", cfg.CommonConf.BufferSize)
	}
	switch cfg.ForwardConf.ProxyProtocol {
	case 0, 1, 2:
	default:
		return fmt.Errorf("forward.proxy_protocol must be 0, 1 or 2, got %d", cfg.ForwardConf.ProxyProtocol)
	}
	switch cfg.CommonConf.Mode {
	case "", "server", "agent":
	default:
		return fmt.Errorf("common.mode %q is not one of server, agent", cfg.CommonConf.Mode)
	}
	return nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
