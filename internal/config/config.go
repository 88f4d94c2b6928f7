package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Communicator transports.
const (
	TransportTCP   = "tcp"
	TransportVsock = "vsock"
	TransportNone  = "none"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "dutharness.db"
	defaultLogLevel         = "info"
	defaultQueueCapacity    = 25
	defaultJoinTimeout      = 20 * time.Second
	defaultExecutionTimeout = 20 * time.Second
	defaultCommTransport    = TransportTCP
	defaultCommAddr         = ":7070"
	defaultCommVsockPort    = 1024

	envListenAddr       = "DUT_LISTEN_ADDR"
	envDBPath           = "DUT_DB_PATH"
	envLogLevel         = "DUT_LOG_LEVEL"
	envQueueCapacity    = "DUT_QUEUE_CAPACITY"
	envJoinTimeout      = "DUT_JOIN_TIMEOUT"
	envExecutionTimeout = "DUT_EXECUTION_TIMEOUT"
	envCommTransport    = "DUT_COMM_TRANSPORT"
	envCommAddr         = "DUT_COMM_ADDR"
	envCommVsockPort    = "DUT_COMM_VSOCK_PORT"
	envConfigFile       = "DUT_CONFIG_FILE"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	QueueCapacity    int
	JoinTimeout      time.Duration
	ExecutionTimeout time.Duration

	CommTransport string
	CommAddr      string
	CommVsockPort uint32
}

// fileConfig is the YAML overlay named by DUT_CONFIG_FILE. Unset fields keep
// their defaults.
type fileConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	DBPath           string `yaml:"db_path"`
	LogLevel         string `yaml:"log_level"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	JoinTimeout      string `yaml:"join_timeout"`
	ExecutionTimeout string `yaml:"execution_timeout"`

	Communicator struct {
		Transport string `yaml:"transport"`
		Addr      string `yaml:"addr"`
		VsockPort uint32 `yaml:"vsock_port"`
	} `yaml:"communicator"`
}

// Load reads configuration from defaults, then the optional YAML file named
// by DUT_CONFIG_FILE, then environment variables. Later sources win.
func Load() (Config, error) {
	values := map[string]string{
		envListenAddr:       defaultListenAddr,
		envDBPath:           defaultDBPath,
		envLogLevel:         defaultLogLevel,
		envQueueCapacity:    strconv.Itoa(defaultQueueCapacity),
		envJoinTimeout:      defaultJoinTimeout.String(),
		envExecutionTimeout: defaultExecutionTimeout.String(),
		envCommTransport:    defaultCommTransport,
		envCommAddr:         defaultCommAddr,
		envCommVsockPort:    strconv.Itoa(defaultCommVsockPort),
	}

	if path := os.Getenv(envConfigFile); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		fc.overlay(values)
	}

	for key := range values {
		if v := os.Getenv(key); v != "" {
			values[key] = v
		}
	}

	return parse(values)
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func (fc fileConfig) overlay(values map[string]string) {
	set := func(key, v string) {
		if v != "" {
			values[key] = v
		}
	}
	set(envListenAddr, fc.ListenAddr)
	set(envDBPath, fc.DBPath)
	set(envLogLevel, fc.LogLevel)
	set(envJoinTimeout, fc.JoinTimeout)
	set(envExecutionTimeout, fc.ExecutionTimeout)
	set(envCommTransport, fc.Communicator.Transport)
	set(envCommAddr, fc.Communicator.Addr)
	if fc.QueueCapacity != 0 {
		values[envQueueCapacity] = strconv.Itoa(fc.QueueCapacity)
	}
	if fc.Communicator.VsockPort != 0 {
		values[envCommVsockPort] = strconv.FormatUint(uint64(fc.Communicator.VsockPort), 10)
	}
}

func parse(values map[string]string) (Config, error) {
	cfg := Config{
		ListenAddr:    values[envListenAddr],
		DBPath:        values[envDBPath],
		LogLevel:      parseLogLevel(values[envLogLevel]),
		CommTransport: strings.ToLower(values[envCommTransport]),
		CommAddr:      values[envCommAddr],
	}

	var err error
	if cfg.QueueCapacity, err = strconv.Atoi(values[envQueueCapacity]); err != nil || cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("%s: invalid queue capacity %q", envQueueCapacity, values[envQueueCapacity])
	}
	if cfg.JoinTimeout, err = parseDuration(envJoinTimeout, values[envJoinTimeout]); err != nil {
		return Config{}, err
	}
	if cfg.ExecutionTimeout, err = parseDuration(envExecutionTimeout, values[envExecutionTimeout]); err != nil {
		return Config{}, err
	}

	port, err := strconv.ParseUint(values[envCommVsockPort], 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("%s: invalid port %q", envCommVsockPort, values[envCommVsockPort])
	}
	cfg.CommVsockPort = uint32(port)

	switch cfg.CommTransport {
	case TransportTCP, TransportVsock, TransportNone:
	default:
		return Config{}, fmt.Errorf("%s: unknown transport %q", envCommTransport, cfg.CommTransport)
	}

	return cfg, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, s)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
