package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Port     uint `mapstructure:"port"`
	HttpLog  bool `mapstructure:"http_log"`

	Bank     BankConfig     `mapstructure:"bank"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Charger  ChargerConfig  `mapstructure:"charger"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

// ChargerConfig tunes the reference charging-phase state machine
// (SPEC_FULL §4.5). It is deliberately small: the charging algorithm's
// quality is out of scope, only that it drives port.ChargerPort.
type ChargerConfig struct {
	TickDelayMillis   uint32        `mapstructure:"tick_delay_millis"`
	AbsorptionVoltage fixedpoint.Q8 `mapstructure:"absorption_voltage"`
	DebounceTicks     int           `mapstructure:"debounce_ticks"`
	CooldownTicks     int           `mapstructure:"cooldown_ticks"`
}

func (c ChargerConfig) TickDelay() time.Duration {
	return time.Duration(c.TickDelayMillis) * time.Millisecond
}

// BankConfig is the fixed battery-bank geometry plus the allocator's
// thresholds/policy, loaded once at boot. CurrentOffsets and Strategy are
// the only fields this process writes back, via ViperConfigStore.
type BankConfig struct {
	NumBatteries int               `mapstructure:"num_batteries"`
	NumLoads     int               `mapstructure:"num_loads"`
	NumPanels    int               `mapstructure:"num_panels"`
	Batteries    []BatteryConfig   `mapstructure:"batteries"`
	Thresholds   domain.Thresholds `mapstructure:"thresholds"`
	Strategy     uint8             `mapstructure:"strategy"`
	AutoTrack    bool              `mapstructure:"auto_track"`

	CurrentOffsets []fixedpoint.Q8 `mapstructure:"current_offsets"`
}

func (b BankConfig) MonitorStrategy() domain.MonitorStrategy {
	return domain.MonitorStrategy(b.Strategy)
}

type BatteryConfig struct {
	Capacity int32  `mapstructure:"capacity_ah"`
	Type     string `mapstructure:"type"`
}

func (b BatteryConfig) BatteryType() domain.BatteryType {
	switch strings.ToLower(b.Type) {
	case "gel":
		return domain.Gel
	case "agm":
		return domain.Agm
	default:
		return domain.Wet
	}
}

type GatewayConfig struct {
	Host              string `mapstructure:"host"`
	Port              uint   `mapstructure:"port"`
	Simulated         bool   `mapstructure:"simulated"`
	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
}

func (g GatewayConfig) ReadTimeout() time.Duration {
	return time.Duration(g.ReadTimeoutMillis) * time.Millisecond
}

type MonitorConfig struct {
	StartupDelayMillis     uint32 `mapstructure:"startup_delay_millis"`
	MonitorDelayMillis     uint32 `mapstructure:"monitor_delay_millis"`
	CalibrationDelayMillis uint32 `mapstructure:"calibration_delay_millis"`
	WatchdogDelayMillis    uint32 `mapstructure:"watchdog_delay_millis"`
}

func (m MonitorConfig) MonitorDelay() time.Duration {
	return time.Duration(m.MonitorDelayMillis) * time.Millisecond
}

func (m MonitorConfig) CalibrationDelay() time.Duration {
	return time.Duration(m.CalibrationDelayMillis) * time.Millisecond
}

func (m MonitorConfig) WatchdogDelay() time.Duration {
	return time.Duration(m.WatchdogDelayMillis) * time.Millisecond
}

func (m MonitorConfig) StartupDelay() time.Duration {
	return time.Duration(m.StartupDelayMillis) * time.Millisecond
}

type RecorderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Path     string `mapstructure:"path"`
	RingSize int    `mapstructure:"ring_size"`
}

type MQTTConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// ViperConfigStore implements port.ConfigPort against the process's live
// viper instance, persisting to the loaded config file when one is set.
type ViperConfigStore struct {
	v *viper.Viper
}

func NewViperConfigStore(v *viper.Viper) *ViperConfigStore {
	return &ViperConfigStore{v: v}
}

func (s *ViperConfigStore) PersistCurrentOffsets(offsets []fixedpoint.Q8) error {
	s.v.Set("bank.current_offsets", offsets)
	return s.writeConfig()
}

func (s *ViperConfigStore) PersistMonitorStrategy(strategy domain.MonitorStrategy) error {
	s.v.Set("bank.strategy", uint8(strategy))
	return s.writeConfig()
}

func (s *ViperConfigStore) writeConfig() error {
	if s.v.ConfigFileUsed() == "" {
		return nil
	}
	return s.v.WriteConfig()
}
