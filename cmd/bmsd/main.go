package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bms/internal/config"
	"bms/internal/core/actor"
	"bms/internal/server"
	"bms/internal/util/actorutil"
	"bms/pkg/bmsmodbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	gatewayProv := gatewayClientProvider(cfg, logger)
	configPort := config.NewViperConfigStore(viper.GetViper())

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, gatewayProv, configPort, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		panic(err)
	}

	httpServer := server.NewServer(*cfg, ctx, pid)

	done := make(chan bool, 1)
	go gracefulShutdown(httpServer, done)

	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

// gatewayClientProvider is nil when the bank is simulated, which is
// MasterOfPuppetsActor's own signal to skip spawning a gateway actor.
func gatewayClientProvider(cfg *config.Config, logger *zap.Logger) actor.GatewayClientProvider {
	if cfg.Gateway.Simulated {
		return nil
	}
	return func() (*bmsmodbus.GatewayClient, error) {
		return bmsmodbus.NewGatewayClient(cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ReadTimeout(), logger)
	}
}

func initConfig() (*config.Config, error) {
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("BMS_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("bms")
	viper.AutomaticEnv()

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			if err := viper.ReadInConfig(); err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch viper.GetString("log_level") {
	case "trace", "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid mqtt base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	if cfg.MQTT.HADiscoveryTopic != "" {
		hadTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadTopic
	}

	if cfg.Bank.NumBatteries <= 0 {
		return nil, errors.New("config param bank.num_batteries must be > 0")
	}
	if len(cfg.Bank.Batteries) != cfg.Bank.NumBatteries {
		return nil, errors.New("config param bank.batteries must have bank.num_batteries entries")
	}
	if cfg.Monitor.MonitorDelayMillis < 1000 {
		return nil, errors.New("config param monitor.monitor_delay_millis should be >= 1000")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("port", 8080)
	viper.SetDefault("mqtt.base_topic", "bms")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("gateway.simulated", false)
	viper.SetDefault("gateway.read_timeout_millis", 1000)
	viper.SetDefault("monitor.startup_delay_millis", 2000)
	viper.SetDefault("monitor.monitor_delay_millis", 5000)
	viper.SetDefault("monitor.calibration_delay_millis", 2000)
	viper.SetDefault("monitor.watchdog_delay_millis", 1000)
	viper.SetDefault("charger.tick_delay_millis", 5000)
	viper.SetDefault("charger.debounce_ticks", 3)
	viper.SetDefault("charger.cooldown_ticks", 6)
	viper.SetDefault("recorder.enabled", false)
	viper.SetDefault("recorder.cron", "0 * * * * *")
	viper.SetDefault("recorder.ring_size", 720)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
