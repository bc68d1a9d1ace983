package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"pathflow/api"
	"pathflow/controller"
	"pathflow/etcd"
	"pathflow/flow"
	"pathflow/monitor"
	"pathflow/service"
	"pathflow/topology"
)

type Config struct {
	Controller ControllerConfig `toml:"controller"`
	Monitor    MonitorConfig    `toml:"monitor"`
	API        APIConfig        `toml:"api"`
	Etcd       EtcdConfig       `toml:"etcd"`
}

type ControllerConfig struct {
	BaseURL     string `toml:"base_url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

type MonitorConfig struct {
	PollIntervalSecs int `toml:"poll_interval_secs"`
	PairWorkers      int `toml:"pair_workers"`
}

type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type EtcdConfig struct {
	Enabled         bool     `toml:"enabled"`
	Endpoints       []string `toml:"endpoints"`
	DialTimeoutSecs int      `toml:"dial_timeout_secs"`
}

func loadConfig(path string) (*Config, error) {
	config := &Config{
		Controller: ControllerConfig{
			BaseURL:     "http://localhost:8181",
			Username:    "onos",
			Password:    "rocks",
			TimeoutSecs: 10,
		},
		Monitor: MonitorConfig{PollIntervalSecs: 5, PairWorkers: 16},
		API:     APIConfig{ListenAddr: ":8480"},
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config file %s not found, using defaults", path)
			return config, nil
		}
		return nil, err
	}
	return config, nil
}

// log init
func init() {
	logDir := "./logs"
	os.MkdirAll(logDir, 0755)

	fileLogger := &lumberjack.Logger{
		Filename:   logDir + "/pathflow.log",
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     30, // Days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stdout, fileLogger)
	log.SetOutput(multiWriter)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
}

func main() {
	cfg, err := loadConfig("pathflow_config.toml")
	if err != nil {
		log.Fatalf("loading configuration failed, err:%v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := controller.NewRESTClient(
		cfg.Controller.BaseURL,
		cfg.Controller.Username,
		cfg.Controller.Password,
		time.Duration(cfg.Controller.TimeoutSecs)*time.Second,
	)
	synchronizer := topology.NewSynchronizer(client)
	compiler := flow.NewCompiler()
	orchestrator := flow.NewOrchestrator(client)

	mon, err := monitor.NewMonitor(
		synchronizer, compiler, orchestrator,
		time.Duration(cfg.Monitor.PollIntervalSecs)*time.Second,
		cfg.Monitor.PairWorkers,
	)
	if err != nil {
		log.Fatalf("creating reactive monitor failed, err:%v", err)
		return
	}

	svc := service.New(client, synchronizer, compiler, orchestrator, mon)

	if cfg.Etcd.Enabled {
		etcdCfg := etcd.DefaultConfig()
		if len(cfg.Etcd.Endpoints) > 0 {
			etcdCfg.Endpoints = cfg.Etcd.Endpoints
		}
		if cfg.Etcd.DialTimeoutSecs > 0 {
			etcdCfg.DialTimeout = time.Duration(cfg.Etcd.DialTimeoutSecs) * time.Second
		}
		bridge, err := etcd.NewBridge(etcdCfg, svc)
		if err != nil {
			log.Fatalf("connecting etcd bridge failed, err:%v", err)
			return
		}
		defer bridge.Close()
		mon.OnReport = bridge.ReportHook()
		go bridge.Watch(ctx)
	}

	// First sync before serving so the API has a snapshot when the
	// controller is reachable; a failure here is retried by the poll loop.
	if _, _, err := synchronizer.Sync(ctx); err != nil {
		log.Warnf("initial topology sync failed: %v", err)
	}

	go mon.Run(ctx)

	app := fiber.New(fiber.Config{AppName: "pathflow"})
	api.SetupRoutes(app, svc)
	go func() {
		if err := app.Listen(cfg.API.ListenAddr); err != nil {
			log.Fatalf("api listen failed, addr:%v, err:%v", cfg.API.ListenAddr, err)
		}
	}()
	log.Infof("pathflow started, api on %s, controller %s", cfg.API.ListenAddr, cfg.Controller.BaseURL)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan
	log.Infof("received signal, shutting down")
	cancel()
	app.Shutdown()
	time.Sleep(1 * time.Second)
}
