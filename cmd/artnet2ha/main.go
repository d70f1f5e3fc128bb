package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"artnet2ha/internal/bridge"
	"artnet2ha/internal/clientha"
	"artnet2ha/internal/clientmqtt"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/mapping"
	"artnet2ha/internal/web"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	store := mapping.NewStore(log, cfg.Bridge.MappingsFile)
	if err := store.Load(); err != nil {
		log.With(logger.Fields{"module": "mapping"}).Errorf("failed to load mappings: %v", err)
		os.Exit(1)
	}

	var sink bridge.Connector
	switch cfg.Sink.Type {
	case config.SinkMQTT:
		sink = clientmqtt.NewClient(log, cfg.MQTT)
	default:
		sink = clientha.NewClient(log, cfg.HA)
	}
	log.With(logger.Fields{"module": "bridge"}).Debugf("sink %s selected", cfg.Sink.Type)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	b := bridge.New(ctx, log, cfg, store, sink)

	srv := web.NewServer(log, b, store, cfg, configFile)
	if cfg.Web.Listen != "" {
		go func() {
			if err := srv.Start(cfg.Web.Listen); err != nil {
				log.With(logger.Fields{"module": "web"}).Errorf("api server: %v", err)
			}
		}()
	}

	if err := b.Start(); err != nil {
		log.Error("failed to start bridge:", err.Error())
		// With the API up the bridge can be started again later;
		// without it there is nothing left to run.
		if cfg.Web.Listen == "" {
			cancel()
		}
	}

	<-ctx.Done()

	b.Stop()

	if err := srv.Stop(context.Background()); err != nil {
		log.Error("failed to stop API server:", err.Error())
	}

	log.Info("shutdown complete")
}
