package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/adapters/miio"
	"github.com/hearth-home/hearth-backend-go/internal/adapters/qube"
	"github.com/hearth-home/hearth-backend-go/internal/adapters/shelly"
	"github.com/hearth-home/hearth-backend-go/internal/adapters/zha"
	"github.com/hearth-home/hearth-backend-go/internal/api"
	"github.com/hearth-home/hearth-backend-go/internal/api/handlers"
	"github.com/hearth-home/hearth-backend-go/internal/config"
	"github.com/hearth-home/hearth-backend-go/internal/core/backup"
	"github.com/hearth-home/hearth-backend-go/internal/core/entities"
	"github.com/hearth-home/hearth-backend-go/internal/core/metrics"
	"github.com/hearth-home/hearth-backend-go/internal/core/system"
	"github.com/hearth-home/hearth-backend-go/internal/core/types"
	"github.com/hearth-home/hearth-backend-go/internal/database"
	"github.com/hearth-home/hearth-backend-go/internal/llmtools"
	"github.com/hearth-home/hearth-backend-go/internal/mqtt"
	"github.com/hearth-home/hearth-backend-go/internal/websocket"
	"github.com/hearth-home/hearth-backend-go/internal/zigbee"
	"github.com/hearth-home/hearth-backend-go/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	logger.SetLevel(log, cfg.Logging.Level)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	repos := database.NewRepositories(db)
	collector := metrics.NewCollector()

	hub := websocket.NewHub(log)
	go hub.Run()

	entityService := entities.NewService(repos.Entity, log)
	ctx := context.Background()
	if err := entityService.Restore(ctx); err != nil {
		log.WithError(err).Warn("Entity restore failed, starting empty")
	}

	// State changes fan out to WebSocket clients.
	entityService.OnStateChange(func(change types.StateChange) {
		hub.Broadcast(websocket.StateChangeMessage(change))
	})

	gateway := startZigbee(ctx, cfg, repos, entityService, hub, log)
	startAdapters(ctx, cfg, entityService, log)

	runner := entities.NewSyncRunner(entityService,
		time.Duration(cfg.Server.SyncInterval)*time.Second, log)
	runner.OnSourceSynced = func(source types.Source, count int) {
		collector.SetEntityCount(string(source), count)
	}
	if err := runner.Start(ctx); err != nil {
		log.Fatal("Failed to start entity sync: ", err)
	}
	defer runner.Stop()

	mqttPublisher := startMQTT(cfg, entityService, log)
	if mqttPublisher != nil {
		defer mqttPublisher.Stop()
	}

	backupService := backup.NewService(cfg.Database.Path, cfg.Backup.Path,
		cfg.Backup.Schedule, cfg.Backup.MaxCount, log)
	if cfg.Backup.Enabled {
		if err := backupService.Start(); err != nil {
			log.WithError(err).Error("Backup scheduling failed")
		} else {
			defer backupService.Stop()
		}
	}

	systemService := system.NewService(cfg.Database.Path, log)

	registry := llmtools.NewRegistry()
	if err := registry.AddAPI(llmtools.BuildHearthAPI(entityService)); err != nil {
		log.Fatal("Failed to register hearth tools: ", err)
	}
	if gateway != nil {
		if err := registry.AddAPI(llmtools.BuildZigbeeAPI(gateway)); err != nil {
			log.Fatal("Failed to register zigbee tools: ", err)
		}
	}

	h := handlers.New(cfg, entityService, gateway, hub, systemService, backupService, repos.Config, log)
	router := api.NewRouter(cfg, h, collector, hub, registry, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Hearth backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}

	for _, adapter := range entityService.Adapters() {
		if err := adapter.Disconnect(shutdownCtx); err != nil {
			log.WithError(err).WithField("adapter", adapter.GetID()).Warn("Adapter disconnect failed")
		}
	}
	if gateway != nil {
		if err := gateway.Stop(); err != nil {
			log.WithError(err).Warn("Gateway stop failed")
		}
	}
	hub.Stop()
	log.Info("Shutdown complete")
}

// startZigbee brings up the gateway when a radio driver is available.
// The radio stack is an external collaborator; without one the zigbee
// surface stays off and the rest of the hub runs normally.
func startZigbee(ctx context.Context, cfg *config.Config, repos *database.Repositories, entityService *entities.Service, hub *websocket.Hub, log *logrus.Logger) *zigbee.Gateway {
	if !cfg.Zigbee.Enabled {
		return nil
	}
	radio, err := newRadio(cfg.Zigbee, log)
	if err != nil {
		log.WithError(err).Error("Zigbee enabled but no radio available, continuing without it")
		return nil
	}

	registry := zigbee.NewClusterRegistry()
	if cfg.Zigbee.EnableQuirks && cfg.Zigbee.QuirksPath != "" {
		if err := registry.LoadQuirksFile(cfg.Zigbee.QuirksPath); err != nil {
			log.WithError(err).Warn("Failed to load zigbee quirks, continuing without them")
		}
	}

	gateway := zigbee.NewGateway(radio, registry,
		repos.ZigbeeDevice, repos.ZigbeeGroup, log)
	gateway.OnDeviceChange(func(device *zigbee.Device, joined bool) {
		if joined {
			hub.Broadcast(websocket.DeviceJoinedMessage(device.IEEE, device.Manufacturer, device.Model))
		} else {
			hub.Broadcast(websocket.DeviceLeftMessage(device.IEEE))
		}
	})

	if err := gateway.Start(ctx); err != nil {
		log.WithError(err).Error("Zigbee gateway start failed")
		return nil
	}

	adapter := zha.NewAdapter(gateway, log)
	if err := adapter.Connect(ctx); err != nil {
		log.WithError(err).Error("Zigbee adapter connect failed")
	} else {
		entityService.RegisterAdapter(adapter)
	}
	return gateway
}

func startAdapters(ctx context.Context, cfg *config.Config, entityService *entities.Service, log *logrus.Logger) {
	if cfg.Shelly.Enabled {
		adapter := shelly.NewAdapter(shelly.Config{
			Enabled:          true,
			DiscoveryEnabled: cfg.Shelly.DiscoveryEnabled,
			Hosts:            cfg.Shelly.Hosts,
			Password:         cfg.Shelly.Password,
			PollInterval:     cfg.Shelly.PollInterval,
		}, log)
		connectAdapter(ctx, adapter, entityService, log)
	}

	if cfg.Miio.Enabled {
		devices := make([]miio.DeviceConfig, 0, len(cfg.Miio.Devices))
		for _, d := range cfg.Miio.Devices {
			devices = append(devices, miio.DeviceConfig{
				Name:  d.Name,
				Host:  d.Host,
				Token: d.Token,
				Model: d.Model,
			})
		}
		adapter, err := miio.NewAdapter(miio.Config{
			Enabled:      true,
			PollInterval: cfg.Miio.PollInterval,
			Devices:      devices,
		}, log)
		if err != nil {
			log.WithError(err).Error("Miio adapter setup failed")
		} else {
			connectAdapter(ctx, adapter, entityService, log)
		}
	}

	if cfg.Qube.Enabled {
		qubeHub, err := qube.NewHub(cfg.Qube.Host, cfg.Qube.Port, uint8(cfg.Qube.UnitID), log)
		if err != nil {
			log.WithError(err).Error("Qube hub setup failed")
		} else {
			adapter := qube.NewAdapter(qubeHub,
				time.Duration(cfg.Qube.PollInterval)*time.Second, log)
			connectAdapter(ctx, adapter, entityService, log)
		}
	}
}

func connectAdapter(ctx context.Context, adapter types.Adapter, entityService *entities.Service, log *logrus.Logger) {
	if err := adapter.Connect(ctx); err != nil {
		log.WithError(err).WithField("adapter", adapter.GetID()).Error("Adapter connect failed")
		return
	}
	entityService.RegisterAdapter(adapter)
}

func startMQTT(cfg *config.Config, entityService *entities.Service, log *logrus.Logger) *mqtt.Publisher {
	if !cfg.MQTT.Enabled {
		return nil
	}

	broker := cfg.MQTT.Broker
	if cfg.MQTT.Username != "" {
		if u, err := url.Parse(broker); err == nil {
			u.User = url.UserPassword(cfg.MQTT.Username, cfg.MQTT.Password)
			broker = u.String()
		}
	}

	client, err := mqtt.NewClient(broker, cfg.MQTT.ClientID, log)
	if err != nil {
		log.WithError(err).Error("MQTT connect failed, continuing without it")
		return nil
	}

	publisher := mqtt.NewPublisher(client, entityService.ExecuteAction, mqtt.Options{
		BaseTopic:       cfg.MQTT.BaseTopic,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}, log)
	if err := publisher.Start(); err != nil {
		log.WithError(err).Error("MQTT publisher start failed")
		client.Close()
		return nil
	}

	entityService.OnStateChange(func(change types.StateChange) {
		if err := publisher.PublishChange(change); err != nil {
			log.WithError(err).WithField("entity", change.EntityID).Debug("MQTT state publish failed")
		}
	})
	return publisher
}
