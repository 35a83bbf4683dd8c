// Finsgate - Omron FINS gateway daemon
//
// Polls FINS controllers over UDP or TCP and republishes tag values to
// MQTT, Valkey, and Kafka, with a REST API for ad-hoc access.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvasquez01/pyomron-fins/config"
	"github.com/dvasquez01/pyomron-fins/gateway"
	"github.com/dvasquez01/pyomron-fins/kafka"
	"github.com/dvasquez01/pyomron-fins/logging"
	"github.com/dvasquez01/pyomron-fins/mqtt"
	"github.com/dvasquez01/pyomron-fins/valkey"
	"github.com/dvasquez01/pyomron-fins/www"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	logPath := flag.String("log", "", "Path to application log file (disabled when empty)")
	debugLog := flag.String("debug-log", "", "Path to debug log file (disabled when empty)")
	debugFilter := flag.String("debug-filter", "", "Comma-separated protocol filter for debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("finsgate %s\n", Version)
		os.Exit(0)
	}

	if *debugLog != "" {
		logger, err := logging.NewDebugLogger(*debugLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening debug log: %v\n", err)
			os.Exit(1)
		}
		logger.SetFilter(*debugFilter)
		logging.SetGlobalDebugLogger(logger)
		defer logger.Close()
	}

	var appLog *logging.FileLogger
	if *logPath != "" {
		l, err := logging.NewFileLogger(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		appLog = l
		defer appLog.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	appLog.Log("finsgate %s starting, config %s, %d PLCs", Version, *configPath, len(cfg.PLCs))

	manager := gateway.NewManager(cfg.PollRate)
	manager.LoadFromConfig(cfg)

	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	kafkaMgr := kafka.NewManager(cfg.Namespace)
	kafkaMgr.LoadFromConfig(cfg.Kafka)

	// Fan polled changes out to every publisher. Each sink runs in its own
	// goroutine so a slow broker cannot stall the others.
	manager.SetOnValueChange(func(changes []gateway.ValueChange) {
		changesCopy := make([]gateway.ValueChange, len(changes))
		copy(changesCopy, changes)

		if mqttMgr.AnyRunning() {
			go func() {
				for _, c := range changesCopy {
					mqttMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value, true)
				}
			}()
		}

		if valkeyMgr.AnyRunning() {
			go func() {
				for _, c := range changesCopy {
					valkeyMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value)
				}
			}()
		}

		if kafkaMgr.AnyConnected() {
			go func() {
				for _, c := range changesCopy {
					kafkaMgr.PublishTagChange(c.PLCName, c.TagName, c.Address, c.Value)
				}
			}()
		}
	})

	// Health fan-out: controller online/offline transitions go to the sinks
	// that track health, and to the application log.
	manager.SetOnStatusChange(func(plcName string, online bool, status, errMsg string) {
		appLog.Log("PLC %s: %s %s", plcName, status, errMsg)
		if valkeyMgr.AnyRunning() {
			valkeyMgr.PublishHealth(plcName, online, status, errMsg)
		}
		if kafkaMgr.AnyConnected() {
			kafkaMgr.PublishHealth(plcName, online, status, errMsg)
		}
	})

	writeHandler := func(plcName, tagName string, values []uint16) error {
		return manager.WriteTag(plcName, tagName, values)
	}
	writeValidator := func(plcName, tagName string) bool {
		return manager.IsTagWritable(plcName, tagName)
	}

	mqttMgr.SetWriteHandler(writeHandler)
	mqttMgr.SetWriteValidator(writeValidator)

	// Valkey write requests arrive as decoded JSON; convert to words before
	// handing off.
	valkeyMgr.SetWriteHandler(func(plcName, tagName string, value interface{}) error {
		words, err := mqtt.WordsFromJSON(value)
		if err != nil {
			return err
		}
		return manager.WriteTag(plcName, tagName, words)
	})
	valkeyMgr.SetWriteValidator(writeValidator)

	// Kafka write requests arrive the same way.
	kafkaMgr.SetWriteHandler(func(plcName, tagName string, value interface{}) error {
		words, err := mqtt.WordsFromJSON(value)
		if err != nil {
			return err
		}
		return manager.WriteTag(plcName, tagName, words)
	})
	kafkaMgr.SetWriteValidator(writeValidator)

	plcNames := make([]string, len(cfg.PLCs))
	for i, plc := range cfg.PLCs {
		plcNames[i] = plc.Name
	}
	mqttMgr.SetPLCNames(plcNames)

	manager.Start()
	manager.ConnectEnabled()

	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			// Initial sync: push everything already polled
			for _, c := range manager.GetAllCurrentValues() {
				mqttMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value, true)
			}
		}
	}()

	go func() {
		if started := valkeyMgr.StartAll(); started > 0 {
			for _, c := range manager.GetAllCurrentValues() {
				valkeyMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value)
			}
		}
	}()

	go func() {
		kafkaMgr.ConnectEnabled()
		kafkaMgr.StartConsumers()
	}()

	var httpServer *http.Server
	if cfg.Web.Enabled {
		httpServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
			Handler: www.NewRouter(manager),
		}
		go func() {
			fmt.Printf("REST API listening on %s\n", httpServer.Addr)
			appLog.Log("REST API listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "HTTP server error: %v\n", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	sigReceived := <-sig

	fmt.Println("Shutting down...")
	appLog.Log("received %s, shutting down", sigReceived)

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(ctx)
		cancel()
	}

	manager.Stop()
	manager.DisconnectAll()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.Shutdown()
}
