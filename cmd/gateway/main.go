package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/healthrank/internal/aggregation"
	"github.com/healthrank/internal/api"
	"github.com/healthrank/internal/catalog"
	"github.com/healthrank/internal/config"
	"github.com/healthrank/internal/directory"
	"github.com/healthrank/internal/ledger"
	"github.com/healthrank/internal/metrics"
	"github.com/healthrank/internal/mqttclient"
	"github.com/healthrank/internal/router"
	"github.com/healthrank/internal/score"
	"github.com/healthrank/internal/topology"
	"github.com/healthrank/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway YAML config")
	nodeID := flag.String("node_id", "", "gateway identifier (overrides config)")
	broker := flag.String("broker", "", "own MQTT broker URL (overrides config)")
	parent := flag.String("parent", "", "parent MQTT broker URL, empty for the root (overrides config)")
	advertise := flag.String("advertise", "", "host:port of the own broker announced to the parent (overrides config)")
	children := flag.String("children", "", "comma separated child broker addresses (overrides config)")
	port := flag.Int("port", -1, "HTTP port for the query API, 0 disables (overrides config)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *broker != "" {
		cfg.Broker.URL = *broker
	}
	if *parent != "" {
		cfg.Parent.URL = *parent
	}
	if *advertise != "" {
		cfg.AdvertiseAddr = *advertise
	}
	if *children != "" {
		cfg.Children = strings.Split(*children, ",")
		cfg.HasChildren = true
	}
	if *port >= 0 {
		cfg.HTTP.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	log.Printf("Starting gateway %s (broker=%s, parent=%q, timeout=%s)", cfg.NodeID, cfg.Broker.URL, cfg.Parent.URL, cfg.Timeout())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	host, err := mqttclient.New(mqttclient.Options{
		BrokerURL: cfg.Broker.URL,
		ClientID:  fmt.Sprintf("healthrank-%s-%d", cfg.NodeID, time.Now().UnixNano()),
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
	})
	if err != nil {
		log.Fatalf("MQTT client error: %v", err)
	}
	defer host.Close()

	// a nil *mqttclient.Client must not reach the router as a non-nil Bus
	var up router.Bus
	if !cfg.IsRoot() {
		parentClient, err := mqttclient.New(mqttclient.Options{
			BrokerURL: cfg.Parent.URL,
			ClientID:  fmt.Sprintf("healthrank-%s-up-%d", cfg.NodeID, time.Now().UnixNano()),
			Username:  cfg.Broker.Username,
			Password:  cfg.Broker.Password,
		})
		if err != nil {
			log.Fatalf("Parent MQTT client error: %v", err)
		}
		defer parentClient.Close()
		up = parentClient
	}

	topo := topology.New(cfg.Children)
	topo.OnChange(rec.SetChildren)
	l := ledger.New()
	calc := score.New(directory.NewClient(cfg.Directory.URL, cfg.Directory.Timeout), cfg.Debug)
	down := &mqttclient.Dialer{
		ClientPrefix: "healthrank-" + cfg.NodeID,
		Username:     cfg.Broker.Username,
		Password:     cfg.Broker.Password,
		Timeout:      5 * time.Second,
	}

	opts := aggregation.Options{Timeout: cfg.Timeout(), Debug: cfg.Debug, Metrics: rec}
	engine := aggregation.NewEngine(l, topo, calc, down, opts)
	discovery := aggregation.NewDiscovery(l, topo, calc, down, catalog.New(), opts)

	svc := router.New(host, up, engine, discovery, l, topo, router.Options{
		NodeID:        cfg.NodeID,
		HasChildren:   cfg.HasChildren,
		AdvertiseAddr: cfg.AdvertiseAddr,
		Debug:         cfg.Debug,
		Metrics:       rec,
	})
	if err := svc.Start(); err != nil {
		log.Fatalf("Router error: %v", err)
	}
	log.Printf("[%s] Router started (root=%t, children=%d)", cfg.NodeID, cfg.IsRoot(), topo.Count())

	if cfg.HTTP.Port > 0 {
		hub := websocket.NewHub(host)
		go hub.Run()
		defer hub.Stop()

		httpAPI := api.New(cfg.NodeID, svc, topo, hub, reg)
		go func() {
			if err := httpAPI.StartHTTP(cfg.HTTP.Port); err != nil {
				log.Fatalf("http server error: %v", err)
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Printf("[%s] Shutting down...", cfg.NodeID)
	svc.Stop()
}
