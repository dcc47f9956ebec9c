//go:build no_serial
// +build no_serial

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/healthrank/internal/directory"
)

func main() {
	httpPort := flag.Int("http", 8000, "HTTP port of the device directory")
	devices := flag.String("devices", "sensor_1,sensor_2,sensor_3", "simulated device ids")
	sensors := flag.String("sensors", "temperature,heartRate", "simulated sensor types")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *httpPort))
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	store := directory.NewStore()
	log.Printf("[Directory] Simulating %s with %s", *devices, *sensors)
	feed := func(ctx context.Context) error {
		directory.Simulate(ctx, store, strings.Split(*devices, ","), strings.Split(*sensors, ","), time.Second)
		return nil
	}
	if err := directory.NewServer(store).Serve(ctx, ln, feed); err != nil {
		log.Printf("http server error: %v", err)
	}
	log.Printf("[Directory] Shutting down...")
}
