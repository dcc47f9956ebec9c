//go:build !no_serial
// +build !no_serial

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
	"github.com/tarm/serial"
)

func main() {
	port := flag.String("port", "/dev/tty.usbmodem14101", "serial port of the sensor board")
	baud := flag.Int("baud", 9600, "serial baud rate")
	httpPort := flag.Int("http", 8000, "HTTP port of the device directory")
	sim := flag.Bool("sim", true, "simulate sensors instead of reading serial")
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
	var feed func(ctx context.Context) error
	if *sim {
		log.Printf("[Directory] Simulating %s with %s", *devices, *sensors)
		feed = func(ctx context.Context) error {
			directory.Simulate(ctx, store, strings.Split(*devices, ","), strings.Split(*sensors, ","), time.Second)
			return nil
		}
	} else {
		s, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud})
		if err != nil {
			log.Fatalf("open serial: %v", err)
		}
		defer s.Close()
		log.Printf("[Directory] Reading sensor feed from %s", *port)
		feed = func(context.Context) error {
			return directory.Feed(s, store)
		}
	}

	if err := directory.NewServer(store).Serve(ctx, ln, feed); err != nil {
		log.Printf("http server error: %v", err)
	}
	log.Printf("[Directory] Shutting down...")
}
