package directory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

var ErrBadReading = errors.New("bad reading")

// Reading is one line of the sensor feed.
type Reading struct {
	DeviceID   string
	SensorType string
	Value      int
}

// ParseReading parses "deviceId,sensorType,value". Decimal values are
// truncated.
func ParseReading(line string) (Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Reading{}, fmt.Errorf("%w: %q", ErrBadReading, line)
	}
	r := Reading{
		DeviceID:   strings.TrimSpace(parts[0]),
		SensorType: strings.TrimSpace(parts[1]),
	}
	if r.DeviceID == "" || r.SensorType == "" {
		return Reading{}, fmt.Errorf("%w: %q", ErrBadReading, line)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %q: %v", ErrBadReading, line, err)
	}
	r.Value = int(v)
	return r, nil
}

// Feed reads readings line by line until src is exhausted and records them
// in the store. Unparseable lines are logged and skipped.
func Feed(src io.Reader, store *Store) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := ParseReading(line)
		if err != nil {
			log.Printf("[Directory] Skipping line: %v", err)
			continue
		}
		store.Record(r.DeviceID, r.SensorType, r.Value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	return nil
}

// Simulate records a random reading for every device and sensor type on each
// tick until ctx is done.
func Simulate(ctx context.Context, store *Store, devices, sensorTypes []string, interval time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, d := range devices {
			for _, t := range sensorTypes {
				store.Record(d, t, 20+rng.Intn(80))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
