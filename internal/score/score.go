// Package score computes weighted health scores for the devices attached to
// a gateway.
package score

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/healthrank/internal/models"
	"github.com/healthrank/internal/topk"
)

var (
	// ErrMissingSensorType is returned when a device has no sensor of a type
	// named by the health function.
	ErrMissingSensorType = errors.New("missing sensor type")
	// ErrInvalidCriteria is returned for empty sensor names or non-positive weights.
	ErrInvalidCriteria = errors.New("invalid health function")
)

// Directory is the part of the Device Directory the calculator needs.
type Directory interface {
	FetchConnectedDevices(ctx context.Context) ([]models.Device, error)
	SensorValue(ctx context.Context, deviceID, sensorID string) (int, error)
}

type Calculator struct {
	dir   Directory
	debug bool
}

func New(dir Directory, debug bool) *Calculator {
	return &Calculator{dir: dir, debug: debug}
}

// ValidateCriteria rejects health functions that cannot produce a score.
func ValidateCriteria(criteria []models.Criterion) error {
	if len(criteria) == 0 {
		return fmt.Errorf("%w: no criteria", ErrInvalidCriteria)
	}
	for i, c := range criteria {
		if c.Sensor == "" {
			return fmt.Errorf("%w: criterion %d has no sensor", ErrInvalidCriteria, i)
		}
		if c.Weight <= 0 {
			return fmt.Errorf("%w: criterion %d (%s) has weight %d", ErrInvalidCriteria, i, c.Sensor, c.Weight)
		}
	}
	return nil
}

// Score refreshes the sensors named by criteria and returns the weighted
// mean of their values, truncated toward zero.
func (c *Calculator) Score(ctx context.Context, device *models.Device, criteria []models.Criterion) (int, error) {
	sum, weightTotal := 0, 0
	for _, cr := range criteria {
		sensor, ok := device.SensorByType(cr.Sensor)
		if !ok {
			return 0, fmt.Errorf("%w: device %s has no %q sensor", ErrMissingSensorType, device.ID, cr.Sensor)
		}
		if c.dir != nil {
			v, err := c.dir.SensorValue(ctx, device.ID, sensor.ID)
			if err != nil {
				c.debugf("[Score] keeping last value of %s/%s: %v", device.ID, sensor.ID, err)
			} else {
				sensor.Value = v
			}
		}
		sum += sensor.Value * cr.Weight
		weightTotal += cr.Weight
	}
	if weightTotal == 0 {
		return 0, fmt.Errorf("%w: total weight is zero", ErrInvalidCriteria)
	}
	return sum / weightTotal, nil
}

// CalculateScores scores every device in devices. The sensor types of the
// first device are the catalog of the tree; a health function that does not
// match it exactly, or a device lacking one of its types, yields an empty map.
// A non-empty allow list restricts scoring to the listed device ids.
func (c *Calculator) CalculateScores(ctx context.Context, devices []models.Device, criteria []models.Criterion, allow []string) *topk.ScoreMap {
	scores := topk.NewScoreMap()
	if len(devices) == 0 {
		return scores
	}

	catalog := SensorTypes(devices)
	if len(catalog) != len(criteria) {
		c.debugf("[Score] health function has %d criteria, catalog has %d sensor types", len(criteria), len(catalog))
		return scores
	}
	known := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		known[t] = true
	}
	for _, cr := range criteria {
		if !known[cr.Sensor] {
			c.debugf("[Score] sensor type %q is not in the catalog", cr.Sensor)
			return scores
		}
	}

	allowed := make(map[string]bool, len(allow))
	for _, id := range allow {
		allowed[id] = true
	}

	for i := range devices {
		d := &devices[i]
		if len(allowed) > 0 && !allowed[d.ID] {
			continue
		}
		s, err := c.Score(ctx, d, criteria)
		if err != nil {
			log.Printf("[Score] rejecting health function: %v", err)
			return topk.NewScoreMap()
		}
		scores.Set(d.ID, s)
	}
	return scores
}

// LocalScores fetches the devices attached to this gateway and scores them.
// Directory failures leave the device list empty.
func (c *Calculator) LocalScores(ctx context.Context, criteria []models.Criterion, allow []string) *topk.ScoreMap {
	devices := c.loadDevices(ctx)
	return c.CalculateScores(ctx, devices, criteria, allow)
}

// LocalSensorTypes returns the sensor catalog of the attached devices.
func (c *Calculator) LocalSensorTypes(ctx context.Context) []string {
	return SensorTypes(c.loadDevices(ctx))
}

func (c *Calculator) loadDevices(ctx context.Context) []models.Device {
	if c.dir == nil {
		return nil
	}
	devices, err := c.dir.FetchConnectedDevices(ctx)
	if err != nil {
		c.debugf("[Score] fetching connected devices: %v", err)
		return nil
	}
	c.debugf("[Score] %d devices connected", len(devices))
	return devices
}

// SensorTypes returns the catalog of a device list: the sensor types of its
// first device.
func SensorTypes(devices []models.Device) []string {
	if len(devices) == 0 {
		return []string{}
	}
	return devices[0].SensorTypes()
}

func (c *Calculator) debugf(format string, args ...interface{}) {
	if c.debug {
		log.Printf(format, args...)
	}
}
