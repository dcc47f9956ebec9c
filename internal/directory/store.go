package directory

import (
	"errors"
	"sync"

	"github.com/healthrank/internal/models"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownSensor = errors.New("unknown sensor")
)

// Store keeps the attached devices in memory, in registration order.
type Store struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*models.Device
}

func NewStore() *Store {
	return &Store{devices: make(map[string]*models.Device)}
}

// Put registers or replaces a device.
func (s *Store) Put(d models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	cp := d
	cp.Sensors = append([]models.Sensor(nil), d.Sensors...)
	s.devices[d.ID] = &cp
}

// Devices returns a snapshot of every device.
func (s *Store) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Device, 0, len(s.order))
	for _, id := range s.order {
		d := *s.devices[id]
		d.Sensors = append([]models.Sensor(nil), d.Sensors...)
		out = append(out, d)
	}
	return out
}

// Record stores a reading for the sensor of the given type, adding the
// sensor (and the device) when they are not known yet.
func (s *Store) Record(deviceID, sensorType string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		d = &models.Device{ID: deviceID}
		s.devices[deviceID] = d
		s.order = append(s.order, deviceID)
	}
	if sensor, ok := d.SensorByType(sensorType); ok {
		sensor.Value = value
		return
	}
	d.Sensors = append(d.Sensors, models.Sensor{ID: sensorType, Type: sensorType, Value: value})
}

// Value returns the last reading of a sensor.
func (s *Store) Value(deviceID, sensorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return 0, ErrUnknownDevice
	}
	for _, sensor := range d.Sensors {
		if sensor.ID == sensorID {
			return sensor.Value, nil
		}
	}
	return 0, ErrUnknownSensor
}
