package models

// Sensor is a single measuring point of a device. Value holds the last
// reading known to the gateway.
type Sensor struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// Device is a record returned by the Device Directory.
type Device struct {
	ID        string   `json:"id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Sensors   []Sensor `json:"sensors"`
}

// SensorByType returns the first sensor of the given type.
func (d *Device) SensorByType(sensorType string) (*Sensor, bool) {
	for i := range d.Sensors {
		if d.Sensors[i].Type == sensorType {
			return &d.Sensors[i], true
		}
	}
	return nil, false
}

// SensorTypes lists the sensor types of the device in declaration order.
func (d *Device) SensorTypes() []string {
	types := make([]string, 0, len(d.Sensors))
	for _, s := range d.Sensors {
		types = append(types, s.Type)
	}
	return types
}

// Criterion is one weighted term of a health function.
type Criterion struct {
	Sensor string `json:"sensor"`
	Weight int    `json:"weight"`
}
