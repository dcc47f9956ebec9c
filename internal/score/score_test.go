package score

import (
	"context"
	"errors"
	"testing"

	"github.com/healthrank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	devices  []models.Device
	values   map[string]int
	fetchErr error
}

func (f *fakeDirectory) FetchConnectedDevices(ctx context.Context) ([]models.Device, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Device, len(f.devices))
	for i, d := range f.devices {
		d.Sensors = append([]models.Sensor(nil), d.Sensors...)
		out[i] = d
	}
	return out, nil
}

func (f *fakeDirectory) SensorValue(ctx context.Context, deviceID, sensorID string) (int, error) {
	v, ok := f.values[deviceID+"/"+sensorID]
	if !ok {
		return 0, errors.New("no live value")
	}
	return v, nil
}

func device(id string, sensors ...models.Sensor) models.Device {
	return models.Device{ID: id, Sensors: sensors}
}

func TestScore_WeightedMean(t *testing.T) {
	calc := New(nil, false)
	d := device("D", models.Sensor{ID: "s1", Type: "temp", Value: 80}, models.Sensor{ID: "s2", Type: "hr", Value: 60})

	got, err := calc.Score(context.Background(), &d, []models.Criterion{{Sensor: "temp", Weight: 1}, {Sensor: "hr", Weight: 1}})

	require.NoError(t, err)
	assert.Equal(t, 70, got)
}

func TestScore_TruncatesTowardZero(t *testing.T) {
	calc := New(nil, false)
	d := device("D", models.Sensor{ID: "s1", Type: "temp", Value: 10}, models.Sensor{ID: "s2", Type: "hr", Value: 1})

	got, err := calc.Score(context.Background(), &d, []models.Criterion{{Sensor: "temp", Weight: 2}, {Sensor: "hr", Weight: 1}})
	require.NoError(t, err)
	assert.Equal(t, 7, got) // 21 / 3

	neg := device("N", models.Sensor{ID: "s1", Type: "temp", Value: -7})
	got, err = calc.Score(context.Background(), &neg, []models.Criterion{{Sensor: "temp", Weight: 2}})
	require.NoError(t, err)
	assert.Equal(t, -7, got)
}

func TestScore_UsesLiveValue(t *testing.T) {
	dir := &fakeDirectory{values: map[string]int{"D/s1": 90}}
	calc := New(dir, false)
	d := device("D", models.Sensor{ID: "s1", Type: "temp", Value: 10})

	got, err := calc.Score(context.Background(), &d, []models.Criterion{{Sensor: "temp", Weight: 3}})

	require.NoError(t, err)
	assert.Equal(t, 90, got)
}

func TestScore_MissingSensorType(t *testing.T) {
	calc := New(nil, false)
	d := device("D", models.Sensor{ID: "s1", Type: "temp", Value: 80})

	_, err := calc.Score(context.Background(), &d, []models.Criterion{{Sensor: "spo2", Weight: 1}})

	assert.True(t, errors.Is(err, ErrMissingSensorType))
}

func TestCalculateScores_MissingTypeYieldsEmptyMap(t *testing.T) {
	calc := New(nil, false)
	devices := []models.Device{device("D", models.Sensor{ID: "s1", Type: "temp", Value: 80})}

	got := calc.CalculateScores(context.Background(), devices, []models.Criterion{{Sensor: "spo2", Weight: 1}}, nil)

	assert.Equal(t, 0, got.Len())
}

func TestCalculateScores_CriteriaSizeMismatch(t *testing.T) {
	calc := New(nil, false)
	devices := []models.Device{
		device("D", models.Sensor{ID: "s1", Type: "temp", Value: 80}, models.Sensor{ID: "s2", Type: "hr", Value: 60}),
	}

	got := calc.CalculateScores(context.Background(), devices, []models.Criterion{{Sensor: "temp", Weight: 1}}, nil)

	assert.Equal(t, 0, got.Len())
}

func TestCalculateScores_AnyDeviceMissingTypeRejectsAll(t *testing.T) {
	calc := New(nil, false)
	devices := []models.Device{
		device("D1", models.Sensor{ID: "s1", Type: "temp", Value: 80}),
		device("D2", models.Sensor{ID: "s1", Type: "hr", Value: 60}),
	}

	got := calc.CalculateScores(context.Background(), devices, []models.Criterion{{Sensor: "temp", Weight: 1}}, nil)

	assert.Equal(t, 0, got.Len())
}

func TestCalculateScores_OrderAndAllowList(t *testing.T) {
	calc := New(nil, false)
	devices := []models.Device{
		device("D1", models.Sensor{ID: "s1", Type: "temp", Value: 80}),
		device("D2", models.Sensor{ID: "s1", Type: "temp", Value: 60}),
		device("D3", models.Sensor{ID: "s1", Type: "temp", Value: 70}),
	}
	criteria := []models.Criterion{{Sensor: "temp", Weight: 1}}

	all := calc.CalculateScores(context.Background(), devices, criteria, nil)
	assert.Equal(t, []string{"D1", "D2", "D3"}, all.Keys())

	some := calc.CalculateScores(context.Background(), devices, criteria, []string{"D3", "D1"})
	assert.Equal(t, []string{"D1", "D3"}, some.Keys())
}

func TestLocalScores_DirectoryFailureIsEmpty(t *testing.T) {
	calc := New(&fakeDirectory{fetchErr: errors.New("connection refused")}, true)

	got := calc.LocalScores(context.Background(), []models.Criterion{{Sensor: "temp", Weight: 1}}, nil)

	assert.Equal(t, 0, got.Len())
	assert.Empty(t, calc.LocalSensorTypes(context.Background()))
}

func TestLocalSensorTypes_FirstDeviceIsCatalog(t *testing.T) {
	dir := &fakeDirectory{devices: []models.Device{
		device("D1", models.Sensor{ID: "a", Type: "temp"}, models.Sensor{ID: "b", Type: "hr"}),
		device("D2", models.Sensor{ID: "c", Type: "spo2"}),
	}}
	calc := New(dir, false)

	assert.Equal(t, []string{"temp", "hr"}, calc.LocalSensorTypes(context.Background()))
}

func TestValidateCriteria(t *testing.T) {
	assert.NoError(t, ValidateCriteria([]models.Criterion{{Sensor: "temp", Weight: 1}}))
	assert.ErrorIs(t, ValidateCriteria(nil), ErrInvalidCriteria)
	assert.ErrorIs(t, ValidateCriteria([]models.Criterion{{Sensor: "temp", Weight: 0}}), ErrInvalidCriteria)
	assert.ErrorIs(t, ValidateCriteria([]models.Criterion{{Sensor: "", Weight: 2}}), ErrInvalidCriteria)
}
