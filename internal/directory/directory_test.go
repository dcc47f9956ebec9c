package directory

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/healthrank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore() *Store {
	s := NewStore()
	s.Put(models.Device{ID: "dev-1", Latitude: -12.2, Longitude: -38.9, Sensors: []models.Sensor{
		{ID: "s-temp", Type: "temp", Value: 36},
		{ID: "s-hr", Type: "hr", Value: 80},
	}})
	s.Put(models.Device{ID: "dev-2", Sensors: []models.Sensor{{ID: "s-temp", Type: "temp", Value: 39}}})
	return s
}

func TestClientServerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewServer(seededStore()).Handler())
	defer srv.Close()
	c := NewClient(srv.URL+"/", time.Second)

	devices, err := c.FetchConnectedDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev-1", devices[0].ID)
	assert.Equal(t, []string{"temp", "hr"}, devices[0].SensorTypes())
	assert.InDelta(t, -12.2, devices[0].Latitude, 0.0001)

	v, err := c.SensorValue(context.Background(), "dev-1", "s-hr")
	require.NoError(t, err)
	assert.Equal(t, 80, v)
}

func TestClientUnknownSensor(t *testing.T) {
	srv := httptest.NewServer(NewServer(seededStore()).Handler())
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.SensorValue(context.Background(), "dev-2", "s-hr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = c.SensorValue(context.Background(), "nope", "s-temp")
	assert.Error(t, err)
}

func TestClientBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).FetchConnectedDevices(context.Background())
	assert.Error(t, err)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 200*time.Millisecond).FetchConnectedDevices(context.Background())
	assert.Error(t, err)
}

func TestServerRejectsOtherMethods(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewStore()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/devices", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStoreRecord(t *testing.T) {
	s := seededStore()

	s.Record("dev-1", "temp", 38)
	s.Record("dev-3", "spo2", 97)

	v, err := s.Value("dev-1", "s-temp")
	require.NoError(t, err)
	assert.Equal(t, 38, v)

	devices := s.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "dev-3", devices[2].ID)
	assert.Equal(t, []models.Sensor{{ID: "spo2", Type: "spo2", Value: 97}}, devices[2].Sensors)
}

func TestStoreSnapshotIsIsolated(t *testing.T) {
	s := seededStore()

	devices := s.Devices()
	devices[0].Sensors[0].Value = 0

	v, _ := s.Value("dev-1", "s-temp")
	assert.Equal(t, 36, v)
}

func TestParseReading(t *testing.T) {
	r, err := ParseReading(" dev-1, temp , 36.8\r")
	require.NoError(t, err)
	assert.Equal(t, Reading{DeviceID: "dev-1", SensorType: "temp", Value: 36}, r)

	for _, line := range []string{"dev-1,temp", "dev-1,temp,hot", ",temp,3", "a,b,c,d"} {
		_, err := ParseReading(line)
		assert.ErrorIs(t, err, ErrBadReading, line)
	}
}

func TestFeed(t *testing.T) {
	s := NewStore()
	src := strings.NewReader("dev-1,temp,36\ngarbage\n\ndev-1,hr,72\ndev-2,temp,40\n")

	require.NoError(t, Feed(src, s))

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, []string{"temp", "hr"}, devices[0].SensorTypes())
	v, _ := s.Value("dev-2", "temp")
	assert.Equal(t, 40, v)
}

func TestSimulate(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Simulate(ctx, s, []string{"a", "b"}, []string{"temp"}, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(s.Devices()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	v, err := s.Value("a", "temp")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 20)
	assert.Less(t, v, 100)
}

func TestServeOutlivesFeed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)
	go func() {
		served <- NewServer(store).Serve(ctx, ln, func(context.Context) error {
			return Feed(strings.NewReader("dev-1,temp,37\n"), store)
		})
	}()

	url := "http://" + ln.Addr().String() + "/devices/dev-1/sensors/temp"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Expected Serve to return after cancel")
	}
}
