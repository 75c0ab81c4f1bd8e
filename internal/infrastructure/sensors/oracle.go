// Package sensors provides the sensor oracle: the engine's view of the
// external telemetry devices whose readings modulate plan costs.
package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/domain/profile"
)

// Device identifiers registered with the virtual device layer.
const (
	DevicePower   = "power_sensor_001"
	DeviceThermal = "thermal_sensor_001"
	DeviceNetwork = "network_monitor_001"
	DeviceStorage = "storage_monitor_001"
)

// Status keys reported by the devices.
const (
	KeyPowerDraw   = "power_draw_watts"
	KeyTemperature = "temperature_celsius"
	KeyNetLatency  = "network_latency_ms"
	KeyNetBW       = "network_bandwidth_mbps"
	KeyIOThrough   = "io_throughput_mbps"
	KeyDataQuality = "data_quality"
)

// Oracle reads a device's status bundle. Implementations may fail; callers
// recover with defaults.
type Oracle interface {
	ReadDevice(ctx context.Context, deviceID string) (map[string]float64, error)
}

// HTTPOracle queries the virtual device layer over HTTP:
// GET {base}/devices/{id}/status returning a flat JSON object. Non-numeric
// fields are ignored.
type HTTPOracle struct {
	base   string
	client *http.Client
}

// NewHTTPOracle creates an oracle against the device layer at base
// (e.g. "http://127.0.0.1:8808").
func NewHTTPOracle(base string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPOracle{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

// ReadDevice fetches and decodes one device status bundle.
func (o *HTTPOracle) ReadDevice(ctx context.Context, deviceID string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/devices/%s/status", o.base, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device %s: status %d", deviceID, resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out, nil
}

// Collector gathers a full SensorContext from the oracle, substituting the
// tolerant defaults for any device or key that cannot be read. Collection
// never fails a task.
type Collector struct {
	oracle Oracle
	logger *zap.Logger
}

// NewCollector creates a collector. A nil oracle yields pure defaults.
func NewCollector(oracle Oracle, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{oracle: oracle, logger: logger.Named("sensors")}
}

// Gather reads the four telemetry devices and folds their values over the
// default context.
func (c *Collector) Gather(ctx context.Context) profile.SensorContext {
	sc := profile.DefaultSensorContext()
	if c.oracle == nil {
		return sc
	}

	if st, ok := c.read(ctx, DevicePower); ok {
		assign(st, KeyPowerDraw, &sc.PowerDrawWatts)
		assign(st, KeyDataQuality, &sc.DataQuality)
	}
	if st, ok := c.read(ctx, DeviceThermal); ok {
		assign(st, KeyTemperature, &sc.TemperatureCelsius)
	}
	if st, ok := c.read(ctx, DeviceNetwork); ok {
		assign(st, KeyNetLatency, &sc.NetworkLatencyMS)
		assign(st, KeyNetBW, &sc.NetworkBandwidthMbps)
	}
	if st, ok := c.read(ctx, DeviceStorage); ok {
		assign(st, KeyIOThrough, &sc.IOThroughputMBps)
	}
	return sc
}

func (c *Collector) read(ctx context.Context, deviceID string) (map[string]float64, bool) {
	st, err := c.oracle.ReadDevice(ctx, deviceID)
	if err != nil {
		c.logger.Warn("sensor unavailable, using defaults",
			zap.String("device", deviceID),
			zap.Error(err))
		return nil, false
	}
	return st, true
}

func assign(st map[string]float64, key string, dst *float64) {
	if v, ok := st[key]; ok {
		*dst = v
	}
}
