package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEntityState writes an entity's signal snapshot to InfluxDB.
//
// This is the primary method for recording entity telemetry. Each numeric,
// boolean, or string signal becomes a field on a single "entity_state"
// point tagged with the entity ID and its area. Signals of other types
// are skipped.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - entityID: Unique entity identifier (e.g., "bedroom_ceiling_light")
//   - area: Physical location tag (empty string omits the tag)
//   - values: Flattened signal snapshot (signal name -> value)
//   - ts: Timestamp of the state change
//
// Example:
//
//	client.WriteEntityState("fresh_water_tank", "utility_bay",
//	    map[string]any{"relative_level": 42.0, "fluid_type": "fresh_water"},
//	    time.Now())
func (c *Client) WriteEntityState(entityID, area string, values map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(values))
	for name, value := range values {
		switch v := value.(type) {
		case float64, float32, int, int64, uint64, bool, string:
			fields[name] = v
		}
	}
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{"entity_id": entityID}
	if area != "" {
		tags["area"] = area
	}

	point := write.NewPoint("entity_state", tags, fields, ts)
	c.writeAPI.WritePoint(point)
}

// WriteBridgeMetric writes a single bridge diagnostics counter.
//
// Used for recording pipeline counters (frames processed, decode failures,
// subscriber drops) alongside entity telemetry.
//
// Parameters:
//   - name: Counter name (e.g., "frames_processed")
//   - value: Current counter value
func (c *Client) WriteBridgeMetric(name string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge_metrics",
		map[string]string{
			"metric": name,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "rvlink-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
