// Package influx exports drift events and packet counters to InfluxDB.
// Writes go through the non-blocking batched API; errors surface on a
// callback channel and are logged, never propagated to the show.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesyncd/internal/timing"
)

const connectTimeout = 10 * time.Second

// Writer wraps the InfluxDB v2 client.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect creates the client, verifies connectivity with a ping and sets
// up the async error drain.
func Connect(url, token, org, bucket string) (*Writer, error) {
	client := influxdb2.NewClientWithOptions(
		url,
		token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(10_000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	writeAPI := client.WriteAPI(org, bucket)
	w := &Writer{client: client, writeAPI: writeAPI}

	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB async write failed")
		}
	}()

	log.Info().Str("url", url).Str("bucket", bucket).Msg("InfluxDB connected")
	return w, nil
}

// WriteDrift records one cue drift observation.
func (w *Writer) WriteDrift(label string, driftMS float64) {
	point := write.NewPoint(
		"cue_drift",
		map[string]string{
			"label":    label,
			"severity": string(timing.Classify(driftMS)),
		},
		map[string]interface{}{
			"drift_ms": driftMS,
		},
		time.Now(),
	)
	w.writeAPI.WritePoint(point)
}

// WriteSnapshot records the counter state of a metrics snapshot.
func (w *Writer) WriteSnapshot(snap timing.Snapshot) {
	point := write.NewPoint(
		"timing_counters",
		nil,
		map[string]interface{}{
			"cue_count":        snap.CueCount,
			"cues_drifted":     snap.CuesDrifted,
			"cue_drift_max_ms": snap.CueDriftMaxMS,
			"packets_ok":       snap.PacketsOK,
			"packets_err":      snap.PacketsErr,
		},
		time.Now(),
	)
	w.writeAPI.WritePoint(point)
}

// Close flushes pending points and shuts the client down.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}
