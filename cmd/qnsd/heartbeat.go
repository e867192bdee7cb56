package main

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/qns-project/qns-core/pkg/logx"
	"github.com/qns-project/qns-core/pkg/utils"
)

// heartbeatData is the liveness snapshot written to /tmp/qnsd.health on
// every tick, for an external watchdog to poll without hitting the
// diagnostic API.
type heartbeatData struct {
	Timestamp  string  `json:"ts"`
	UptimeS    int64   `json:"uptime_s"`
	Version    string  `json:"version"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
}

const heartbeatFile = "/tmp/qnsd.health"

// writeHeartbeat periodically marshals a heartbeatData snapshot, publishes
// it atomically (temp file + rename) using pkg/utils' secure temp-file
// helper, and mirrors it to MQTT for
// subscribers that prefer a push feed over polling the health file.
func (d *Daemon) writeHeartbeat(ctx context.Context, ticker *time.Ticker, startTime time.Time, logger *logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("heartbeat writer stopped")
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			hb := heartbeatData{
				Timestamp:  time.Now().Format(time.RFC3339),
				UptimeS:    int64(time.Since(startTime).Seconds()),
				Version:    appVersion,
				MemMB:      float64(mem.Alloc) / 1024 / 1024,
				Goroutines: runtime.NumGoroutine(),
			}

			data, err := json.Marshal(hb)
			if err != nil {
				logger.Error("failed to marshal heartbeat data", "error", err)
				continue
			}

			tempFile, err := utils.SecureTempFile("/tmp", "qnsd-heartbeat")
			if err != nil {
				logger.Error("failed to create temporary heartbeat file", "error", err)
				continue
			}
			tempPath := tempFile.Name()

			if _, err := tempFile.Write(data); err != nil {
				tempFile.Close()
				os.Remove(tempPath)
				logger.Error("failed to write heartbeat file", "error", err)
				continue
			}
			tempFile.Close()

			if err := os.Rename(tempPath, heartbeatFile); err != nil {
				os.Remove(tempPath)
				logger.Error("failed to rename heartbeat file", "error", err)
				continue
			}

			if err := d.mqttClient.PublishHealth(map[string]interface{}{
				"uptime_s":   hb.UptimeS,
				"version":    hb.Version,
				"mem_mb":     hb.MemMB,
				"goroutines": hb.Goroutines,
			}); err != nil {
				logger.Warn("mqtt health publish failed", "error", err)
			}

			logger.Debug("heartbeat written", "uptime_s", hb.UptimeS, "mem_mb", hb.MemMB, "goroutines", hb.Goroutines)
		}
	}
}
