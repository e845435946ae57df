// Package influx exports encounter metrics to InfluxDB. When the server is
// unreachable, points degrade to a gzipped line-protocol backup file so no
// measurement is lost.
package influx

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/pkg/core"
)

// Bucket names, one per measurement family.
const (
	BucketOccurrences   = "encounter_occurrences"
	BucketParticipation = "encounter_participation"
	BucketBosses        = "encounter_bosses"
)

var bucketNames = []string{
	BucketOccurrences,
	BucketParticipation,
	BucketBosses,
}

const retentionSeconds = 60 * 60 * 24 * 90 // 90 days

// Manager owns the InfluxDB client and one async writer per bucket.
type Manager struct {
	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI
	valid   bool
	cfg     config.InfluxConfig
	logger  *slog.Logger

	backupMu     sync.Mutex
	backupWriter *gzip.Writer
	backupPath   string
}

// NewManager creates an unconnected metrics manager.
func NewManager(logger *slog.Logger, backupPath string) *Manager {
	return &Manager{
		writers:    make(map[string]influxdb2_api.WriteAPI),
		logger:     logger,
		backupPath: backupPath,
	}
}

// Connect initializes the client, the organization and the buckets. An
// unreachable server is not an error; points fall through to the backup
// file until the next restart.
func (m *Manager) Connect(cfg config.InfluxConfig) error {
	if !cfg.Enabled {
		return fmt.Errorf("influx export is disabled")
	}
	m.cfg = cfg

	m.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", cfg.Protocol, cfg.Host, cfg.Port),
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(context.Background())
	if err != nil || !running {
		m.valid = false
		m.logger.Warn("influxdb unreachable, writing to backup file",
			"backupPath", m.backupPath, "error", err)
		return m.openBackup()
	}
	m.valid = true

	if err := m.setupOrgAndBuckets(); err != nil {
		return err
	}
	m.createWriters()
	m.logger.Info("influxdb client initialized", "org", cfg.Org)
	return nil
}

func (m *Manager) openBackup() error {
	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.backupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating metrics backup file: %w", err)
	}
	m.backupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrgAndBuckets() error {
	ctx := context.Background()

	org, err := m.client.OrganizationsAPI().FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info("organization not found, creating", "org", m.cfg.Org)
		org, err = m.client.OrganizationsAPI().CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	for _, bucket := range bucketNames {
		if _, err := m.client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.logger.Info("bucket not found, creating", "bucket", bucket)
		rule := domain.RetentionRuleTypeExpire
		_, err = m.client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			return fmt.Errorf("creating bucket %q: %w", bucket, err)
		}
	}
	return nil
}

func (m *Manager) createWriters() {
	for _, bucket := range bucketNames {
		w := m.client.WriteAPI(m.cfg.Org, bucket)
		m.writers[bucket] = w

		go func(bucket string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.logger.Error("influxdb write failed", "bucket", bucket, "error", writeErr)
			}
		}(bucket, w.Errors())
	}
}

// WritePoint sends a point to a bucket, or to the backup file when the
// server is down.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.valid {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("influxdb bucket %q not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.backupWriter == nil {
		return fmt.Errorf("influxdb client not initialized and backup writer unavailable")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backupWriter.Write([]byte(line)); err != nil {
		return fmt.Errorf("writing metrics backup: %w", err)
	}
	return nil
}

// RecordOccurrence writes the summary measurement of a finished occurrence.
func (m *Manager) RecordOccurrence(eventID core.EventID, participants int, duration time.Duration, at time.Time) error {
	point := influxdb2_write.NewPointWithMeasurement("occurrence_completed").
		AddTag("event", string(eventID)).
		AddField("participants", participants).
		AddField("duration_seconds", duration.Seconds()).
		SetTime(at)
	return m.WritePoint(BucketOccurrences, point)
}

// RecordJoin counts one enrollment.
func (m *Manager) RecordJoin(eventID core.EventID, spectator bool, at time.Time) error {
	point := influxdb2_write.NewPointWithMeasurement("join").
		AddTag("event", string(eventID)).
		AddTag("spectator", fmt.Sprint(spectator)).
		AddField("count", 1).
		SetTime(at)
	return m.WritePoint(BucketParticipation, point)
}

// RecordCapture records a belly allocation batch.
func (m *Manager) RecordCapture(eventID core.EventID, boss core.BossID, captured int, at time.Time) error {
	point := influxdb2_write.NewPointWithMeasurement("belly_capture").
		AddTag("event", string(eventID)).
		AddTag("boss", string(boss)).
		AddField("captured", captured).
		SetTime(at)
	return m.WritePoint(BucketBosses, point)
}

// RecordBossKill counts one boss death.
func (m *Manager) RecordBossKill(eventID core.EventID, boss core.BossID, final bool, at time.Time) error {
	point := influxdb2_write.NewPointWithMeasurement("boss_kill").
		AddTag("event", string(eventID)).
		AddTag("boss", string(boss)).
		AddTag("final", fmt.Sprint(final)).
		AddField("count", 1).
		SetTime(at)
	return m.WritePoint(BucketBosses, point)
}

// Close flushes the writers and the backup file.
func (m *Manager) Close() {
	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}
	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.backupWriter != nil {
		if err := m.backupWriter.Close(); err != nil {
			m.logger.Error("closing metrics backup", "error", err)
		}
		m.backupWriter = nil
	}
}
