package history

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OccurrenceExport is the root structure of an archive file.
type OccurrenceExport struct {
	EventID      string         `json:"eventId"`
	EventName    string         `json:"eventName"`
	RunID        string         `json:"runId"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      time.Time      `json:"endedAt"`
	Participants int            `json:"participants"`
	Rankings     []RankingEntry `json:"rankings"`
}

// export writes the occurrence archive file into the configured output
// directory, gzipped when compression is enabled.
func (r *Recorder) export(rec OccurrenceRecord, rankings []RankingEntry) error {
	if r.deps.Cfg.OutputDir == "" {
		return nil
	}

	name := strings.ReplaceAll(rec.EventID, " ", "_")
	timestamp := rec.EndedAt.Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if r.deps.Cfg.CompressOutput {
		filename += ".gz"
	}

	if err := os.MkdirAll(r.deps.Cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	outputPath := filepath.Join(r.deps.Cfg.OutputDir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if r.deps.Cfg.CompressOutput {
		gz = gzip.NewWriter(f)
		w = gz
	}

	doc := OccurrenceExport{
		EventID:      rec.EventID,
		EventName:    rec.EventName,
		RunID:        rec.RunID,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		Participants: rec.ParticipantCount,
		Rankings:     rankings,
	}
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("closing gzip stream: %w", err)
		}
	}

	r.deps.Logger.Info("occurrence archived", "event", rec.EventID, "file", outputPath)
	return nil
}
