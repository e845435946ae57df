package history

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/queue"
	"github.com/dragonrift/encounter/internal/state"
	"github.com/dragonrift/encounter/pkg/core"
)

const (
	flushInterval = 5 * time.Second
	flushBatch    = 100
)

// Dependencies holds all dependencies needed by the recorder.
type Dependencies struct {
	DB     *Manager
	Cfg    config.HistoryConfig
	Logger *slog.Logger
}

// Recorder archives the encounter lifecycle. Recording callbacks only push
// onto queues; a background writer flushes batches to the database so the
// tick loop never waits on I/O.
type Recorder struct {
	deps Dependencies

	buf         *queue.Queue[OccurrenceRecord]
	events      *queue.Queue[EventRecord]
	transitions *queue.Queue[StageTransition]
	captures    *queue.Queue[CaptureRecord]
	kills       *queue.Queue[BossKillRecord]
	completions *queue.Queue[CompletionRecord]
	rankings    *queue.Queue[DamageRanking]
	snapshots   *queue.Queue[StatusSnapshot]

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRecorder creates a recorder with empty buffers.
func NewRecorder(deps Dependencies) *Recorder {
	return &Recorder{
		deps:        deps,
		buf:         queue.New[OccurrenceRecord](),
		events:      queue.New[EventRecord](),
		transitions: queue.New[StageTransition](),
		captures:    queue.New[CaptureRecord](),
		kills:       queue.New[BossKillRecord](),
		completions: queue.New[CompletionRecord](),
		rankings:    queue.New[DamageRanking](),
		snapshots:   queue.New[StatusSnapshot](),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the background writer.
func (r *Recorder) Start() {
	go r.writer()
}

func (r *Recorder) writer() {
	defer close(r.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush()
		case <-r.stop:
			r.Flush()
			return
		}
	}
}

// Flush writes every buffered row to the database.
func (r *Recorder) Flush() {
	db := r.deps.DB.DB
	// Definition rows are upserted so a reload refreshes instead of
	// duplicating.
	flushQueue(db, r.deps.Logger, r.events, "events", clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "enabled", "spawn_wkb", "stages", "updated_at"}),
	})
	flushQueue(db, r.deps.Logger, r.buf, "occurrences")
	flushQueue(db, r.deps.Logger, r.transitions, "transitions")
	flushQueue(db, r.deps.Logger, r.captures, "captures")
	flushQueue(db, r.deps.Logger, r.kills, "kills")
	flushQueue(db, r.deps.Logger, r.completions, "completions")
	flushQueue(db, r.deps.Logger, r.rankings, "rankings")
	flushQueue(db, r.deps.Logger, r.snapshots, "snapshots")
}

func flushQueue[T any](db *gorm.DB, logger *slog.Logger, q *queue.Queue[T], label string, clauses ...clause.Expression) {
	for {
		batch := q.Drain(flushBatch)
		if batch == nil {
			return
		}
		tx := db
		if len(clauses) > 0 {
			tx = db.Clauses(clauses...)
		}
		if err := tx.Create(&batch).Error; err != nil {
			logger.Error("history flush failed", "queue", label, "count", len(batch), "error", err)
			// Records stay lost rather than re-queued: a poisoned batch
			// would otherwise wedge the writer forever.
			return
		}
		logger.Debug("history flushed", "queue", label, "count", len(batch))
	}
}

// EventsLoaded buffers an upsert row per loaded definition.
func (r *Recorder) EventsLoaded(defs []*model.EventDefinition) {
	for _, def := range defs {
		keys := make([]string, 0, len(def.Stages))
		for _, st := range def.Stages {
			keys = append(keys, st.Key.String())
		}
		blob, err := json.Marshal(keys)
		if err != nil {
			r.deps.Logger.Error("stage keys marshal failed", "event", def.ID, "error", err)
			blob = []byte("[]")
		}
		r.events.Push(EventRecord{
			EventID:  string(def.ID),
			Name:     def.Name,
			Enabled:  def.Enabled,
			SpawnWKB: geo.WKBFromPosition(def.Spawn),
			Stages:   blob,
		})
	}
}

// StageChanged buffers one stage transition row.
func (r *Recorder) StageChanged(eventID core.EventID, runID string, key core.StageKey, phase core.StagePhase, participants int) {
	r.transitions.Push(StageTransition{
		RunID:        runID,
		EventID:      string(eventID),
		Stage:        key.String(),
		Phase:        string(phase),
		Participants: participants,
		At:           time.Now().UTC(),
	})
}

// CaptureRecorded buffers one belly allocation row.
func (r *Recorder) CaptureRecorded(eventID core.EventID, runID string, boss core.BossID, count, aliveBosses int, at time.Time) {
	r.captures.Push(CaptureRecord{
		RunID:       runID,
		EventID:     string(eventID),
		BossID:      string(boss),
		Count:       count,
		AliveBosses: aliveBosses,
		At:          at,
	})
}

// BossKillRecorded buffers one accepted kill row.
func (r *Recorder) BossKillRecorded(eventID core.EventID, runID string, boss core.BossID, final bool, at time.Time) {
	r.kills.Push(BossKillRecord{
		RunID:   runID,
		EventID: string(eventID),
		BossID:  string(boss),
		Final:   final,
		At:      at,
	})
}

// StatusRecorded buffers one monitor snapshot row.
func (r *Recorder) StatusRecorded(takenAt time.Time, activeRuns int, payload any) {
	blob, err := json.Marshal(payload)
	if err != nil {
		r.deps.Logger.Error("status payload marshal failed", "error", err)
		blob = []byte("{}")
	}
	r.snapshots.Push(StatusSnapshot{
		TakenAt:    takenAt,
		ActiveRuns: activeRuns,
		Payload:    blob,
	})
}

// OccurrenceCompleted buffers the occurrence, completion and ranking rows
// for the finished occurrence and exports its archive file.
func (r *Recorder) OccurrenceCompleted(def *model.EventDefinition, runID string, startedAt, endedAt time.Time, participants int, rankings []state.Ranking) {
	entries := make([]RankingEntry, 0, len(rankings))
	for i, rk := range rankings {
		entries = append(entries, RankingEntry{
			Rank:        i + 1,
			Participant: string(rk.Participant),
			Damage:      rk.Damage,
		})
		r.rankings.Push(DamageRanking{
			RunID:       runID,
			EventID:     string(def.ID),
			Rank:        i + 1,
			Participant: string(rk.Participant),
			Damage:      rk.Damage,
		})
	}

	blob, err := json.Marshal(entries)
	if err != nil {
		r.deps.Logger.Error("ranking marshal failed", "event", def.ID, "error", err)
		blob = []byte("[]")
	}

	rec := OccurrenceRecord{
		RunID:            runID,
		EventID:          string(def.ID),
		EventName:        def.Name,
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		ParticipantCount: participants,
		Rankings:         blob,
	}
	r.buf.Push(rec)

	dest := def.Spawn
	if def.CompletionSpawn != nil {
		dest = *def.CompletionSpawn
	}
	rewards, err := json.Marshal(def.Rewards.Completion)
	if err != nil {
		r.deps.Logger.Error("reward marshal failed", "event", def.ID, "error", err)
		rewards = []byte("[]")
	}
	r.completions.Push(CompletionRecord{
		RunID:          runID,
		EventID:        string(def.ID),
		CompletedAt:    endedAt,
		DestinationWKB: geo.WKBFromPosition(dest),
		RewardCommands: rewards,
	})

	go func() {
		if err := r.export(rec, entries); err != nil {
			r.deps.Logger.Error("occurrence export failed", "event", def.ID, "run", runID, "error", err)
		}
	}()
}

// Recent returns the most recently ended occurrences, newest first.
func (r *Recorder) Recent(limit int) ([]OccurrenceRecord, error) {
	var out []OccurrenceRecord
	err := r.deps.DB.DB.Order("ended_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Close stops the writer after a final flush.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
