package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dragonrift/encounter/internal/geo"
	"github.com/dragonrift/encounter/internal/model"
	"github.com/dragonrift/encounter/internal/schedule"
	"github.com/dragonrift/encounter/pkg/core"
)

// ErrDuplicateEventID marks two event entries sharing one id.
var ErrDuplicateEventID = errors.New("duplicate event id")

// Defect pairs a rejected event definition with the reason it was rejected.
// Defective entries are skipped; the remaining definitions still load.
type Defect struct {
	EventID core.EventID
	Err     error
}

func (d Defect) Error() string {
	return fmt.Sprintf("event %q: %v", d.EventID, d.Err)
}

type rawRegion struct {
	Min string `mapstructure:"min"`
	Max string `mapstructure:"max"`
}

type rawBatch struct {
	Delay    string   `mapstructure:"delay"`
	Commands []string `mapstructure:"commands"`
}

type rawStage struct {
	Key             string     `mapstructure:"key"`
	StartCommands   []string   `mapstructure:"startCommands"`
	EndCommands     []string   `mapstructure:"endCommands"`
	Timed           []rawBatch `mapstructure:"timed"`
	MessageInterval string     `mapstructure:"messageInterval"`
	Region          *rawRegion `mapstructure:"region"`
	Spawn           string     `mapstructure:"spawn"`
}

type rawSchedule struct {
	Frequency  string   `mapstructure:"frequency"`
	Hour       int      `mapstructure:"hour"`
	Minute     int      `mapstructure:"minute"`
	Weekdays   []string `mapstructure:"weekdays"`
	DayOfMonth int      `mapstructure:"dayOfMonth"`
	Timezone   string   `mapstructure:"timezone"`
}

type rawRewards struct {
	Completion []string   `mapstructure:"completion"`
	Rank       [][]string `mapstructure:"rank"`
}

type rawEvent struct {
	ID                   string      `mapstructure:"id"`
	Name                 string      `mapstructure:"name"`
	Enabled              *bool       `mapstructure:"enabled"`
	MinionTemplates      []string    `mapstructure:"minionTemplates"`
	BossTemplate         string      `mapstructure:"bossTemplate"`
	Region               rawRegion   `mapstructure:"region"`
	Spawn                string      `mapstructure:"spawn"`
	CompletionSpawn      string      `mapstructure:"completionSpawn"`
	BellyFraction        float64     `mapstructure:"bellyFraction"`
	MaxDuration          string      `mapstructure:"maxDuration"`
	JoinWindow           string      `mapstructure:"joinWindow"`
	ReminderInterval     string      `mapstructure:"reminderInterval"`
	BellyDuration        string      `mapstructure:"bellyDuration"`
	BellyTransitionDelay string      `mapstructure:"bellyTransitionDelay"`
	CaptureTeleportDelay string      `mapstructure:"captureTeleportDelay"`
	SpawnInterval        string      `mapstructure:"spawnInterval"`
	PreStartReminders    []string    `mapstructure:"preStartReminders"`
	Schedule             rawSchedule `mapstructure:"schedule"`
	Stages               []rawStage  `mapstructure:"stages"`
	Rewards              rawRewards  `mapstructure:"rewards"`
}

// LoadDefinitions decodes the "events" list from the loaded config, converts
// and validates each entry. Invalid entries come back as defects; the error
// return is reserved for an undecodable events list.
func LoadDefinitions() ([]*model.EventDefinition, []Defect, error) {
	var raws []rawEvent
	if err := viper.UnmarshalKey("events", &raws); err != nil {
		return nil, nil, fmt.Errorf("error decoding events: %w", err)
	}

	var (
		defs    []*model.EventDefinition
		defects []Defect
		seen    = make(map[core.EventID]struct{})
	)
	for _, raw := range raws {
		id := core.EventID(raw.ID)
		if _, dup := seen[id]; dup {
			defects = append(defects, Defect{EventID: id, Err: ErrDuplicateEventID})
			continue
		}
		def, err := convertEvent(raw)
		if err != nil {
			defects = append(defects, Defect{EventID: id, Err: err})
			continue
		}
		if err := def.Validate(); err != nil {
			defects = append(defects, Defect{EventID: id, Err: err})
			continue
		}
		seen[id] = struct{}{}
		defs = append(defs, def)
	}
	return defs, defects, nil
}

func convertEvent(raw rawEvent) (*model.EventDefinition, error) {
	region, err := geo.RegionFromStrings(raw.Region.Min, raw.Region.Max)
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	spawn, err := geo.PositionFromString(raw.Spawn)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}

	def := &model.EventDefinition{
		ID:              core.EventID(raw.ID),
		Name:            raw.Name,
		Enabled:         raw.Enabled == nil || *raw.Enabled,
		MinionTemplates: raw.MinionTemplates,
		BossTemplate:    raw.BossTemplate,
		Region:          region,
		Spawn:           spawn,
		BellyFraction:   raw.BellyFraction,
	}

	if raw.CompletionSpawn != "" {
		p, err := geo.PositionFromString(raw.CompletionSpawn)
		if err != nil {
			return nil, fmt.Errorf("completionSpawn: %w", err)
		}
		def.CompletionSpawn = &p
	}

	durations := []struct {
		field string
		src   string
		dst   *time.Duration
	}{
		{"maxDuration", raw.MaxDuration, &def.MaxDuration},
		{"joinWindow", raw.JoinWindow, &def.JoinWindow},
		{"reminderInterval", raw.ReminderInterval, &def.ReminderInterval},
		{"bellyDuration", raw.BellyDuration, &def.BellyDuration},
		{"bellyTransitionDelay", raw.BellyTransitionDelay, &def.BellyTransitionDelay},
		{"captureTeleportDelay", raw.CaptureTeleportDelay, &def.CaptureTeleportDelay},
		{"spawnInterval", raw.SpawnInterval, &def.SpawnInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.field, d.src)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}
	applyDurationDefaults(def)

	for _, s := range raw.PreStartReminders {
		d, err := parseDuration("preStartReminders", s)
		if err != nil {
			return nil, err
		}
		def.PreStartReminders = append(def.PreStartReminders, d)
	}

	rule, err := convertSchedule(raw.Schedule)
	if err != nil {
		return nil, err
	}
	def.Rule = rule

	for _, rs := range raw.Stages {
		sd, err := convertStage(rs)
		if err != nil {
			return nil, err
		}
		def.Stages = append(def.Stages, sd)
	}

	def.Rewards = model.RewardSpec{
		Completion:   raw.Rewards.Completion,
		RankCommands: raw.Rewards.Rank,
	}
	return def, nil
}

func applyDurationDefaults(def *model.EventDefinition) {
	if def.ReminderInterval <= 0 {
		def.ReminderInterval = 2 * time.Minute
	}
	if def.BellyDuration <= 0 {
		def.BellyDuration = 10 * time.Minute
	}
	if def.BellyTransitionDelay <= 0 {
		def.BellyTransitionDelay = 3 * time.Second
	}
	if def.CaptureTeleportDelay <= 0 {
		def.CaptureTeleportDelay = 2 * time.Second
	}
	if def.SpawnInterval <= 0 {
		def.SpawnInterval = time.Second
	}
}

func convertStage(raw rawStage) (model.StageDefinition, error) {
	key, ok := core.ParseStageKey(raw.Key)
	if !ok {
		return model.StageDefinition{}, fmt.Errorf("unknown stage key %q", raw.Key)
	}
	sd := model.StageDefinition{
		Key:           key,
		StartCommands: raw.StartCommands,
		EndCommands:   raw.EndCommands,
	}
	for _, b := range raw.Timed {
		d, err := parseDuration("timed.delay", b.Delay)
		if err != nil {
			return model.StageDefinition{}, err
		}
		sd.Timed = append(sd.Timed, model.TimedCommandBatch{Delay: d, Commands: b.Commands})
	}
	var err error
	if sd.MessageInterval, err = parseDuration("messageInterval", raw.MessageInterval); err != nil {
		return model.StageDefinition{}, err
	}
	if raw.Region != nil {
		r, err := geo.RegionFromStrings(raw.Region.Min, raw.Region.Max)
		if err != nil {
			return model.StageDefinition{}, fmt.Errorf("stage %s region: %w", raw.Key, err)
		}
		sd.Region = &r
	}
	if raw.Spawn != "" {
		p, err := geo.PositionFromString(raw.Spawn)
		if err != nil {
			return model.StageDefinition{}, fmt.Errorf("stage %s spawn: %w", raw.Key, err)
		}
		sd.Spawn = &p
	}
	return sd, nil
}

func convertSchedule(raw rawSchedule) (schedule.Rule, error) {
	freq, err := schedule.ParseFrequency(raw.Frequency)
	if err != nil {
		return schedule.Rule{}, err
	}
	rule := schedule.Rule{
		Freq:       freq,
		Hour:       raw.Hour,
		Minute:     raw.Minute,
		DayOfMonth: raw.DayOfMonth,
		Timezone:   raw.Timezone,
	}
	for _, w := range raw.Weekdays {
		wd, err := parseWeekday(w)
		if err != nil {
			return schedule.Rule{}, err
		}
		rule.Weekdays = append(rule.Weekdays, wd)
	}
	return rule, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	if wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
