package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
)

// ChannelInput is one channel of a saved sheet, in the units the operator
// enters: masses in kilograms, additives in percent of charge.
type ChannelInput struct {
	Channel         string               `json:"channel" yaml:"channel"`
	Mode            alloy.Mode           `json:"mode" yaml:"mode"`
	TotalMassKg     float64              `json:"total_mass_kg" yaml:"total_mass_kg"`
	RemainingMassKg float64              `json:"remaining_mass_kg,omitempty" yaml:"remaining_mass_kg,omitempty"`
	TappingTempC    float64              `json:"tapping_temp_c,omitempty" yaml:"tapping_temp_c,omitempty"`
	Spec            alloy.TargetSpec     `json:"spec" yaml:"spec"`
	Additives       []blend.AdditiveDose `json:"additives,omitempty" yaml:"additives,omitempty"`
	Materials       []string             `json:"materials" yaml:"materials"`
	PinsKg          map[string]float64   `json:"pins_kg,omitempty" yaml:"pins_kg,omitempty"`
}

// Request converts the channel to a solver request for the given instrument group.
func (c ChannelInput) Request(group string) blend.Request {
	req := blend.Request{
		Spec: c.Spec,
		Charge: alloy.ChargeContext{
			TotalMassGrams:  c.TotalMassKg * 1000,
			Mode:            c.Mode,
			InstrumentGroup: group,
			RemainingMassKg: c.RemainingMassKg,
			TappingTempC:    c.TappingTempC,
		},
		Additives: c.Additives,
		Materials: c.Materials,
	}
	if len(c.PinsKg) > 0 {
		req.Pins = make(map[string]float64, len(c.PinsKg))
		for name, kg := range c.PinsKg {
			req.Pins[name] = kg * 1000
		}
	}
	return req
}

// Sheet is a saved multi-channel configuration for one trial.
type Sheet struct {
	ID              uuid.UUID      `json:"id" yaml:"-"`
	Name            string         `json:"name" yaml:"name"`
	InstrumentGroup string         `json:"instrument_group" yaml:"instrument_group"`
	Channels        []ChannelInput `json:"channels" yaml:"channels"`
	CreatedAt       time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"-"`
}

// Validate checks the fields the store relies on.
func (s *Sheet) Validate(maxChannels int) error {
	if s.Name == "" {
		return alloy.Invalid("sheet name is required")
	}
	if len(s.Channels) == 0 {
		return alloy.Invalid("sheet needs at least one channel")
	}
	if maxChannels > 0 && len(s.Channels) > maxChannels {
		return alloy.Invalid("sheet has %d channels, at most %d are allowed", len(s.Channels), maxChannels)
	}
	seen := make(map[string]bool, len(s.Channels))
	for i := range s.Channels {
		ch := &s.Channels[i]
		if ch.Channel == "" {
			ch.Channel = fmt.Sprintf("Ch%d", i+1)
		}
		if seen[ch.Channel] {
			return alloy.Invalid("duplicate channel %q", ch.Channel)
		}
		seen[ch.Channel] = true
	}
	return nil
}

// Channel returns the named channel of the sheet.
func (s *Sheet) Channel(name string) (ChannelInput, bool) {
	for _, ch := range s.Channels {
		if ch.Channel == name {
			return ch, true
		}
	}
	return ChannelInput{}, false
}

// Run is one persisted solve outcome.
type Run struct {
	ID              uuid.UUID    `json:"id"`
	SheetID         *uuid.UUID   `json:"sheet_id,omitempty"`
	Channel         string       `json:"channel"`
	InstrumentGroup string       `json:"instrument_group"`
	Mode            alloy.Mode   `json:"mode"`
	Passed          bool         `json:"passed"`
	Rank            int          `json:"rank"`
	TopUpGrams      float64      `json:"topup_g"`
	WarningCount    int          `json:"warning_count"`
	Result          blend.Result `json:"result"`
	CreatedAt       time.Time    `json:"created_at"`
}

// NewRun summarises a solve result for persistence.
func NewRun(sheetID *uuid.UUID, channel string, res blend.Result) *Run {
	return &Run{
		SheetID:         sheetID,
		Channel:         channel,
		InstrumentGroup: res.Charge.InstrumentGroup,
		Mode:            res.Charge.Mode,
		Passed:          res.Passed(),
		Rank:            res.Rank,
		TopUpGrams:      res.Dosing.TopUpTotal(),
		WarningCount:    len(res.Warnings),
		Result:          res,
	}
}

type RunFilter struct {
	SheetID *uuid.UUID
	Channel string
	Limit   int
	Offset  int
}

type Store interface {
	// Catalog
	ListMaterials(ctx context.Context) ([]alloy.Material, error)
	UpsertMaterial(ctx context.Context, m alloy.Material) error
	ListAdditives(ctx context.Context) ([]alloy.Additive, error)
	UpsertAdditive(ctx context.Context, a alloy.Additive) error
	ListLimits(ctx context.Context) (map[string]alloy.Limits, error)
	UpsertLimits(ctx context.Context, group string, l alloy.Limits) error
	ListPresets(ctx context.Context) ([]catalog.Preset, error)
	UpsertPreset(ctx context.Context, p catalog.Preset) error
	ReplaceCatalog(ctx context.Context, c *catalog.Catalog) error

	// Sheets
	CreateSheet(ctx context.Context, sheet *Sheet) error
	GetSheet(ctx context.Context, id uuid.UUID) (*Sheet, error)
	ListSheets(ctx context.Context) ([]*Sheet, error)
	DeleteSheet(ctx context.Context, id uuid.UUID) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	Close() error
}

// LoadCatalog reads every catalog table and builds an immutable snapshot.
func LoadCatalog(ctx context.Context, s Store) (*catalog.Catalog, error) {
	materials, err := s.ListMaterials(ctx)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	additives, err := s.ListAdditives(ctx)
	if err != nil {
		return nil, fmt.Errorf("list additives: %w", err)
	}
	limits, err := s.ListLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	presets, err := s.ListPresets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	return catalog.New(materials, additives, limits, presets), nil
}

func runLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
