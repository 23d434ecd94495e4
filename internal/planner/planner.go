// Package planner runs blending solves for saved multi-channel sheets. It keeps
// an immutable catalog snapshot that is swapped atomically on refresh, solves
// channels in parallel against that snapshot, and fans each outcome out to the
// store, the event bus, metrics and the lab.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
	"github.com/MikeSquared-Agency/Crucible/internal/config"
	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/lab"
	"github.com/MikeSquared-Agency/Crucible/internal/metrics"
	"github.com/MikeSquared-Agency/Crucible/internal/report"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

// ErrNoCatalog is returned by Plan before any catalog snapshot has loaded.
var ErrNoCatalog = errors.New("catalog not loaded")

// Outcome is the result of one channel.
type Outcome struct {
	Channel     string         `json:"channel"`
	Skipped     bool           `json:"skipped,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	RunID       *uuid.UUID     `json:"run_id,omitempty"`
	AssayTicket string         `json:"assay_ticket,omitempty"`
	Result      *blend.Result  `json:"result,omitempty"`
	Report      *report.Report `json:"report,omitempty"`
}

type Plan struct {
	SheetID         *uuid.UUID `json:"sheet_id,omitempty"`
	InstrumentGroup string     `json:"instrument_group"`
	Outcomes        []Outcome  `json:"outcomes"`
}

// Solved returns the outcomes that produced a result, in sheet order.
func (p *Plan) Solved() []Outcome {
	var out []Outcome
	for _, o := range p.Outcomes {
		if !o.Skipped {
			out = append(out, o)
		}
	}
	return out
}

type Planner struct {
	store   store.Store
	hermes  hermes.Client
	lab     lab.Client
	metrics *metrics.Metrics
	blender *blend.Blender
	report  report.Options
	cfg     *config.Config
	logger  *slog.Logger

	catalog   atomic.Pointer[catalog.Catalog]
	refreshCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New wires a planner. h, l and m may be nil; s may be nil for offline use,
// in which case runs are not persisted and the catalog must be set with SetCatalog.
func New(s store.Store, h hermes.Client, l lab.Client, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Planner {
	return &Planner{
		store:     s,
		hermes:    h,
		lab:       l,
		metrics:   m,
		blender:   blend.New(BlendOptions(cfg), logger),
		report:    ReportOptions(cfg),
		cfg:       cfg,
		logger:    logger,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// BlendOptions maps the blend section of the configuration onto solver options.
func BlendOptions(cfg *config.Config) blend.Options {
	return blend.Options{
		FCDCarbonOffset:  cfg.Blend.FCDCarbonOffset,
		FCCarbonOffset:   cfg.Blend.FCCarbonOffset,
		MassFloor:        cfg.Blend.MassFloorG,
		FallbackBaseMass: cfg.Blend.FallbackBaseMass,
		RCond:            cfg.Blend.RCond,
	}
}

func ReportOptions(cfg *config.Config) report.Options {
	return report.Options{
		PreTapFCDOffset:       cfg.Blend.PreTapFCDOffset,
		PreTapFCOffset:        cfg.Blend.PreTapFCOffset,
		InstructionMultiplier: cfg.Report.InstructionMultiplier,
		MassFloor:             cfg.Blend.MassFloorG,
	}
}

// ReportOptions returns the options used to build reports for this planner's results.
func (p *Planner) ReportOptions() report.Options {
	return p.report
}

// Catalog returns the current snapshot, or nil before the first load.
func (p *Planner) Catalog() *catalog.Catalog {
	return p.catalog.Load()
}

func (p *Planner) SetCatalog(c *catalog.Catalog) {
	p.catalog.Store(c)
	if p.metrics != nil {
		p.metrics.CatalogLoaded(len(c.Materials()), len(c.Additives()), len(c.Groups()))
	}
}

// Refresh reloads the catalog from the store. A failed reload keeps the old snapshot.
func (p *Planner) Refresh(ctx context.Context) error {
	if p.store == nil {
		return errors.New("planner has no store")
	}
	c, err := store.LoadCatalog(ctx, p.store)
	if err != nil {
		if p.metrics != nil {
			p.metrics.CatalogRefreshFailed()
		}
		return err
	}
	p.SetCatalog(c)
	p.logger.Debug("catalog refreshed", "materials", len(c.Materials()), "additives", len(c.Additives()), "groups", len(c.Groups()))
	return nil
}

// RequestRefresh schedules a reload on the refresh loop without blocking.
func (p *Planner) RequestRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Planner) Start(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Error("initial catalog load failed", "error", err)
	}
	p.wg.Add(1)
	go p.refreshLoop(ctx)
}

// Stop ends the refresh loop. It is safe to call more than once.
func (p *Planner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Planner) refreshLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refreshCh:
		}
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("catalog refresh failed", "error", err)
		}
	}
}

// SetupSubscriptions reloads the catalog whenever another instance edits it.
func (p *Planner) SetupSubscriptions() {
	if p.hermes == nil {
		return
	}
	if err := p.hermes.Subscribe(hermes.SubjectCatalogUpdated, func(_ string, data []byte) {
		var evt hermes.CatalogUpdatedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			p.logger.Warn("invalid catalog event", "error", err)
		}
		p.logger.Info("catalog updated, scheduling refresh", "table", evt.Table, "name", evt.Name)
		p.RequestRefresh()
	}); err != nil {
		p.logger.Warn("failed to subscribe to catalog updates", "error", err)
	}
}

// Plan solves every channel of the sheet. Channels run in parallel up to the
// configured limit and share one catalog snapshot.
func (p *Planner) Plan(ctx context.Context, sheet *store.Sheet) (*Plan, error) {
	cat := p.Catalog()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	var sheetID *uuid.UUID
	if sheet.ID != uuid.Nil {
		id := sheet.ID
		sheetID = &id
	}

	plan := &Plan{SheetID: sheetID, InstrumentGroup: sheet.InstrumentGroup, Outcomes: make([]Outcome, len(sheet.Channels))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Planner.MaxParallel)
	for i, ch := range sheet.Channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if len(ch.Spec.Selected) == 0 {
				// An unused column on the sheet.
				plan.Outcomes[i] = Outcome{Channel: ch.Channel, Skipped: true, Reason: "no elements selected"}
				return nil
			}
			plan.Outcomes[i] = p.solve(gctx, cat, sheetID, sheet.InstrumentGroup, ch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", sheet.Name, err)
	}

	passed := 0
	var skipped []string
	for _, o := range plan.Outcomes {
		switch {
		case o.Skipped:
			skipped = append(skipped, o.Channel)
		case o.Result.Passed():
			passed++
		}
	}
	p.logger.Info("plan completed", "sheet", sheet.Name, "channels", len(plan.Outcomes), "passed", passed, "skipped", len(skipped))
	p.publish(hermes.SubjectPlanCompleted, hermes.PlanCompletedEvent{
		SheetID:   idString(sheetID),
		Channels:  len(plan.Outcomes),
		Passed:    passed,
		Skipped:   skipped,
		Timestamp: time.Now().UTC(),
	})
	return plan, nil
}

// SolveChannel runs one ad-hoc channel with the same side effects as Plan.
func (p *Planner) SolveChannel(ctx context.Context, group string, ch store.ChannelInput) (Outcome, error) {
	cat := p.Catalog()
	if cat == nil {
		return Outcome{}, ErrNoCatalog
	}
	return p.solve(ctx, cat, nil, group, ch), nil
}

func (p *Planner) solve(ctx context.Context, cat *catalog.Catalog, sheetID *uuid.UUID, group string, ch store.ChannelInput) Outcome {
	out := Outcome{Channel: ch.Channel}
	start := time.Now()
	res := p.blender.Solve(cat, ch.Request(group))
	if p.metrics != nil {
		p.metrics.ObserveSolve(res, time.Since(start))
	}
	rep := report.Build(res, p.report)
	out.Result, out.Report = &res, &rep

	runKey := uuid.NewString()
	if p.store != nil {
		run := store.NewRun(sheetID, ch.Channel, res)
		if err := p.store.CreateRun(ctx, run); err != nil {
			p.logger.Error("failed to persist run", "channel", ch.Channel, "error", err)
		} else {
			out.RunID = &run.ID
			runKey = run.ID.String()
		}
	}

	p.publish(hermes.SubjectBlendSolved(runKey), solvedEvent(runKey, sheetID, ch.Channel, res))
	if !res.Dosing.HasTopUp() {
		return out
	}

	p.publish(hermes.SubjectBlendDeferred(runKey), hermes.BlendDeferredEvent{
		RunID:      runKey,
		Channel:    ch.Channel,
		Deferred:   nonZero(res.Deferred),
		TopUpGrams: res.Dosing.TopUp,
	})
	if p.lab != nil {
		ticket, err := p.lab.RequestAssay(ctx, lab.AssayRequest{
			RunID:           runKey,
			SheetID:         idString(sheetID),
			Channel:         ch.Channel,
			InstrumentGroup: group,
			Elements:        deferredElements(res.Deferred),
			TopUpGrams:      res.Dosing.TopUp,
			RequestedAt:     time.Now().UTC(),
		})
		if p.metrics != nil {
			p.metrics.AssayRequested(err)
		}
		if err != nil {
			p.logger.Warn("assay request failed", "channel", ch.Channel, "run_id", runKey, "error", err)
		} else {
			out.AssayTicket = ticket.ID
		}
	}
	return out
}

func (p *Planner) publish(subject string, data interface{}) {
	if p.hermes == nil {
		return
	}
	if err := p.hermes.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func solvedEvent(runKey string, sheetID *uuid.UUID, channel string, res blend.Result) hermes.BlendSolvedEvent {
	evt := hermes.BlendSolvedEvent{
		RunID:           runKey,
		SheetID:         idString(sheetID),
		Channel:         channel,
		InstrumentGroup: res.Charge.InstrumentGroup,
		Passed:          res.Passed(),
		Rank:            res.Rank,
	}
	for _, e := range res.Judgement.Failed() {
		evt.Failed = append(evt.Failed, string(e))
	}
	for _, w := range res.Warnings {
		evt.Warnings = append(evt.Warnings, w.Code)
	}
	return evt
}

func deferredElements(v alloy.Vector) []alloy.Element {
	var out []alloy.Element
	for _, e := range alloy.AllElements {
		if v.Get(e) > 0 {
			out = append(out, e)
		}
	}
	return out
}

func nonZero(v alloy.Vector) map[string]float64 {
	out := make(map[string]float64)
	for _, e := range alloy.AllElements {
		if x := v.Get(e); x != 0 {
			out[string(e)] = x
		}
	}
	return out
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
