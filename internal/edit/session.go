// Package edit holds the single-feature edit session: selection, draft and
// the save round trip to the tabular backend.
package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/core/observability"
	"github.com/mohammed-shakir/layersync/internal/crud"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/logger"
)

// Save outcomes as recorded in metrics.
const (
	SaveOK       = "ok"
	SaveRejected = "rejected"
	SaveFailed   = "failed"
	SaveNotFound = "not_found"
)

type State int

const (
	Disabled State = iota
	Enabled
	Selected
	Saving
)

func (s State) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Selected:
		return "selected"
	case Saving:
		return "saving"
	default:
		return "disabled"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Writer persists a draft. *crud.Client satisfies it.
type Writer interface {
	Update(ctx context.Context, id string, attrs crud.Row, at *orb.Point) (crud.Row, error)
}

type Config struct {
	// Layers that accept selection. Empty means every layer.
	Layers  []string
	Timeout time.Duration
}

// Session must only be used from the event loop.
type Session struct {
	logger *slog.Logger
	sched  eventloop.Scheduler
	writer Writer
	reload func()
	cfg    Config

	enabled  bool
	saving   bool
	layer    string
	feature  *geojson.Feature
	draft    map[string]any
	location *orb.Point
	lastErr  error
	// selection generation, bumped on every change of feature
	gen uint64
}

// New builds a disabled session. reload runs after every successful save.
func New(logger *slog.Logger, sched eventloop.Scheduler, w Writer, reload func(), cfg Config) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if reload == nil {
		reload = func() {}
	}
	return &Session{logger: logger, sched: sched, writer: w, reload: reload, cfg: cfg}
}

func (s *Session) State() State {
	switch {
	case !s.enabled:
		return Disabled
	case s.saving:
		return Saving
	case s.feature != nil:
		return Selected
	default:
		return Enabled
	}
}

func (s *Session) Enable() { s.enabled = true }

// Disable clears any selection and draft.
func (s *Session) Disable() {
	s.enabled = false
	s.clear()
}

// Select stores f and a shallow copy of its properties as the draft. It is a
// no-op while disabled or saving. An unsaved draft of a previous selection is
// discarded.
func (s *Session) Select(layerID string, f *geojson.Feature) bool {
	if !s.enabled || s.saving || f == nil {
		return false
	}
	if len(s.cfg.Layers) > 0 && !slices.Contains(s.cfg.Layers, layerID) {
		return false
	}
	nf := model.Normalize(f)
	s.gen++
	s.layer = layerID
	s.feature = nf
	s.draft = maps.Clone(map[string]any(nf.Properties))
	s.location = nil
	s.lastErr = nil
	s.logger.Debug("feature selected", "layer", layerID, "id", identityOf(nf))
	return true
}

// SetField changes one draft value.
func (s *Session) SetField(key string, v any) error {
	if err := s.editable(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: field name is required", model.ErrInput)
	}
	s.draft[key] = v
	return nil
}

// SetFields merges vals into the draft.
func (s *Session) SetFields(vals map[string]any) error {
	if err := s.editable(); err != nil {
		return err
	}
	maps.Copy(s.draft, vals)
	return nil
}

// SetLocation moves the selected point. The geometry is only sent on save.
func (s *Session) SetLocation(p orb.Point) error {
	if err := s.editable(); err != nil {
		return err
	}
	if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
		return fmt.Errorf("%w: location %v out of range", model.ErrInput, p)
	}
	s.location = &p
	return nil
}

// Patch changes draft fields and optionally moves the feature.
type Patch struct {
	Fields   map[string]any `json:"fields"`
	Location *orb.Point     `json:"location,omitempty"`
}

// Patch applies p. Fields are merged before the move is validated, so a bad
// location leaves the field changes in place.
func (s *Session) Patch(p Patch) error {
	if len(p.Fields) > 0 {
		if err := s.SetFields(p.Fields); err != nil {
			return err
		}
	}
	if p.Location != nil {
		return s.SetLocation(*p.Location)
	}
	return nil
}

func (s *Session) editable() error {
	if s.feature == nil || s.draft == nil {
		return model.ErrNothingToSave
	}
	if s.saving {
		return fmt.Errorf("%w: save in progress", model.ErrInput)
	}
	return nil
}

// Save writes the draft. Precondition failures are returned at once without
// contacting the backend. Otherwise the write runs off-loop and done, when
// set, receives its result on the loop.
func (s *Session) Save(ctx context.Context, done func(error)) error {
	if s.feature == nil || s.draft == nil {
		return s.reject(model.ErrNothingToSave)
	}
	if s.saving {
		return fmt.Errorf("%w: save in progress", model.ErrInput)
	}
	id, ok := model.Identity(s.feature)
	if !ok {
		return s.reject(model.ErrMissingIdentity)
	}

	s.saving = true
	s.lastErr = nil
	gen := s.gen
	attrs := crud.Row(maps.Clone(s.draft))
	var at *orb.Point
	if s.location != nil {
		p := *s.location
		at = &p
	}

	ctx = logger.WithLayer(context.WithoutCancel(ctx), s.layer)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	var err error
	s.sched.Async(ctx, func(ctx context.Context) {
		_, err = s.writer.Update(ctx, id, attrs, at)
	}, func() {
		cancel()
		err = s.finish(ctx, gen, id, err)
		if done != nil {
			done(err)
		}
	})
	return nil
}

func (s *Session) finish(ctx context.Context, gen uint64, id string, err error) error {
	s.saving = false
	current := gen == s.gen

	switch {
	case err == nil:
		observability.IncSave(SaveOK)
		s.logger.InfoContext(ctx, "feature saved", "id", id)
		if current {
			s.clear()
		}
		s.reload()
		return nil
	case errors.Is(err, model.ErrNotFound):
		observability.IncSave(SaveNotFound)
		s.logger.WarnContext(ctx, "save target gone", "id", id, "err", err)
		if current {
			s.clear()
			s.lastErr = err
		}
		return err
	default:
		observability.IncSave(SaveFailed)
		err = fmt.Errorf("%w: feature %s: %w", model.ErrSave, id, err)
		s.logger.WarnContext(ctx, "save failed", "id", id, "err", err)
		if current {
			s.lastErr = err
		}
		return err
	}
}

func (s *Session) reject(err error) error {
	observability.IncSave(SaveRejected)
	s.lastErr = err
	return err
}

// Cancel clears the selection without contacting the backend.
func (s *Session) Cancel() { s.clear() }

// Drop clears the selection when it is featureID of layerID. Used when the
// feature was changed elsewhere and the draft no longer applies. An empty
// layerID matches any layer.
func (s *Session) Drop(layerID, featureID string) bool {
	if s.feature == nil || identityOf(s.feature) != featureID {
		return false
	}
	if layerID != "" && layerID != s.layer {
		return false
	}
	s.logger.Info("selection dropped after external change", "id", featureID)
	s.clear()
	return true
}

func (s *Session) clear() {
	if s.feature != nil {
		s.gen++
	}
	s.layer = ""
	s.feature = nil
	s.draft = nil
	s.location = nil
	s.lastErr = nil
}

func (s *Session) Layer() string             { return s.layer }
func (s *Session) Feature() *geojson.Feature { return s.feature }
func (s *Session) Err() error                { return s.lastErr }

// Draft returns a copy of the draft, nil without a selection.
func (s *Session) Draft() map[string]any { return maps.Clone(s.draft) }

// Snapshot is the session as the viewer API reports it.
type Snapshot struct {
	State     State            `json:"state"`
	Layer     string           `json:"layer,omitempty"`
	FeatureID string           `json:"feature_id,omitempty"`
	Feature   *geojson.Feature `json:"feature,omitempty"`
	Draft     map[string]any   `json:"draft,omitempty"`
	Location  *orb.Point       `json:"location,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:   s.State(),
		Layer:   s.layer,
		Feature: s.feature,
		Draft:   s.Draft(),
	}
	if s.feature != nil {
		snap.FeatureID = identityOf(s.feature)
	}
	if s.location != nil {
		p := *s.location
		snap.Location = &p
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

func identityOf(f *geojson.Feature) string {
	id, _ := model.Identity(f)
	return id
}
