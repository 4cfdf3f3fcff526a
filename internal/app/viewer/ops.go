package viewer

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/layersync/internal/attrsync"
	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/crud"
	"github.com/mohammed-shakir/layersync/internal/edit"
	"github.com/mohammed-shakir/layersync/internal/layers"
)

// Every method below runs its engine work on the event loop.

func (v *Viewer) do(ctx context.Context, fn func() error) error {
	var err error
	if derr := v.loop.Do(ctx, func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

func (v *Viewer) Viewport(ctx context.Context) (model.Viewport, error) {
	var vp model.Viewport
	err := v.do(ctx, func() error { vp = v.view.Viewport(); return nil })
	return vp, err
}

// SetViewport moves the map. Layers reconcile from the view-change event.
func (v *Viewer) SetViewport(ctx context.Context, vp model.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	return v.do(ctx, func() error { return v.view.SetViewport(vp) })
}

func (v *Viewer) Layers(ctx context.Context) ([]layers.Status, error) {
	var out []layers.Status
	err := v.do(ctx, func() error { out = v.registry.Statuses(); return nil })
	return out, err
}

func (v *Viewer) SetLayerVisible(ctx context.Context, id string, visible bool) error {
	return v.do(ctx, func() error { return v.registry.SetVisible(v.view, id, visible) })
}

// SetFilters stores the filters and reconciles visible layers, which refetch
// where their key changed.
func (v *Viewer) SetFilters(ctx context.Context, f layers.FilterState) (layers.FilterState, error) {
	var out layers.FilterState
	err := v.do(ctx, func() error {
		if v.filters.Set(f.StationCode, f.Division) {
			v.registry.ReloadVisible(v.view)
		}
		out = *v.filters
		return nil
	})
	return out, err
}

// ResetFilters clears the filters and reconciles visible layers.
func (v *Viewer) ResetFilters(ctx context.Context) error {
	return v.do(ctx, func() error {
		v.filters.Reset()
		v.registry.ReloadVisible(v.view)
		return nil
	})
}

func (v *Viewer) Dataset(ctx context.Context, key string) (attrsync.Dataset, error) {
	var ds attrsync.Dataset
	err := v.do(ctx, func() error {
		var ok bool
		if ds, ok = v.hub.Dataset(key); !ok {
			return fmt.Errorf("%w: dataset %q", model.ErrNotFound, key)
		}
		return nil
	})
	return ds, err
}

// DatasetKeys lists the attribute table tabs.
func (v *Viewer) DatasetKeys() []string { return v.hub.Tabs() }

// ZoomToRow resolves a row id and focuses the map on its feature.
func (v *Viewer) ZoomToRow(ctx context.Context, key string, rowID int) (model.Viewport, error) {
	var vp model.Viewport
	err := v.do(ctx, func() error {
		if !v.hub.ZoomToRowID(key, rowID) {
			return fmt.Errorf("%w: row %d of %q", model.ErrNotFound, rowID, key)
		}
		vp = v.view.Viewport()
		return nil
	})
	return vp, err
}

// Table applies a panel operation: toggle, show, hide or activate.
func (v *Viewer) Table(ctx context.Context, op, key string) (attrsync.Panel, error) {
	var p attrsync.Panel
	err := v.do(ctx, func() error {
		switch op {
		case "toggle":
			v.hub.Toggle()
		case "show":
			v.hub.Show()
		case "hide":
			v.hub.Hide()
		case "activate":
			if key == "" {
				return fmt.Errorf("%w: layer key is required", model.ErrInput)
			}
			v.hub.SetActive(key)
		case "", "state":
		default:
			return fmt.Errorf("%w: unknown table op %q", model.ErrInput, op)
		}
		p = v.hub.Panel()
		return nil
	})
	return p, err
}

// WatchTable streams attribute table changes. Call stop when done.
func (v *Viewer) WatchTable(buf int) (changes <-chan attrsync.Change, stop func()) {
	return v.hub.Watch(buf)
}

// Click simulates a click on shape i of a layer's artifact.
func (v *Viewer) Click(ctx context.Context, layerID string, i int) (edit.Snapshot, error) {
	var snap edit.Snapshot
	err := v.do(ctx, func() error {
		if !v.view.Click(layerID, i) {
			return fmt.Errorf("%w: shape %d of %q", model.ErrNotFound, i, layerID)
		}
		snap = v.edits.Snapshot()
		return nil
	})
	return snap, err
}

func (v *Viewer) EditState(ctx context.Context) (edit.Snapshot, error) {
	var snap edit.Snapshot
	err := v.do(ctx, func() error { snap = v.edits.Snapshot(); return nil })
	return snap, err
}

// EditOp applies enable, disable or cancel.
func (v *Viewer) EditOp(ctx context.Context, op string) (edit.Snapshot, error) {
	var snap edit.Snapshot
	err := v.do(ctx, func() error {
		switch op {
		case "enable":
			v.edits.Enable()
		case "disable":
			v.edits.Disable()
		case "cancel":
			v.edits.Cancel()
		default:
			return fmt.Errorf("%w: unknown edit op %q", model.ErrInput, op)
		}
		snap = v.edits.Snapshot()
		return nil
	})
	return snap, err
}

func (v *Viewer) PatchDraft(ctx context.Context, p edit.Patch) (edit.Snapshot, error) {
	var snap edit.Snapshot
	err := v.do(ctx, func() error {
		if err := v.edits.Patch(p); err != nil {
			return err
		}
		snap = v.edits.Snapshot()
		return nil
	})
	return snap, err
}

// Save writes the draft and waits for the outcome.
func (v *Viewer) Save(ctx context.Context) (edit.Snapshot, error) {
	result := make(chan error, 1)
	if err := v.do(ctx, func() error {
		return v.edits.Save(ctx, func(err error) { result <- err })
	}); err != nil {
		return v.snapshotAfter(ctx, err)
	}
	select {
	case err := <-result:
		return v.snapshotAfter(ctx, err)
	case <-ctx.Done():
		return edit.Snapshot{}, ctx.Err()
	}
}

func (v *Viewer) snapshotAfter(ctx context.Context, cause error) (edit.Snapshot, error) {
	snap, err := v.EditState(ctx)
	if cause != nil {
		return snap, cause
	}
	return snap, err
}

// Rows lists the station table directly from the backend.
func (v *Viewer) Rows(ctx context.Context, q crud.ListQuery) (crud.Page, error) {
	return v.table.List(ctx, q)
}
