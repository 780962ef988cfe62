// Package layout provides warehouse floor geometry: floors, picking areas,
// stock locations and walls. Wave grouping reads the picking-area assignment;
// the route optimizer reads the 2-D geometry.
package layout

import (
	"sort"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/unit"
)

// Capability describes what a location may hold.
type Capability string

const (
	// CapabilityUnknown is the sentinel for unconfigured locations. It cannot
	// be combined with any real capability.
	CapabilityUnknown Capability = "UNKNOWN"
	CapabilityPiece   Capability = "PIECE"
	CapabilityCase    Capability = "CASE"
	CapabilityCarton  Capability = "CARTON"
)

// CapabilitySet is the set of quantity forms a location accepts. It replaces
// the legacy integer flag column.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet validates and builds a capability set.
func NewCapabilitySet(caps ...Capability) (CapabilitySet, error) {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		switch c {
		case CapabilityUnknown, CapabilityPiece, CapabilityCase, CapabilityCarton:
			set[c] = struct{}{}
		default:
			return nil, apperror.NewValidation("unknown location capability").
				WithDetail("capability", string(c))
		}
	}
	if _, hasUnknown := set[CapabilityUnknown]; hasUnknown && len(set) > 1 {
		return nil, apperror.NewValidation("UNKNOWN capability cannot combine with real capabilities")
	}
	if len(set) == 0 {
		set[CapabilityUnknown] = struct{}{}
	}
	return set, nil
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// IsKnown reports whether the location has any configured capability.
func (s CapabilitySet) IsKnown() bool {
	return len(s) > 0 && !s.Has(CapabilityUnknown)
}

// CapabilityFor maps an order unit to the capability that serves it.
func CapabilityFor(t unit.QuantityType) Capability {
	switch t {
	case unit.Piece:
		return CapabilityPiece
	case unit.Case:
		return CapabilityCase
	case unit.Carton:
		return CapabilityCarton
	}
	return CapabilityUnknown
}

// List returns capabilities in stable order (for persistence and logs).
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rect is an axis-aligned bounding box in floor coordinates (meters).
type Rect struct {
	MinX float64 `db:"min_x" json:"minX"`
	MinY float64 `db:"min_y" json:"minY"`
	MaxX float64 `db:"max_x" json:"maxX"`
	MaxY float64 `db:"max_y" json:"maxY"`
}

// CenterX returns the x coordinate of the box centroid.
func (r Rect) CenterX() float64 { return (r.MinX + r.MaxX) / 2 }

// CenterY returns the y coordinate of the box centroid.
func (r Rect) CenterY() float64 { return (r.MinY + r.MaxY) / 2 }

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x < r.MaxX && y >= r.MinY && y < r.MaxY
}

// Floor is one warehouse floor. EntryX/EntryY is the depot the picking walk
// starts from.
type Floor struct {
	ID          id.ID   `db:"id" json:"id"`
	WarehouseID id.ID   `db:"warehouse_id" json:"warehouseId"`
	Code        string  `db:"code" json:"code"`
	Width       float64 `db:"width" json:"width"`
	Height      float64 `db:"height" json:"height"`
	EntryX      float64 `db:"entry_x" json:"entryX"`
	EntryY      float64 `db:"entry_y" json:"entryY"`
}

// PickingArea groups locations into picker work zones.
type PickingArea struct {
	ID           id.ID  `db:"id" json:"id"`
	WarehouseID  id.ID  `db:"warehouse_id" json:"warehouseId"`
	FloorID      id.ID  `db:"floor_id" json:"floorId"`
	Code         string `db:"code" json:"code"`
	DisplayOrder int    `db:"display_order" json:"displayOrder"`
	Active       bool   `db:"active" json:"active"`
}

// Location is one stock location on a floor.
type Location struct {
	ID            id.ID         `db:"id" json:"id"`
	WarehouseID   id.ID         `db:"warehouse_id" json:"warehouseId"`
	FloorID       id.ID         `db:"floor_id" json:"floorId"`
	PickingAreaID id.ID         `db:"picking_area_id" json:"pickingAreaId"`
	Code          string        `db:"code" json:"code"`
	Bounds        Rect          `db:"-" json:"bounds"`
	Capabilities  CapabilitySet `db:"-" json:"capabilities"`
	Active        bool          `db:"active" json:"active"`
}

// CanPick reports whether the location can serve a pick in the given unit.
// An unconfigured location accepts anything; a configured set must list the
// unit's capability.
func (l *Location) CanPick(t unit.QuantityType) bool {
	if !l.Capabilities.IsKnown() {
		return true
	}
	return l.Capabilities.Has(CapabilityFor(t))
}

// Obstacle is a wall or fixed structure pickers cannot cross.
type Obstacle struct {
	ID      id.ID `db:"id" json:"id"`
	FloorID id.ID `db:"floor_id" json:"floorId"`
	Bounds  Rect  `db:"-" json:"bounds"`
}

// FloorLayout bundles everything the route optimizer needs for one floor.
// Layouts change only when shelving is rebuilt, so they cache well.
type FloorLayout struct {
	Floor     Floor      `json:"floor"`
	Locations []Location `json:"locations"`
	Obstacles []Obstacle `json:"obstacles"`
}

// LocationByID finds a location in the layout.
func (fl FloorLayout) LocationByID(locationID id.ID) (Location, bool) {
	for _, loc := range fl.Locations {
		if loc.ID == locationID {
			return loc, true
		}
	}
	return Location{}, false
}
