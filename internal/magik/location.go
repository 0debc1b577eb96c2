package magik

import (
	"fmt"
	"math"

	"magikcraft/internal/memory"
)

type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s(%.1f, %.1f, %.1f)", l.World, l.X, l.Y, l.Z)
}

// Record is the form a location takes inside memory and scripts.
func (l Location) Record() memory.Record {
	return memory.Record{
		"world": l.World,
		"x":     l.X,
		"y":     l.Y,
		"z":     l.Z,
		"yaw":   l.Yaw,
		"pitch": l.Pitch,
	}
}

// Distance is the straight-line distance, ignoring worlds.
func (l Location) Distance(other Location) float64 {
	dx, dy, dz := l.X-other.X, l.Y-other.Y, l.Z-other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// LocationFrom reads a location out of whatever a script remembered: a
// Location, or a record with x, y and z.
func LocationFrom(value any) (Location, error) {
	switch v := value.(type) {
	case Location:
		return v, nil
	case *Location:
		if v == nil {
			return Location{}, fmt.Errorf("%w: location is nil", ErrInvalidArgument)
		}
		return *v, nil
	case memory.Record:
		return locationFromRecord(v)
	case map[string]any:
		return locationFromRecord(memory.Record(v))
	case nil:
		return Location{}, fmt.Errorf("%w: location is nil", ErrInvalidArgument)
	}
	return Location{}, fmt.Errorf("%w: %T is not a location", ErrInvalidArgument, value)
}

func locationFromRecord(r memory.Record) (Location, error) {
	var loc Location
	var err error
	if loc.X, err = coordinate(r, "x", true); err != nil {
		return Location{}, err
	}
	if loc.Y, err = coordinate(r, "y", true); err != nil {
		return Location{}, err
	}
	if loc.Z, err = coordinate(r, "z", true); err != nil {
		return Location{}, err
	}
	if loc.Yaw, err = coordinate(r, "yaw", false); err != nil {
		return Location{}, err
	}
	if loc.Pitch, err = coordinate(r, "pitch", false); err != nil {
		return Location{}, err
	}
	if world, ok := r["world"].(string); ok {
		loc.World = world
	}
	return loc, nil
}

func coordinate(r memory.Record, key string, required bool) (float64, error) {
	raw, ok := r[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: location has no %s", ErrInvalidArgument, key)
		}
		return 0, nil
	}
	var f float64
	switch n := raw.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, fmt.Errorf("%w: location %s is %T, not a number", ErrInvalidArgument, key, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: location %s is not finite", ErrInvalidArgument, key)
	}
	return f, nil
}
