package geo

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/dragonrift/encounter/pkg/core"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Positions are parsed from "x,y,z" config strings and stored in the history
// archive as WKB points. SQLite has no spatial awareness, so WKB via the geom
// types keeps persistence uniform across both database backends.

// ErrInvalidCoordinates is returned when a coordinate string cannot be parsed.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PositionFromString parses "x,y" or "x,y,z" into a core.Position3D.
func PositionFromString(coords string) (core.Position3D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	var z float64
	if len(parts) > 2 {
		z, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
	}
	return core.Position3D{X: x, Y: y, Z: z}, nil
}

// PointFromPosition converts a position to an XYZ geom.Point for WKB storage.
func PointFromPosition(p core.Position3D) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Z:    p.Z,
		Type: geom.DimXYZ,
	})
}

// PositionFromPoint converts a stored XYZ point back to a position.
func PositionFromPoint(pt geom.Point) core.Position3D {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Position3D{}
	}
	return core.Position3D{X: c.XY.X, Y: c.XY.Y, Z: c.Z}
}

// WKBFromPosition encodes a position as a WKB XYZ point for database
// storage.
func WKBFromPosition(p core.Position3D) []byte {
	return PointFromPosition(p).AsBinary()
}

// PositionFromWKB decodes a WKB blob written by WKBFromPosition.
func PositionFromWKB(b []byte) (core.Position3D, error) {
	g, err := geom.UnmarshalWKB(b)
	if err != nil {
		return core.Position3D{}, fmt.Errorf("decoding position wkb: %w", err)
	}
	pt, ok := g.AsPoint()
	if !ok {
		return core.Position3D{}, errors.New("position wkb is not a point")
	}
	return PositionFromPoint(pt), nil
}

// Region is a 3D axis-aligned box in world coordinates.
type Region struct {
	Min core.Position3D
	Max core.Position3D
}

// NewRegion builds a region from two opposite corners, normalizing so that
// Min <= Max on every axis.
func NewRegion(a, b core.Position3D) Region {
	r := Region{Min: a, Max: b}
	if r.Min.X > r.Max.X {
		r.Min.X, r.Max.X = r.Max.X, r.Min.X
	}
	if r.Min.Y > r.Max.Y {
		r.Min.Y, r.Max.Y = r.Max.Y, r.Min.Y
	}
	if r.Min.Z > r.Max.Z {
		r.Min.Z, r.Max.Z = r.Max.Z, r.Min.Z
	}
	return r
}

// RegionFromStrings parses two "x,y,z" corner strings into a region.
func RegionFromStrings(minStr, maxStr string) (Region, error) {
	a, err := PositionFromString(minStr)
	if err != nil {
		return Region{}, fmt.Errorf("region min corner: %w", err)
	}
	b, err := PositionFromString(maxStr)
	if err != nil {
		return Region{}, fmt.Errorf("region max corner: %w", err)
	}
	return NewRegion(a, b), nil
}

// Contains reports whether p lies inside the region, boundary inclusive.
func (r Region) Contains(p core.Position3D) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// Center returns the midpoint of the region.
func (r Region) Center() core.Position3D {
	return core.Position3D{
		X: (r.Min.X + r.Max.X) / 2,
		Y: (r.Min.Y + r.Max.Y) / 2,
		Z: (r.Min.Z + r.Max.Z) / 2,
	}
}

// IsZero reports whether the region is the zero value (unset in config).
func (r Region) IsZero() bool {
	return r.Min == (core.Position3D{}) && r.Max == (core.Position3D{})
}

// RandomWithin returns a uniformly distributed point inside the region.
func (r Region) RandomWithin(rng *rand.Rand) core.Position3D {
	return core.Position3D{
		X: r.Min.X + rng.Float64()*(r.Max.X-r.Min.X),
		Y: r.Min.Y + rng.Float64()*(r.Max.Y-r.Min.Y),
		Z: r.Min.Z + rng.Float64()*(r.Max.Z-r.Min.Z),
	}
}
