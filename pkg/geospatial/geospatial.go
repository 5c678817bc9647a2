package geospatial

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

// ValidateGeoJSON accepts a Feature or a bare geometry object and returns
// its geometry. Only points, polygons and multipolygons describe a project site.
func ValidateGeoJSON(raw []byte) (orb.Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	var geom orb.Geometry
	switch probe.Type {
	case "Feature":
		feature, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		geom = feature.Geometry
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		geom = g.Geometry()
	}

	if geom == nil {
		return nil, fmt.Errorf("%w: no geometry", ErrInvalidGeometry)
	}
	switch g := geom.(type) {
	case orb.Point:
		if err := ValidatePoint(g.Lat(), g.Lon()); err != nil {
			return nil, err
		}
	case orb.Polygon, orb.MultiPolygon:
		bound := g.Bound()
		if err := ValidatePoint(bound.Min.Lat(), bound.Min.Lon()); err != nil {
			return nil, err
		}
		if err := ValidatePoint(bound.Max.Lat(), bound.Max.Lon()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidGeometry, geom.GeoJSONType())
	}
	return geom, nil
}

// ValidatePoint checks WGS84 coordinate ranges.
func ValidatePoint(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidGeometry, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidGeometry, lng)
	}
	return nil
}

// CalculateArea returns the geodesic area in square meters.
func CalculateArea(geometry orb.Geometry) float64 {
	return geo.Area(geometry)
}

// CalculateCentroid calculates the centroid of a geometry
func CalculateCentroid(geometry orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(geometry)
	return c
}

// ConvertToHectares converts square meters to hectares
func ConvertToHectares(sqMeters float64) float64 {
	return sqMeters / 10000
}
