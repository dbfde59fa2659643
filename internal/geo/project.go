// Package geo holds the planar geometry used by the exposure pipelines:
// Web Mercator projection, circular buffers, point-to-geometry distances,
// an rtree-backed hazard index, polygon overlay and encoders for PostGIS
// and WKT consumers.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ToMercator returns a copy of g projected from EPSG:4326 to EPSG:3857.
func ToMercator(g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
}

// ToWGS84 returns a copy of g projected from EPSG:3857 to EPSG:4326.
func ToWGS84(g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}

// PointToMercator projects a lon/lat point.
func PointToMercator(p orb.Point) orb.Point {
	return project.WGS84.ToMercator(p)
}

// PointToWGS84 unprojects a Web Mercator point.
func PointToWGS84(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}
