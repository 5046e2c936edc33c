package coverage

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownRegion is returned for region names without a preset.
var ErrUnknownRegion = errors.New("unknown region")

// Region is a named latitude/longitude bounding box.
type Region struct {
	Name   string  `json:"name"`
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// Validate checks the box is well formed and on the globe.
func (r Region) Validate() error {
	switch {
	case r.Name == "":
		return errors.New("region name is required")
	case r.LatMin > r.LatMax:
		return fmt.Errorf("region %s: lat_min %.4f exceeds lat_max %.4f", r.Name, r.LatMin, r.LatMax)
	case r.LonMin > r.LonMax:
		return fmt.Errorf("region %s: lon_min %.4f exceeds lon_max %.4f", r.Name, r.LonMin, r.LonMax)
	case r.LatMin < -90 || r.LatMax > 90:
		return fmt.Errorf("region %s: latitude out of range", r.Name)
	case r.LonMin < -180 || r.LonMax > 180:
		return fmt.Errorf("region %s: longitude out of range", r.Name)
	}
	return nil
}

var presets = map[string]Region{
	"europe":        {Name: "europe", LatMin: 36.0, LatMax: 71.0, LonMin: -10.0, LonMax: 40.0},
	"france":        {Name: "france", LatMin: 41.0, LatMax: 51.5, LonMin: -5.5, LonMax: 10.0},
	"benelux":       {Name: "benelux", LatMin: 49.4, LatMax: 53.6, LonMin: 2.5, LonMax: 7.3},
	"spain":         {Name: "spain", LatMin: 36.0, LatMax: 43.8, LonMin: -9.5, LonMax: 4.5},
	"italy":         {Name: "italy", LatMin: 36.5, LatMax: 47.0, LonMin: 6.5, LonMax: 18.5},
	"germany":       {Name: "germany", LatMin: 47.0, LatMax: 55.0, LonMin: 5.5, LonMax: 15.5},
	"uk":            {Name: "uk", LatMin: 49.5, LatMax: 61.0, LonMin: -8.5, LonMax: 2.0},
	"scandinavia":   {Name: "scandinavia", LatMin: 55.0, LatMax: 71.0, LonMin: 4.0, LonMax: 31.0},
	"north_america": {Name: "north_america", LatMin: 25.0, LatMax: 72.0, LonMin: -170.0, LonMax: -52.0},
	"usa":           {Name: "usa", LatMin: 25.0, LatMax: 50.0, LonMin: -125.0, LonMax: -66.0},
	"canada":        {Name: "canada", LatMin: 42.0, LatMax: 72.0, LonMin: -141.0, LonMax: -52.0},
	"world":         {Name: "world", LatMin: -60.0, LatMax: 75.0, LonMin: -180.0, LonMax: 180.0},
}

// LookupRegion returns a preset region by name.
func LookupRegion(name string) (Region, error) {
	r, ok := presets[name]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
	}
	return r, nil
}

// RegionNames lists the preset names in alphabetical order.
func RegionNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
