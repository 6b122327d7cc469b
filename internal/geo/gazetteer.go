// Package geo resolves district names and coordinates for the target state
package geo

import (
	_ "embed"
	"math"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

//go:embed districts.yaml
var defaultGazetteer []byte

// District is a district headquarters with its known alternative names
type District struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Lat     float64  `yaml:"lat"`
	Lon     float64  `yaml:"lon"`
}

// Gazetteer indexes the districts of one state
type Gazetteer struct {
	State     string     `yaml:"state"`
	Districts []District `yaml:"districts"`

	byName map[string]string
}

// Default returns the embedded Maharashtra gazetteer
func Default() *Gazetteer {
	g, err := Parse(defaultGazetteer)
	if err != nil {
		panic(err)
	}
	return g
}

// Parse reads a gazetteer from YAML
func Parse(data []byte) (*Gazetteer, error) {
	var g Gazetteer
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, errors.Annotate(err, "parsing gazetteer")
	}
	g.byName = make(map[string]string)
	for i, d := range g.Districts {
		if d.Name == "" {
			return nil, errors.NotValidf("district %d without a name", i)
		}
		if d.Lat < -90 || d.Lat > 90 || d.Lon < -180 || d.Lon > 180 {
			return nil, errors.NotValidf("coordinates for %s", d.Name)
		}
		canonical := normalize(d.Name)
		g.byName[canonical] = canonical
		for _, alias := range d.Aliases {
			g.byName[normalize(alias)] = canonical
		}
	}
	return &g, nil
}

// Lookup returns the canonical district name for a name or alias
func (g *Gazetteer) Lookup(name string) (string, bool) {
	canonical, ok := g.byName[normalize(name)]
	return canonical, ok
}

// Variants returns every known spelling of the district the name refers to,
// the canonical name first. Unknown names yield nil.
func (g *Gazetteer) Variants(name string) []string {
	canonical, ok := g.Lookup(name)
	if !ok {
		return nil
	}
	for _, d := range g.Districts {
		if normalize(d.Name) != canonical {
			continue
		}
		variants := []string{canonical}
		for _, alias := range d.Aliases {
			variants = append(variants, normalize(alias))
		}
		return variants
	}
	return nil
}

// Names returns the canonical district names in file order
func (g *Gazetteer) Names() []string {
	names := make([]string, len(g.Districts))
	for i, d := range g.Districts {
		names[i] = normalize(d.Name)
	}
	return names
}

// Nearest returns the district whose headquarters is closest to the point,
// together with the distance in kilometres.
func (g *Gazetteer) Nearest(lat, lon float64) (District, float64, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return District{}, 0, errors.NotValidf("coordinates (%v, %v)", lat, lon)
	}
	if len(g.Districts) == 0 {
		return District{}, 0, errors.NotFoundf("districts")
	}
	best := -1
	bestKm := math.Inf(1)
	for i, d := range g.Districts {
		km := Distance(lat, lon, d.Lat, d.Lon)
		if km < bestKm {
			best, bestKm = i, km
		}
	}
	return g.Districts[best], bestKm, nil
}

// Distance is the great-circle distance in kilometres between two points
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}
