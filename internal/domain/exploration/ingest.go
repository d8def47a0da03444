package exploration

import (
	"strings"

	"github.com/FACorreiaa/loci-heritage-api/internal/domain/category"
	"github.com/FACorreiaa/loci-heritage-api/internal/domain/location"
	"github.com/FACorreiaa/loci-heritage-api/internal/sources"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

const maxAddressLength = 90

// trashTags rejects transport infrastructure, retail and food service.
// A key mapped to nil rejects any value.
var trashTags = map[string][]string{
	"railway":          nil,
	"public_transport": nil,
	"highway":          nil,
	"shop":             nil,
	"amenity": {
		"bus_station", "taxi", "parking", "atm", "restaurant", "cafe", "fast_food", "bar", "pub",
		"ferry_terminal", "bicycle_rental", "fuel", "bank", "pharmacy",
	},
}

var nameKeys = []string{"name:en", "name", "name:es"}

// Name picks the display name of an element, preferring English.
func Name(tags map[string]string) string {
	for _, k := range nameKeys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}

// Trash reports elements that are not heritage points of interest.
func Trash(tags map[string]string, name string) bool {
	for key, values := range trashTags {
		v, ok := tags[key]
		if !ok {
			continue
		}
		if values == nil {
			return true
		}
		for _, bad := range values {
			if v == bad {
				return true
			}
		}
	}
	return sources.TransportName(name)
}

// Address builds "street, city" from address tags, falling back to the area label.
func Address(tags map[string]string, label string) string {
	street := strings.TrimSpace(strings.TrimSpace(tags["addr:street"] + " " + tags["addr:housenumber"]))
	city := ""
	for _, k := range []string{"addr:city", "addr:town", "addr:village"} {
		if v := strings.TrimSpace(tags[k]); v != "" {
			city = v
			break
		}
	}

	var addr string
	switch {
	case street != "" && city != "":
		addr = street + ", " + city
	case city != "":
		addr = city
	case street != "" && label != "":
		addr = street + ", " + label
	default:
		addr = label
	}
	return textnorm.Truncate(addr, maxAddressLength)
}

// Candidates turns raw map elements into insertable locations: trash and
// nameless or position-less elements are dropped, the rest classified and
// deduplicated.
func Candidates(elements []sources.Element, label string, approved bool) []types.Location {
	out := make([]types.Location, 0, len(elements))
	for _, e := range elements {
		name := Name(e.Tags)
		if name == "" || Trash(e.Tags, name) {
			continue
		}
		lat, lon, ok := e.Position()
		if !ok {
			continue
		}
		description := strings.TrimSpace(e.Tags["description"])
		out = append(out, types.Location{
			Name:        name,
			Category:    category.Classify(e.Tags, name, description),
			Description: description,
			Address:     Address(e.Tags, label),
			Latitude:    lat,
			Longitude:   lon,
			Images:      []string{},
			Source:      types.SourceExploration,
			Approved:    approved,
		})
	}
	return location.Dedupe(out)
}
