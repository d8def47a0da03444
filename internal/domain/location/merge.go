package location

import (
	"cmp"
	"slices"

	"github.com/FACorreiaa/loci-heritage-api/internal/geo"
	"github.com/FACorreiaa/loci-heritage-api/internal/textnorm"
	"github.com/FACorreiaa/loci-heritage-api/internal/types"
)

// DuplicateRadiusMeters is how close two same-named records must be to count
// as one place.
const DuplicateRadiusMeters = 75.0

// SamePlace reports whether a and b describe the same place: a shared
// external id, or equal folded names within DuplicateRadiusMeters.
func SamePlace(a, b types.Location) bool {
	if a.ExternalID != "" && a.ExternalID == b.ExternalID {
		return true
	}
	if textnorm.Fold(a.Name) != textnorm.Fold(b.Name) {
		return false
	}
	return geo.DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude) <= DuplicateRadiusMeters
}

// Merge combines store records with freshly fetched ones. Store records win
// every duplicate, so their enrichment state survives. When anchor is set
// the result is ordered by distance, otherwise by recency with records
// lacking store identity last.
func Merge(store, external []types.Location, anchor *types.Anchor) []types.Location {
	out := make([]types.Location, 0, len(store)+len(external))
	out = append(out, store...)

	for _, ext := range external {
		dup := false
		for _, existing := range out {
			if SamePlace(existing, ext) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ext)
		}
	}

	if anchor != nil {
		for i := range out {
			if out[i].Distance == nil {
				d := geo.DistanceMeters(anchor.Latitude, anchor.Longitude, out[i].Latitude, out[i].Longitude)
				out[i].Distance = &d
			}
		}
		slices.SortStableFunc(out, func(a, b types.Location) int {
			return cmp.Compare(*a.Distance, *b.Distance)
		})
		return out
	}

	slices.SortStableFunc(out, func(a, b types.Location) int {
		switch {
		case a.Stored() && b.Stored():
			return cmp.Compare(b.ID, a.ID)
		case a.Stored():
			return -1
		case b.Stored():
			return 1
		}
		return 0
	})
	return out
}

// Dedupe drops candidates that repeat an earlier candidate's external id or
// folded name. Upserts are keyed by name, so later same-named candidates
// could never be written anyway.
func Dedupe(candidates []types.Location) []types.Location {
	seenNames := make(map[string]struct{}, len(candidates))
	seenIDs := make(map[string]struct{})
	out := make([]types.Location, 0, len(candidates))

	for _, c := range candidates {
		name := textnorm.Fold(c.Name)
		if name == "" {
			continue
		}
		if _, ok := seenNames[name]; ok {
			continue
		}
		if c.ExternalID != "" {
			if _, ok := seenIDs[c.ExternalID]; ok {
				continue
			}
			seenIDs[c.ExternalID] = struct{}{}
		}
		seenNames[name] = struct{}{}
		out = append(out, c)
	}
	return out
}

func distanceFrom(anchor *types.Anchor, loc types.Location) float64 {
	return geo.DistanceMeters(anchor.Latitude, anchor.Longitude, loc.Latitude, loc.Longitude)
}
