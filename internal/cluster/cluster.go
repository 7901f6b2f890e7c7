// Package cluster groups nearby priced points into zoom-dependent clusters
// for map display.
package cluster

import (
	"fmt"
	"math"

	"github.com/rzbill/spotsync/internal/geohash"
)

const (
	// FullResolutionZoom is the zoom at and above which points are bucketed
	// by rounded coordinates instead of geohash cells.
	FullResolutionZoom = 17
	// FullResolutionPrecision is the cap needed to permit full resolution.
	FullResolutionPrecision = 9
	coordDecimals           = 5
)

// Point is one clusterable record.
type Point struct {
	ID       string
	Lat, Lon float64
	Price    float64
	Currency string
	// Weight counts how many listings the point stands for; values < 1 count as 1.
	Weight int
}

func (p Point) weight() int {
	if p.Weight < 1 {
		return 1
	}
	return p.Weight
}

// Cluster aggregates two or more distinct points sharing a bucket.
type Cluster struct {
	ID       string
	Lat, Lon float64
	Members  []Point
	MinPrice float64
	MaxPrice float64
	Currency string
	Count    int
}

// Item is either a single point or a cluster; exactly one field is set.
type Item struct {
	Point   *Point
	Cluster *Cluster
}

// PrecisionForZoom maps a map zoom level to a geohash precision, capped by
// maxPrecision when it is positive.
func PrecisionForZoom(zoom, maxPrecision int) int {
	p := zoom / 2
	if p < 1 {
		p = 1
	}
	if p > FullResolutionPrecision {
		p = FullResolutionPrecision
	}
	if maxPrecision > 0 && p > maxPrecision {
		p = maxPrecision
	}
	return p
}

// Build buckets points for display at zoom. Buckets holding one distinct
// point are returned as that point; the rest become clusters. Items are
// ordered by the first appearance of their bucket in points.
func Build(points []Point, zoom, maxPrecision int) ([]Item, error) {
	fullRes := zoom >= FullResolutionZoom &&
		(maxPrecision <= 0 || maxPrecision >= FullResolutionPrecision)
	precision := PrecisionForZoom(zoom, maxPrecision)

	type bucket struct {
		key     string
		members []Point
		ids     map[string]struct{}
	}
	var order []*bucket
	byKey := map[string]*bucket{}

	for _, p := range points {
		var cell string
		if fullRes {
			cell = fmt.Sprintf("%.*f,%.*f", coordDecimals, round(p.Lat), coordDecimals, round(p.Lon))
		} else {
			gh, err := geohash.Encode(p.Lat, p.Lon, precision)
			if err != nil {
				return nil, err
			}
			cell = gh
		}
		key := cell + "|" + p.Currency

		b, ok := byKey[key]
		if !ok {
			b = &bucket{key: key, ids: map[string]struct{}{}}
			byKey[key] = b
			order = append(order, b)
		}
		if p.ID != "" {
			if _, dup := b.ids[p.ID]; dup {
				continue
			}
			b.ids[p.ID] = struct{}{}
		}
		b.members = append(b.members, p)
	}

	items := make([]Item, 0, len(order))
	for _, b := range order {
		if len(b.members) == 1 {
			p := b.members[0]
			items = append(items, Item{Point: &p})
			continue
		}
		items = append(items, Item{Cluster: summarize(b.key, b.members)})
	}
	return items, nil
}

func summarize(key string, members []Point) *Cluster {
	c := &Cluster{
		ID:       "cluster-" + key,
		Members:  members,
		Currency: members[0].Currency,
		MinPrice: math.Inf(1),
		MaxPrice: math.Inf(-1),
	}
	var sumLat, sumLon float64
	for _, m := range members {
		sumLat += m.Lat
		sumLon += m.Lon
		c.Count += m.weight()
		c.MinPrice = math.Min(c.MinPrice, m.Price)
		c.MaxPrice = math.Max(c.MaxPrice, m.Price)
	}
	n := float64(len(members))
	c.Lat, c.Lon = sumLat/n, sumLon/n
	return c
}

func round(v float64) float64 {
	scale := math.Pow(10, coordDecimals)
	return math.Round(v*scale) / scale
}
