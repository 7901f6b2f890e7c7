package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rzbill/spotsync/internal/geohash"
)

// SpotGeohashPrecision is the longest geohash tag attached to a spot.
const SpotGeohashPrecision = 9

// Spot is the public content of a KindParkingSpot record.
type Spot struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Note     string  `json:"note,omitempty"`
	// Weight is the number of bays the listing represents.
	Weight int `json:"weight,omitempty"`
}

// Validate checks coordinate ranges and required fields.
func (s Spot) Validate() error {
	if math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", s.Lat)
	}
	if math.IsNaN(s.Lon) || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", s.Lon)
	}
	if s.Price < 0 {
		return errors.New("price must not be negative")
	}
	if s.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

// NewSpotRecord builds an unsigned spot record addressed by d. It carries a
// "g" tag for every geohash prefix of the spot's location so searches at
// any precision match.
func NewSpotRecord(d string, s Spot, createdAt int64) (Record, error) {
	if err := s.Validate(); err != nil {
		return Record{}, err
	}
	if d == "" {
		return Record{}, errors.New("spot identifier is required")
	}
	gh, err := geohash.Encode(s.Lat, s.Lon, SpotGeohashPrecision)
	if err != nil {
		return Record{}, err
	}
	body, err := json.Marshal(s)
	if err != nil {
		return Record{}, fmt.Errorf("encode spot: %w", err)
	}
	r := Record{Kind: KindParkingSpot, CreatedAt: createdAt, Content: string(body)}
	r.Tags = append(r.Tags, Tag{"d", d})
	for _, p := range geohash.Prefixes(gh) {
		r.Tags = append(r.Tags, Tag{"g", p})
	}
	return r, nil
}

// ParseSpot decodes and validates spot content.
func ParseSpot(content []byte) (Spot, error) {
	var s Spot
	if err := json.Unmarshal(content, &s); err != nil {
		return Spot{}, fmt.Errorf("decode spot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Spot{}, err
	}
	return s, nil
}
