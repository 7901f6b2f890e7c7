package geohash

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Alphabet is the base-32 key alphabet (no a, i, l, o).
const Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// MaxPrecision is the longest key Encode produces reliably with float64.
const MaxPrecision = 12

var (
	ErrInvalidPrecision = errors.New("geohash: precision must be positive")
	ErrInvalidKey       = errors.New("geohash: invalid key")
)

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// Box is the rectangle covered by a key.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Center returns the midpoint of the box.
func (b Box) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Encode returns the key of the given precision for a point.
func Encode(lat, lon float64, precision int) (string, error) {
	if precision <= 0 {
		return "", ErrInvalidPrecision
	}
	lat = clampLat(lat)
	lon = wrapLon(lon)

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0
	var sb strings.Builder
	sb.Grow(precision)

	even := true // longitude first
	bit, ch := 0, 0
	for sb.Len() < precision {
		if even {
			mid := (lonLo + lonHi) / 2
			if lon >= mid {
				ch = ch<<1 | 1
				lonLo = mid
			} else {
				ch <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		even = !even
		if bit++; bit == 5 {
			sb.WriteByte(Alphabet[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String(), nil
}

// DecodeBounds returns the box named by key.
func DecodeBounds(key string) (Box, error) {
	if key == "" {
		return Box{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	b := Box{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	even := true
	for i := 0; i < len(key); i++ {
		v := decodeTable[key[i]]
		if v < 0 {
			return Box{}, fmt.Errorf("%w: %q at %d", ErrInvalidKey, key[i], i)
		}
		for mask := 16; mask > 0; mask >>= 1 {
			on := int(v)&mask != 0
			if even {
				mid := (b.MinLon + b.MaxLon) / 2
				if on {
					b.MinLon = mid
				} else {
					b.MaxLon = mid
				}
			} else {
				mid := (b.MinLat + b.MaxLat) / 2
				if on {
					b.MinLat = mid
				} else {
					b.MaxLat = mid
				}
			}
			even = !even
		}
	}
	return b, nil
}

// CellSize returns the latitude and longitude extent, in degrees, of a key
// of the given precision.
func CellSize(precision int) (latDeg, lonDeg float64) {
	bits := 5 * precision
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Pow(2, float64(latBits)), 360 / math.Pow(2, float64(lonBits))
}

// Neighbors returns the key containing the point followed by the keys of
// the eight points one cell away in each compass direction. Duplicates
// (near the poles, or at coarse precision) are collapsed, so the result
// holds between 1 and 9 keys and always starts with the center key.
func Neighbors(lat, lon float64, precision int) ([]string, error) {
	center, err := Encode(lat, lon, precision)
	if err != nil {
		return nil, err
	}
	dLat, dLon := CellSize(precision)

	keys := []string{center}
	seen := map[string]struct{}{center: {}}
	for _, off := range [8][2]float64{
		{1, 0}, {1, 1}, {0, 1}, {-1, 1},
		{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	} {
		k, err := Encode(lat+off[0]*dLat, lon+off[1]*dLon, precision)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// CoverKeys is Neighbors with the result sorted for use as a filter value.
func CoverKeys(lat, lon float64, precision int) ([]string, error) {
	keys, err := Neighbors(lat, lon, precision)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// Prefixes returns every prefix of key from length 1 up to len(key). Records
// carry all of them as tags so a search at any precision can match.
func Prefixes(key string) []string {
	out := make([]string, 0, len(key))
	for i := 1; i <= len(key); i++ {
		out = append(out, key[:i])
	}
	return out
}

func clampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// wrapLon maps any longitude into [-180, 180]. 180 itself is kept so it
// lands in the easternmost cell.
func wrapLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
