// Package polyline implements the Google encoded polyline algorithm used by
// directions providers for route geometry.
package polyline

import (
	"errors"

	"github.com/schoolrun/schoolrun/pkg/model"
)

var ErrTruncated = errors.New("polyline truncated mid-coordinate")

// Decode unpacks an encoded polyline into an ordered coordinate sequence.
func Decode(encoded string) ([]*model.Location, error) {
	var coordinates []*model.Location
	var lat, lon int32

	index := 0
	for index < len(encoded) {
		deltaLat, next, err := decodeSignedNumber(encoded, index)
		if err != nil {
			return nil, err
		}
		index = next

		deltaLon, next, err := decodeSignedNumber(encoded, index)
		if err != nil {
			return nil, err
		}
		index = next

		lat += deltaLat
		lon += deltaLon

		coordinates = append(coordinates, model.NewLocation(float64(lat)/1e5, float64(lon)/1e5))
	}

	return coordinates, nil
}

func decodeSignedNumber(encoded string, index int) (int32, int, error) {
	var result uint32
	var shift uint

	for {
		if index >= len(encoded) {
			return 0, index, ErrTruncated
		}

		chunk := uint32(encoded[index]) - 63
		index++

		result |= (chunk & 0x1F) << shift
		shift += 5

		if chunk < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return int32(^(result >> 1)), index, nil
	}
	return int32(result >> 1), index, nil
}
