package polyline

import (
	"math"
	"strings"
	"testing"

	"github.com/schoolrun/schoolrun/pkg/model"
)

// encode is the inverse of Decode, kept here as a test helper since nothing
// in the system serves encoded geometry.
func encode(coordinates []*model.Location) string {
	var encoded strings.Builder
	var prevLat, prevLon int32

	for _, coordinate := range coordinates {
		lat := int32(coordinate.Latitude() * 1e5)
		lon := int32(coordinate.Longitude() * 1e5)

		encoded.WriteString(encodeSignedNumber(lat - prevLat))
		encoded.WriteString(encodeSignedNumber(lon - prevLon))

		prevLat = lat
		prevLon = lon
	}

	return encoded.String()
}

func encodeSignedNumber(num int32) string {
	shifted := num << 1
	if num < 0 {
		shifted = ^shifted
	}

	var encoded strings.Builder
	value := uint32(shifted)
	for value >= 0x20 {
		encoded.WriteByte(byte((value&0x1F)|0x20) + 63)
		value >>= 5
	}
	encoded.WriteByte(byte(value) + 63)

	return encoded.String()
}

func TestDecodeKnownPolyline(t *testing.T) {
	// Worked example from the Google polyline algorithm documentation.
	coordinates, err := Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := [][2]float64{
		{38.5, -120.2},
		{40.7, -120.95},
		{43.252, -126.453},
	}

	if len(coordinates) != len(expected) {
		t.Fatalf("expected %d points, got %d", len(expected), len(coordinates))
	}

	for i, want := range expected {
		if math.Abs(coordinates[i].Latitude()-want[0]) > 1e-5 ||
			math.Abs(coordinates[i].Longitude()-want[1]) > 1e-5 {
			t.Errorf("point %d: expected (%v, %v), got (%v, %v)",
				i, want[0], want[1], coordinates[i].Latitude(), coordinates[i].Longitude())
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := []*model.Location{
		model.NewLocation(51.5007, -0.1246),
		model.NewLocation(51.5014, -0.1419),
		model.NewLocation(51.5081, -0.0759),
	}

	decoded, err := Decode(encode(original))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(decoded) != len(original) {
		t.Fatalf("expected %d points, got %d", len(original), len(decoded))
	}

	for i := range original {
		if math.Abs(decoded[i].Latitude()-original[i].Latitude()) > 1e-5 ||
			math.Abs(decoded[i].Longitude()-original[i].Longitude()) > 1e-5 {
			t.Errorf("point %d mismatch after round trip", i)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode("_p~iF"); err == nil {
		t.Error("expected error for truncated polyline")
	}
}

func TestDecodeEmpty(t *testing.T) {
	coordinates, err := Decode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coordinates) != 0 {
		t.Errorf("expected no points, got %d", len(coordinates))
	}
}
