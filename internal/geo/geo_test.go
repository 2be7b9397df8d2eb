package geo

import (
	"math"
	"testing"
)

func TestDistance_KnownPair(t *testing.T) {
	paris := Point{Lat: 48.8566, Lon: 2.3522}
	london := Point{Lat: 51.5074, Lon: -0.1278}

	d := Distance(paris, london)
	if d < 330 || d > 350 {
		t.Errorf("Paris-London distance out of range: %.1f km", d)
	}
}

func TestDistance_ZeroAndSymmetry(t *testing.T) {
	a := Point{Lat: 47.6062, Lon: -122.3321}
	b := Point{Lat: 45.5152, Lon: -122.6784}

	if d := Distance(a, a); d != 0 {
		t.Errorf("distance to self should be 0, got %f", d)
	}
	if math.Abs(Distance(a, b)-Distance(b, a)) > 1e-9 {
		t.Error("distance should be symmetric")
	}
}

func TestPoint_Hidden(t *testing.T) {
	if !(Point{}).Hidden() {
		t.Error("(0,0) should be the hidden-location sentinel")
	}
	if (Point{Lat: 0.0001, Lon: 0}).Hidden() {
		t.Error("near-zero coordinate is a real location")
	}
}
