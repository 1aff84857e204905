package calc

import "testing"

func TestHeatIndexTableLookup(t *testing.T) {
	// 85F at row index 17 (85-68), 0% humidity column 0: table value 80.
	hi := HeatIndex(850, 0)
	if hi == nil || *hi != 800 {
		t.Fatalf("HeatIndex(850, 0) = %v, want 800", hi)
	}
}

func TestHeatIndexOutOfRange(t *testing.T) {
	if hi := HeatIndex(600, 50); hi != nil {
		t.Errorf("HeatIndex below table range should be nil, got %v", *hi)
	}
	if hi := HeatIndex(1300, 50); hi != nil {
		t.Errorf("HeatIndex above table range should be nil, got %v", *hi)
	}
	if hi := HeatIndex(850, 150); hi != nil {
		t.Errorf("HeatIndex with invalid humidity should be nil, got %v", *hi)
	}
}

func TestHeatIndexRejectsInterpolationArtifact(t *testing.T) {
	// 93F at 100% humidity: table value is 150, an interpolation-only cell.
	if hi := HeatIndex(930, 100); hi != nil {
		t.Errorf("HeatIndex for a >125 table cell should be nil, got %v", *hi)
	}
}

func TestDewPointKnownValue(t *testing.T) {
	// 70F at 50% RH; sanity bound rather than an exact float match.
	dp := DewPoint(700, 50)
	if dp == nil {
		t.Fatal("DewPoint returned nil for valid input")
	}
	if *dp < 450 || *dp > 520 {
		t.Errorf("DewPoint(700, 50) = %d, want roughly 500 (within [450,520])", *dp)
	}
}

func TestDewPointInvalidHumidity(t *testing.T) {
	if dp := DewPoint(700, 0); dp != nil {
		t.Errorf("DewPoint with 0%% humidity should be nil, got %v", *dp)
	}
	if dp := DewPoint(700, 101); dp != nil {
		t.Errorf("DewPoint with >100%% humidity should be nil, got %v", *dp)
	}
}

func TestWindChillNoWind(t *testing.T) {
	wc := WindChill(300, 0)
	if wc == nil || *wc != 300 {
		t.Fatalf("WindChill with no wind should equal input temp, got %v", wc)
	}
}

func TestWindChillAboveThreshold(t *testing.T) {
	if wc := WindChill(920, 10); wc != nil {
		t.Errorf("WindChill at/above 91.4F should be nil, got %v", *wc)
	}
}

func TestWindChillNeverExceedsTemp(t *testing.T) {
	wc := WindChill(300, 20)
	if wc == nil {
		t.Fatal("expected a wind chill value")
	}
	if *wc > 300 {
		t.Errorf("WindChill %d should not exceed actual temp 300", *wc)
	}
}

func TestFeelsLikeSelectsHeatIndex(t *testing.T) {
	fl := FeelsLike(900, 60, 5)
	hi := HeatIndex(900, 60)
	if hi == nil || fl != *hi {
		t.Errorf("FeelsLike = %d, want heat index %v", fl, hi)
	}
}

func TestFeelsLikeSelectsWindChill(t *testing.T) {
	fl := FeelsLike(300, 50, 10)
	wc := WindChill(300, 10)
	if wc == nil || fl != *wc {
		t.Errorf("FeelsLike = %d, want wind chill %v", fl, wc)
	}
}

func TestFeelsLikeFallsBackToActual(t *testing.T) {
	fl := FeelsLike(650, 50, 2)
	if fl != 650 {
		t.Errorf("FeelsLike = %d, want raw temp 650", fl)
	}
}

func TestEquivalentPotentialTemperatureInvalidInputs(t *testing.T) {
	if v := EquivalentPotentialTemperature(700, 0, 29920); v != nil {
		t.Errorf("expected nil for zero humidity, got %v", *v)
	}
	if v := EquivalentPotentialTemperature(700, 50, 0); v != nil {
		t.Errorf("expected nil for zero pressure, got %v", *v)
	}
}

func TestEquivalentPotentialTemperatureReasonableRange(t *testing.T) {
	v := EquivalentPotentialTemperature(700, 50, 29920)
	if v == nil {
		t.Fatal("expected a value")
	}
	// theta_e in tenths K should be in a physically plausible band.
	if *v < 2900 || *v > 3600 {
		t.Errorf("theta_e = %d tenths K, want within [2900,3600]", *v)
	}
}

func TestRainRateInchesPerHour(t *testing.T) {
	rate := RainRateInchesPerHour(105, 100, 100, 1800) // 5 clicks / 100 per inch over 30 minutes
	if rate == nil {
		t.Fatal("expected a rate")
	}
	if *rate != 0.1 {
		t.Errorf("RainRateInchesPerHour = %v, want 0.1", *rate)
	}
}

func TestRainRateInchesPerHourRejectsRollover(t *testing.T) {
	if rate := RainRateInchesPerHour(5, 100, 100, 1800); rate != nil {
		t.Errorf("expected nil on counter rollover, got %v", *rate)
	}
}
