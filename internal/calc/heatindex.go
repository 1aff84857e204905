// Package calc implements the derived meteorological values: heat index,
// dew point, wind chill, the feels-like composite, equivalent potential
// temperature, and rain-rate-from-accumulation-delta. Every formula here is
// ported from the THI/chill tables and the Bolton (1980) and Magnus
// formulas used by the reference calculation service; temperatures in and
// out are tenths of degrees Fahrenheit unless noted.
package calc

import "math"

// thiTable is the heat-index lookup table: rows run 68F-122F in 1F steps,
// columns run 0%-100% relative humidity in 10-point steps. Values above 125
// are interpolation artifacts only, never returned directly.
var thiTable = [55][11]int{
	{61, 63, 63, 64, 66, 66, 68, 68, 70, 70, 70},
	{63, 64, 65, 65, 67, 67, 69, 69, 71, 71, 72},
	{65, 65, 66, 66, 68, 68, 70, 70, 72, 72, 74},
	{66, 66, 67, 67, 69, 69, 71, 71, 73, 73, 75},
	{67, 67, 68, 69, 70, 71, 72, 72, 74, 74, 76},
	{68, 68, 69, 71, 71, 73, 73, 74, 75, 75, 77},
	{69, 69, 70, 72, 72, 74, 74, 76, 76, 76, 78},
	{70, 71, 71, 73, 73, 75, 75, 77, 77, 78, 79},
	{71, 72, 73, 74, 74, 76, 76, 78, 79, 80, 80},
	{72, 73, 75, 75, 75, 77, 77, 79, 81, 81, 82},
	{74, 74, 76, 76, 77, 78, 79, 80, 82, 83, 84},
	{75, 75, 77, 77, 79, 79, 81, 81, 83, 85, 87},
	{76, 76, 78, 78, 80, 80, 82, 83, 85, 87, 90},
	{77, 77, 79, 79, 81, 81, 83, 85, 87, 89, 93},
	{78, 78, 80, 80, 82, 83, 84, 87, 89, 92, 96},
	{79, 79, 81, 81, 83, 85, 85, 89, 91, 95, 99},
	{79, 80, 81, 82, 84, 86, 87, 91, 94, 98, 103},
	{80, 81, 81, 83, 85, 87, 89, 93, 97, 101, 108},
	{81, 82, 82, 84, 86, 88, 91, 95, 99, 104, 113},
	{82, 83, 83, 85, 87, 90, 93, 97, 102, 109, 120},
	{83, 84, 84, 86, 88, 92, 95, 99, 105, 114, 131},
	{84, 84, 85, 87, 90, 94, 97, 102, 109, 120, 144},
	{84, 85, 86, 89, 92, 95, 99, 105, 113, 128, 150},
	{84, 86, 87, 91, 93, 96, 101, 108, 118, 136, 150},
	{85, 87, 88, 92, 94, 98, 104, 112, 124, 144, 150},
	{86, 88, 89, 93, 96, 100, 107, 116, 130, 150, 150},
	{87, 89, 90, 94, 98, 102, 110, 120, 137, 150, 150},
	{88, 90, 91, 95, 99, 104, 113, 124, 144, 150, 150},
	{89, 91, 93, 97, 101, 107, 117, 128, 150, 150, 150},
	{90, 92, 95, 99, 103, 110, 121, 132, 150, 150, 150},
	{90, 93, 96, 100, 105, 113, 125, 150, 150, 150, 150},
	{90, 94, 97, 101, 107, 116, 129, 150, 150, 150, 150},
	{91, 95, 98, 103, 110, 119, 133, 150, 150, 150, 150},
	{92, 96, 99, 105, 112, 122, 137, 150, 150, 150, 150},
	{93, 97, 100, 106, 114, 125, 150, 150, 150, 150, 150},
	{94, 98, 102, 107, 117, 128, 150, 150, 150, 150, 150},
	{95, 99, 104, 109, 120, 132, 150, 150, 150, 150, 150},
	{95, 100, 105, 111, 123, 135, 150, 150, 150, 150, 150},
	{95, 101, 106, 113, 126, 150, 150, 150, 150, 150, 150},
	{96, 102, 107, 115, 130, 150, 150, 150, 150, 150, 150},
	{97, 103, 108, 117, 133, 150, 150, 150, 150, 150, 150},
	{98, 104, 110, 119, 137, 150, 150, 150, 150, 150, 150},
	{99, 105, 112, 122, 142, 150, 150, 150, 150, 150, 150},
	{100, 106, 113, 125, 150, 150, 150, 150, 150, 150, 150},
	{100, 107, 115, 128, 150, 150, 150, 150, 150, 150, 150},
	{100, 108, 117, 131, 150, 150, 150, 150, 150, 150, 150},
	{101, 109, 119, 134, 150, 150, 150, 150, 150, 150, 150},
	{102, 110, 121, 136, 150, 150, 150, 150, 150, 150, 150},
	{103, 111, 123, 140, 150, 150, 150, 150, 150, 150, 150},
	{104, 112, 125, 143, 150, 150, 150, 150, 150, 150, 150},
	{105, 113, 127, 150, 150, 150, 150, 150, 150, 150, 150},
	{106, 114, 129, 150, 150, 150, 150, 150, 150, 150, 150},
	{107, 116, 131, 150, 150, 150, 150, 150, 150, 150, 150},
	{108, 117, 133, 150, 150, 150, 150, 150, 150, 150, 150},
	{108, 118, 136, 150, 150, 150, 150, 150, 150, 150, 150},
}

const (
	thiBaseTemp = 68
	thiMaxTemp  = 122
)

// HeatIndex interpolates the THI table bilinearly. Returns nil outside the
// table's temperature range, for invalid humidity, or when the
// interpolated result exceeds 125F (an interpolation artifact, not a real
// reading).
func HeatIndex(tempTenthsF int, humidity int) *int16 {
	tempF := float64(tempTenthsF) / 10.0
	if tempF < thiBaseTemp || tempF > thiMaxTemp {
		return nil
	}
	if humidity < 0 || humidity > 100 {
		return nil
	}

	rowIdx := tempF - thiBaseTemp
	colIdx := float64(humidity) / 10.0

	rowLo := int(rowIdx)
	rowHi := rowLo + 1
	if rowHi > len(thiTable)-1 {
		rowHi = len(thiTable) - 1
	}
	rowFrac := rowIdx - float64(rowLo)

	colLo := int(colIdx)
	colHi := colLo + 1
	if colHi > 10 {
		colHi = 10
	}
	colFrac := colIdx - float64(colLo)

	v00 := float64(thiTable[rowLo][colLo])
	v01 := float64(thiTable[rowLo][colHi])
	v10 := float64(thiTable[rowHi][colLo])
	v11 := float64(thiTable[rowHi][colHi])

	v0 := v00 + (v01-v00)*colFrac
	v1 := v10 + (v11-v10)*colFrac
	result := v0 + (v1-v0)*rowFrac

	if result > 125 {
		return nil
	}
	tenths := int16(math.Round(result * 10))
	return &tenths
}

// DewPoint applies the Magnus formula (a=17.502, b=240.97). Returns nil for
// humidity outside (0,100].
func DewPoint(tempTenthsF int, humidity int) *int16 {
	if humidity <= 0 || humidity > 100 {
		return nil
	}
	tempC := (float64(tempTenthsF)/10.0 - 32.0) * 5.0 / 9.0
	rhFrac := float64(humidity) / 100.0

	const a = 17.502
	const b = 240.97

	gamma := math.Log(rhFrac) + (a*tempC)/(b+tempC)
	dpC := (b * gamma) / (a - gamma)
	dpF := dpC*9.0/5.0 + 32.0

	tenths := int16(math.Round(dpF * 10))
	return &tenths
}

var chillTableOne = [11]float64{156, 151, 146, 141, 133, 123, 110, 87, 61, 14, 0}
var chillTableTwo = [11]float64{0, 16, 16, 16, 25, 33, 41, 74, 82, 152, 0}

// WindChill applies the Davis two-table chill-factor formula. Returns nil
// at or above 91.4F, where wind chill no longer applies; returns the raw
// temperature unchanged when there is no wind.
func WindChill(tempTenthsF int, windSpeedMPH int) *int16 {
	tempF := float64(tempTenthsF) / 10.0
	if tempF >= 91.4 {
		return nil
	}
	if windSpeedMPH <= 0 {
		v := int16(tempTenthsF)
		return &v
	}

	speed := windSpeedMPH
	if speed > 50 {
		speed = 50
	}
	index := 10 - speed/5

	cf := chillTableOne[index] + (chillTableTwo[index]/16.0)*float64(speed%5)
	chillF := cf*((tempF-91.4)/256.0) + tempF
	if chillF > tempF {
		chillF = tempF
	}

	tenths := int16(math.Round(chillF * 10))
	return &tenths
}

// FeelsLike picks heat index, wind chill, or the raw temperature per the
// same thresholds as the reference composite: heat index above 80F with
// humidity above 40%, wind chill below 50F with wind above 3mph, otherwise
// the actual temperature.
func FeelsLike(tempTenthsF int, humidity int, windSpeedMPH int) int16 {
	tempF := float64(tempTenthsF) / 10.0

	if tempF > 80.0 && humidity > 40 {
		if hi := HeatIndex(tempTenthsF, humidity); hi != nil {
			return *hi
		}
	}
	if tempF < 50.0 && windSpeedMPH > 3 {
		if wc := WindChill(tempTenthsF, windSpeedMPH); wc != nil {
			return *wc
		}
	}
	return int16(tempTenthsF)
}

// EquivalentPotentialTemperature computes theta_e (Bolton 1980), in tenths
// of Kelvin. Returns nil for non-positive humidity or pressure.
func EquivalentPotentialTemperature(tempTenthsF int, humidity int, pressureThousandthsInHg int) *int32 {
	if humidity <= 0 || pressureThousandthsInHg <= 0 {
		return nil
	}

	tempF := float64(tempTenthsF) / 10.0
	tempC := (tempF - 32.0) * 5.0 / 9.0
	tempK := tempC + 273.15
	pressureHPa := float64(pressureThousandthsInHg) / 1000.0 * 33.8639
	rh := float64(humidity) / 100.0

	es := 6.112 * math.Exp((17.67*tempC)/(tempC+243.5))
	e := rh * es

	r := 621.97 * e / (pressureHPa - e)

	tLCL := (1.0 / (1.0/(tempK-55) - math.Log(rh)/2840.0)) + 55

	thetaE := tempK * math.Pow(1000.0/pressureHPa, 0.2854)
	thetaE *= math.Exp((3.376/tLCL - 0.00254) * r * (1 + 0.81e-3*r))

	tenths := int32(math.Round(thetaE * 10))
	return &tenths
}

// RainRateInchesPerHour derives an hourly rate from the clicks accumulated
// between two readings. Returns nil on non-positive calibration/interval or
// a counter rollover (negative delta).
func RainRateInchesPerHour(rainClicksNow, rainClicksPrev, rainCal int, intervalSeconds float64) *float64 {
	if rainCal <= 0 || intervalSeconds <= 0 {
		return nil
	}
	deltaClicks := rainClicksNow - rainClicksPrev
	if deltaClicks < 0 {
		return nil
	}
	deltaInches := float64(deltaClicks) / float64(rainCal)
	rate := deltaInches * 3600.0 / intervalSeconds
	rounded := math.Round(rate*100) / 100
	return &rounded
}
