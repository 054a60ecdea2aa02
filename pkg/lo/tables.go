package lo

// warmMultipliers is the per-band warm cartridge multiplication factor
// between the YTO and the WCA output.
var warmMultipliers = map[int]int{
	1:  1,
	2:  4, // ESO first article
	3:  6,
	4:  3,
	5:  6,
	6:  6,
	7:  6,
	8:  3,
	9:  3,
	10: 6,
}

// coldMultipliers is the per-band cold cartridge multiplication factor
// between the WCA output and the sky frequency.
var coldMultipliers = map[int]int{
	1:  1,
	2:  1, // ESO first article
	3:  1,
	4:  2,
	5:  2,
	6:  3,
	7:  3,
	8:  6,
	9:  9,
	10: 9,
}

// defaultLoopBW selects each band's loop bandwidth: 0 is 7.5 MHz/V
// (bands 2, 4, 8, 9), 1 is 15 MHz/V (bands 3, 5, 6, 7, 10 and the NRAO
// band 2 prototype). Band 1 has a fixed 2.5 MHz/V loop.
var defaultLoopBW = map[int]uint8{
	1:  0,
	2:  0,
	3:  1,
	4:  0,
	5:  1,
	6:  1,
	7:  1,
	8:  0,
	9:  0,
	10: 1,
}

// WarmMultiplier returns the band's warm multiplication factor, 0 for an
// unknown band.
func WarmMultiplier(band int) int {
	return warmMultipliers[band]
}

// ColdMultiplier returns the band's cold multiplication factor, 0 for an
// unknown band.
func ColdMultiplier(band int) int {
	return coldMultipliers[band]
}
