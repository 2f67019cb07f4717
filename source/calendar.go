package source

// ToSourceYear converts a Gregorian calendar year to the short Buddhist-era
// identifier the registry uses in its file paths (2543 BE -> 43).
func ToSourceYear(year int) int {
	return year + 543 - 2500
}
