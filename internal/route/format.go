package route

import "fmt"

// Kilometers renders meters for display, two decimals.
func Kilometers(meters float64) string {
	return fmt.Sprintf("%.2f km", meters/1000)
}

// Minutes renders seconds for display, two decimals.
func Minutes(seconds float64) string {
	return fmt.Sprintf("%.2f mins", seconds/60)
}
