package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the daemon banner
func PrintBanner(version string) {
	banner.PrintSimple("Igor", "igord "+version)
}
