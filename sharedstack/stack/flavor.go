package stack

import (
	"fmt"
	"runtime"
	"strings"
)

// Flavor returns the eups platform flavor of the system the tool targets.
// The mapping follows the logic eups itself uses, without introducing an
// eups dependency.
func Flavor() (string, error) {
	return flavorFor(runtime.GOOS, runtime.GOARCH)
}

func flavorFor(goos, goarch string) (string, error) {
	switch goos {
	case "linux":
		if strings.HasSuffix(goarch, "64") {
			return "Linux64", nil
		}
		return "Linux", nil
	case "darwin":
		if goarch == "amd64" || goarch == "386" {
			return "DarwinX86", nil
		}
		return "Darwin", nil
	default:
		return "", fmt.Errorf("unknown flavor: (%s, %s)", goos, goarch)
	}
}
