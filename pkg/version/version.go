package version

import (
	"fmt"
	"runtime"
)

// Set through -ldflags "-X".
var (
	Version = "1.0.0"
	Commit  = "dev"
)

func String() string {
	return fmt.Sprintf("fwapi %s (%s) %s/%s %s", Version, Commit, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
