package gpu

import (
	"fmt"
)

// Debug enables verbose diagnostics for GPU setup and dispatch
var Debug = false

// Log prints a diagnostic line when Debug is enabled
func Log(format string, args ...interface{}) {
	if Debug {
		fmt.Printf("[GPU] "+format+"\n", args...)
	}
}
