// Command tiltboard runs the pinball maintenance tracker.
package main

import (
	"os"

	"github.com/tiltboard/tiltboard/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
