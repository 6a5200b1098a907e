// Command timelinesvg renders a stored timeline payload as an SVG document.
package main

import (
	"os"

	"github.com/apex/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("timelinesvg")
		os.Exit(1)
	}
}
