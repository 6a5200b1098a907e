// Package logging builds the apex/log logger shared by the binaries.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// New returns a logger writing to w in the given format at the given level.
func New(w io.Writer, format, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var handler log.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		handler = json.New(w)
	case FormatText:
		handler = text.New(w)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	return &log.Logger{Handler: handler, Level: lvl}, nil
}

// Install makes l the package-level apex logger so library code logging
// through log.Log ends up in the same place.
func Install(l *log.Logger) {
	log.SetHandler(l.Handler)
	log.SetLevel(l.Level)
}
