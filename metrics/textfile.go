package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoTextfilePath is returned when WriteTextfile is called without a path.
var ErrNoTextfilePath = errors.New("metrics textfile path is empty")

// WriteTextfile writes the default registry in the text exposition format,
// for the node_exporter textfile collector. The file is replaced atomically.
func WriteTextfile(path string) error {
	if path == "" {
		return ErrNoTextfilePath
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
