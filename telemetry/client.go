// Package telemetry delivers metric records to logging sinks: an
// append-only binary run log and a queryable SQLite history.
package telemetry

import "github.com/sanjibansg/general-perceivers/metrics"

// Client consumes one metric record per training step
type Client func(metrics.Record) error

// Multi fans each record out to several clients in order, stopping at
// the first error
func Multi(clients ...Client) Client {
	return func(record metrics.Record) error {
		for _, client := range clients {
			if err := client(record); err != nil {
				return err
			}
		}
		return nil
	}
}
