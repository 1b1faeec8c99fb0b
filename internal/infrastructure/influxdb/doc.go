// Package influxdb records peerlink activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library and writes three
// measurements:
//   - host_state: every host state this host publishes
//   - relay_processing: one point per envelope the relay processes
//   - command_execution: one point per command the worker finishes
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	rly.SetTelemetry(client)
//	publisher.SetTelemetry(client)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// failures are delivered to the SetOnError callback.
package influxdb
