// Package telemetry publishes periodic vehicle health.
//
// A Reporter samples the fault tracer, the vehicle context and the live
// fabric links every interval. It publishes a retained JSON health message
// on MQTT and writes the same counters to InfluxDB. On shutdown it publishes
// a final "stopping" status so dashboards can tell a clean stop from a
// crash (the MQTT last will).
package telemetry
