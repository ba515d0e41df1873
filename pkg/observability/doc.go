/*
Package observability turns replica lifecycle hooks into Prometheus metrics
and structured log lines.
*/
package observability
