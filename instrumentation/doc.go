// Package instrumentation wires OpenTelemetry metrics and tracing into the
// broker.
//
// Instrumentation is off unless Config.Enabled is set. With
// MetricsExporter "prometheus" the meters are backed by the OpenTelemetry
// Prometheus exporter and can be scraped through promhttp:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceVersion:  version,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// Metric names are prefixed "broker." for domain events and "storage." or
// "provider." for infrastructure calls.
package instrumentation
