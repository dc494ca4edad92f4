/*
Package telemetry backs the registry's core.Telemetry interface with
OpenTelemetry.

Tracing:

Spans go to an OTLP/gRPC collector (exporter "otlp") or to stdout
(exporter "stdout"). Tests replace the exporter with their own span
processor through WithSpanProcessor.

Metrics:

Every RecordMetric call feeds a float64 histogram of the same name. A
ManualReader always collects in process, so Collect works without a
collector; when MetricsEndpoint is set the same instruments are also pushed
over OTLP/HTTP every 30 seconds.

Cardinality:

Label values pass through a CardinalityLimiter. Once a label has seen its
limit of distinct values, new values are reported as "other". Idle values
expire so that long-running processes make room for new ones.

Usage:

	p, err := telemetry.NewOTelProvider(ctx, cfg.Telemetry, telemetry.WithGlobal())
	if err != nil {
	    return err
	}
	defer p.Shutdown(context.Background())

	engine := registry.NewEngine(store, cfg, registry.WithTelemetry(p))
*/
package telemetry
