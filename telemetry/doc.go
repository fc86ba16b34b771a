/*
Package telemetry reports OpenXR runtime initialization outcomes to a host
analytics sink.

An Emitter wraps a Sink and a Runtime. The first time it is asked to send,
it checks that analytics are enabled and registers the openxr_initialize
category (1000 events per hour, 1000 elements per event, vendor key
unity.openxr). Registration is sticky: once the sink accepts it, the
emitter never registers again. When registration fails the event is
dropped and the next call tries again.

Each SendInitializeEvent builds an InitializationRecord from a live read
of the Runtime: runtime name and versions, enabled and available
extensions as "name_version", and loader features as
"qualifiedTypeName_version", split into enabled and failed lists.

Sinks:

  - CollectorSink posts JSON envelopes to an HTTP collector (production mode)
  - JournalSink records events in a local SQLite file (editor mode)
  - NoopSink reports analytics as disabled (disabled mode)

Both real sinks enforce the registered category: unknown events are
rejected with ResultNotInitialized, oversize payloads with
ResultTooManyItems, and events beyond the hourly window with
ResultTooManyRequests. The window is counted in memory or, to share it
between processes, in Redis.

Failure handling:

The emitter never returns errors and never panics. Rejections, transport
failures and sink panics are logged, counted on the
openxr.analytics.events.dropped counter and otherwise ignored.

Usage:

	cfg, err := core.NewConfig(core.WithMode(core.ModeProduction),
	    core.WithCollectorEndpoint("https://collector.example.com/v1/events"))
	if err != nil {
	    return err
	}
	emitter, sink, err := telemetry.NewEmitterFromConfig(ctx, cfg, runtime, logger)
	if err != nil {
	    return err
	}
	defer sink.Close()

	emitter.SendInitializeEvent(true)
*/
package telemetry
