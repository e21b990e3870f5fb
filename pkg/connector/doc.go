// Package connector groups the pieces a sheets connector is assembled from.
//
// # Architecture Overview
//
//   - core: the Source, Sink and Connection contracts and the delivery
//     Outcome with its rejection reasons.
//
//   - base: the reconnect backoff policy consulted by the connector loop.
//
//   - sources: ordered stream sources. jsonl reads line-delimited JSON from
//     stdin or a file, kafka consumes a topic as a consumer group member and
//     jetstream pulls from a durable NATS JetStream consumer. Every source
//     acknowledges a message only when asked to, so unacknowledged messages
//     are redelivered after a restart where the transport supports it.
//
//   - destinations/sheets: the Google Sheets sink. Connect resolves the
//     service account secrets and fetches a token; Deliver appends one record
//     and reports the outcome instead of failing.
//
//   - registry: maps configured type names to factories. Connector packages
//     register themselves from init.
//
// # Contracts
//
// A Deliver call returns an error only when it was misused (nil or closed
// connection, nil record). Everything the remote side can do wrong is an
// Outcome with Delivered set to false and a RejectReason:
//
//	outcome, err := conn.Deliver(ctx, record)
//	if err != nil {
//	    return err // programming error, stop
//	}
//	if !outcome.Delivered {
//	    logger.Warn("rejected", zap.String("reason", string(outcome.Reason)))
//	}
//
// Connect errors typed errors.ErrorTypeConfig are permanent; any other
// Connect error is retried by the caller.
package connector
