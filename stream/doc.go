// Package stream provides composable lazy and eager streams.
//
// # Pull and Push
//
// A [Pull] is lazy: nothing happens until the consumer calls
// [Pull.Next], which returns [io.EOF] once the stream is exhausted. A
// [Push] is eager: the producer calls Emit whenever a value is ready.
// Both share the same teardown vocabulary:
//
//   - Close ends the stream gracefully and propagates to every stage it
//     wraps. Closing the last stage of a pull chain closes every source
//     upstream of it; that is the only guaranteed way to release them.
//   - Abort tears the stream down immediately with a cause and
//     propagates the same way.
//
// Context errors do not end a stream. A consumer whose context is
// canceled gets ctx.Err() from that pull only; the owner of the
// pipeline is expected to Abort it. The terminal helpers ([Collect],
// [ForEach], [Feed]) do exactly that.
//
// # Combinators
//
// Single-source stages wrap one upstream [Source]: [Map], [Filter],
// [Dedupe], [Reduce], [Scan], [Window], [Batch], [Flatten], [Eager],
// [Timeout], [Throttle], and the Take, Skip and Peek methods. The
// function of [Map], the predicate of [Filter] and the duration of
// [Timeout] can be changed while the stream is in use; a change applies
// from the next pull, never to a pull already in progress.
//
// Multi-source stages wrap an ordered list of sources: [Concat],
// [Zip], [ZipPad], [Zip2], [RoundRobin] and [Race].
//
// # Bridge
//
// [Bridge] connects an eager producer to a lazy consumer. It is
// unbounded by default; [WithWatermarks] makes Send block while the
// consumer is behind.
//
// Streams are single-consumer. Sharing one between two consumers is a
// caller error.
package stream
