// Package chanx holds the small channel helpers the rest of taskflow is
// built on.
//
//   - [Send], [Recv] and [Wait]: channel operations that give up when a
//     context ends instead of blocking forever.
//   - [Closable]: a channel with idempotent Close whose sends return
//     [ErrClosed] rather than panicking after close.
package chanx
