// Package store provides a thread-safe, observable value cell that can be
// decomposed into a tree of derived cells.
//
// # Core Types
//
// Store[V] holds a value:
//
//	s := store.New(0)
//	v := s.Value()   // Read
//	s.Set(5)         // Write (notifies subscribers)
//	s.Update(ctx, func(n *int) { *n++ })
//
// Subscribers see every commit, in commit order:
//
//	sub := s.Subscribe(false, func(ctx context.Context, n int) {
//	    fmt.Println("n is", n)
//	})
//	defer sub.Dispose()
//
// # Scopes
//
// A scoped store is a view of part of its parent, described by a pair of
// closures or a Lens:
//
//	settings := store.New(Settings{})
//	theme := store.Scope(settings,
//	    func(s Settings) string { return s.Theme },
//	    func(s *Settings, t string) { s.Theme = t })
//	theme.Set("dark") // commits through settings
//
// Unwrapped and Optional adapt stores of pointers.
//
// # Recursive Updates
//
// A subscriber may update the store it is observing. The commit happens at
// once; its notification follows the round in progress, so every
// subscriber sees values in commit order. During a round, Value reports
// the value being delivered.
//
// # Thread Safety
//
// Commits to a store tree are serialized by a gate that is reentrant for
// the goroutine holding it. Subscriber callbacks run on the committing
// goroutine unless redirected with SubscribeOn.
package store
