// Package errors provides coded, actionable error values for vstore.
//
// The store core never returns errors: reads, updates and subscriptions
// cannot fail. What remains are programmer-error hazards (reentrant box
// access under a debug box, using a closed dispatch queue, building a scope
// without accessors) and failures in the command-line tooling (config files,
// flags). Each is identified by a code that maps to a registered template.
//
// # Error Categories
//
//   - runtime: misuse of a box, queue or store detected at run time
//   - config: configuration file and validation failures
//   - cli: command-line failures
//
// # Error Codes
//
//   - E201-E219: runtime misuse
//   - E301-E319: configuration
//   - E401-E419: command line
//
// # Usage
//
//	err := errors.New("E302").
//	    WithDetail(`unknown strategy "mutex"`).
//	    WithSuggestion("Use one of: spin, rwlock, serial, concurrent")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E302: Invalid configuration value
//	//
//	//   unknown strategy "mutex"
//	//
//	//   Hint: Use one of: spin, rwlock, serial, concurrent
package errors
