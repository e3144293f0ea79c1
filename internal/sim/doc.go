// Package sim provides the control-layer boundary to a Software-in-the-Loop
// simulation engine.
//
// The engine is an external artifact (a compiled firmware build linked against
// a virtual scheduler and peripheral models). It is reached through a fixed
// table of entry points, modelled here by the Engine interface. Engine-side
// failures are reported through a single error callback that carries no
// correlation id, so exactly one logical operation may be listening at a time.
//
// # Active Contexts
//
// A Handle owns one Engine and a stack of active contexts. Every engine call
// happens inside a scope opened by Handle.Do (or the generic Call helper):
//
//	err := h.Do(func(c *sim.Context) error {
//	    c.Engine().SchedRunUntil(ts)
//	    return nil
//	})
//
// Entering a scope registers the scope's error listener with the engine and
// pushes it on the stack. Leaving the scope unregisters the listener, pops the
// stack, re-registers the parent's listener and returns any error the engine
// reported while the scope was current. Scopes nest: an engine callback that
// calls back into the engine (for example to read the current virtual time)
// opens a child scope whose parent is the interrupted one.
//
// Only the last error message reported during a scope is kept.
//
// # Callbacks
//
// Callbacks handed to the engine should be wrapped in a Trampoline so that
// they can be released deterministically. A released trampoline ignores late
// invocations from the engine.
//
// # Thread Safety
//
// A Handle is NOT safe for concurrent use. The engine executes synchronously
// inside whichever call advanced time and all callbacks fire on that call stack.
package sim
