package sim

import (
	"errors"

	"go.uber.org/zap"
)

// Handle owns one loaded engine instance and its stack of active contexts.
//
// The engine itself is only reachable through a *Context, so every entry
// point is called while some context is current.
type Handle struct {
	engine  Engine
	current *Context
	closed  bool
}

// NewHandle takes ownership of e.
func NewHandle(e Engine) *Handle {
	return &Handle{engine: e}
}

// Current returns the context at the top of the stack, or nil when no scope is open.
func (h *Handle) Current() *Context {
	return h.current
}

// Depth returns the number of open scopes.
func (h *Handle) Depth() int {
	if h.current == nil {
		return 0
	}
	return h.current.depth + 1
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	return h.closed
}

// Close invalidates the handle. Scopes opened afterwards fail with a
// HANDLE_CLOSED error. Close must not be called from inside a scope.
func (h *Handle) Close() error {
	if h.current != nil {
		return &Error{Code: ErrCodeClosed, Message: "cannot close engine handle while a context is active"}
	}
	h.closed = true
	return nil
}

// Do runs fn inside a fresh active context.
//
// The error reported by the engine during the scope, if any, is returned once
// fn has finished. If fn fails as well, both errors are joined with the
// engine error first. The parent context is reinstated before Do returns, even
// when fn panics. An engine error captured by a panicking scope is logged at
// warn level.
func (h *Handle) Do(fn func(c *Context) error) (err error) {
	c, err := h.enter()
	if err != nil {
		return err
	}
	returned := false
	defer func() {
		engineErr := c.exit()
		if engineErr == nil {
			return
		}
		if !returned {
			Logger().Warn("engine error in panicking scope",
				zap.Int("depth", c.depth), zap.Error(engineErr))
			return
		}
		if err != nil {
			err = errors.Join(engineErr, err)
		} else {
			err = engineErr
		}
	}()
	err = fn(c)
	returned = true
	return err
}

// Call runs fn inside a fresh active context and returns its value.
// The zero value is returned when the engine reported an error.
func Call[T any](h *Handle, fn func(c *Context) T) (T, error) {
	var v T
	err := h.Do(func(c *Context) error {
		v = fn(c)
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (h *Handle) enter() (*Context, error) {
	if h.closed {
		return nil, errClosed
	}

	c := &Context{h: h, parent: h.current}
	if c.parent != nil {
		c.depth = c.parent.depth + 1
	}

	h.engine.SetErrorCallback(c.capture)
	h.current = c

	Logger().Debug("context entered", zap.Int("depth", c.depth))
	return c, nil
}

// Context is one scope on a Handle's stack.
type Context struct {
	h      *Handle
	parent *Context
	depth  int
	err    *Error
	done   bool
}

// Engine returns the engine entry-point table.
// Using a context after its scope has exited is a programming error and panics.
func (c *Context) Engine() Engine {
	if c.done {
		panic("sim: context used after its scope exited")
	}
	return c.h.engine
}

// Parent returns the context that was current when this one was entered.
func (c *Context) Parent() *Context {
	return c.parent
}

// Depth returns the nesting depth, 0 for an outermost scope.
func (c *Context) Depth() int {
	return c.depth
}

// capture is the error listener registered with the engine while this
// context is current. The last reported message wins.
func (c *Context) capture(msg string) {
	if c.err != nil {
		Logger().Debug("engine error overwritten",
			zap.Int("depth", c.depth),
			zap.String("previous", c.err.Message),
			zap.String("message", msg))
	}
	c.err = NewEngineError(msg)
}

func (c *Context) exit() error {
	h := c.h
	h.engine.ClearErrorCallback()

	c.done = true
	h.current = c.parent
	if c.parent != nil {
		h.engine.SetErrorCallback(c.parent.capture)
	}

	Logger().Debug("context exited", zap.Int("depth", c.depth), zap.Bool("error", c.err != nil))

	if c.err == nil {
		return nil
	}
	err := c.err
	c.err = nil
	return err
}
