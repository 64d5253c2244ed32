// Package cmd is the transport-agnostic command core shared by the Discord
// and CLI front-ends. A command has a name, a description and Run; how it is
// registered and dispatched is up to the front-end.
package cmd

import "context"

// Invocation carries a command's arguments and an opaque payload set by the
// front-end, typically a request bound to a player session.
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
