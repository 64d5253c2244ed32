package cmd

// Middleware wraps a command, e.g. to log it. The result is still a Command.
type Middleware func(Command) Command

// Apply applies middlewares in order; the last one ends up outermost.
func Apply(c Command, mws ...Middleware) Command {
	for _, mw := range mws {
		c = mw(c)
	}
	return c
}
