package message

// ProcessingContext is constructed per pipeline call and threaded through
// every decorator. Component is the name of the decorator/processor
// currently handling the message; RetryCount is the attempt counter
// (0-indexed), set by the retry decorator via WithRetryCount; Metadata is a
// copy-on-write bag for decorator-to-decorator communication.
//
// ProcessingContext is mutated only by the pipeline itself (via the With*
// methods, which return a derived copy); application code should treat
// received contexts as read-only.
type ProcessingContext struct {
	Component  string
	RetryCount int
	Metadata   Metadata
}

// NewProcessingContext returns a ProcessingContext for the named component,
// with RetryCount 0 and empty Metadata.
func NewProcessingContext(component string) ProcessingContext {
	return ProcessingContext{Component: component}
}

// WithMetadata returns a derived ProcessingContext with key set to val in
// its Metadata. The receiver is not mutated.
func (c ProcessingContext) WithMetadata(key string, val any) ProcessingContext {
	c.Metadata = c.Metadata.WithMetadata(key, val)
	return c
}

// WithRetryCount returns a derived ProcessingContext with RetryCount set to
// attempt. The receiver is not mutated.
func (c ProcessingContext) WithRetryCount(attempt int) ProcessingContext {
	c.RetryCount = attempt
	return c
}

// WithComponent returns a derived ProcessingContext naming the given
// component. The receiver is not mutated.
func (c ProcessingContext) WithComponent(component string) ProcessingContext {
	c.Component = component
	return c
}
