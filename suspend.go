package conductor

import (
	"fmt"
	"log/slog"

	"go.jetify.com/typeid"
)

// NewThreadID mints a new thread identity.
func NewThreadID() string {
	id, err := typeid.WithPrefix("thread")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewRequestID mints a new suspend-point request identifier.
func NewRequestID() string {
	id, err := typeid.WithPrefix("req")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Suspension is returned (as an error) from NodeContext.Suspend when no
// resume value is pending: the node is handing control to an external actor.
// The run loop catches it, records the pending invocation in the checkpoint
// and yields. It is not a failure.
type Suspension struct {
	RequestID  string
	Node       string
	Invocation *ToolInvocation
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("suspended at node %q awaiting tool %q (request %s)",
		s.Node, s.Invocation.Metadata.Name, s.RequestID)
}

// AsSuspension reports whether err is a suspension.
func AsSuspension(err error) (*Suspension, bool) {
	suspension, ok := err.(*Suspension)
	return suspension, ok
}

// ResumeValue carries the external actor's response for a specific suspend
// point into the next advance.
type ResumeValue struct {
	RequestID string
	Value     any
}

// SuspendOption configures a single Suspend call.
type SuspendOption func(*suspendConfig)

type suspendConfig struct {
	validator Validator
}

// WithValidator replaces the default schema validation of the resumed value
// with a custom validator, which may coerce or repair the value or reject
// it with a domain-specific message.
func WithValidator(v Validator) SuspendOption {
	return func(c *suspendConfig) {
		c.validator = v
	}
}

// NodeContext is the side channel handed to every node execution. It carries
// the thread identity, a logger, and the suspend/resume primitive.
type NodeContext struct {
	node      string
	threadID  string
	logger    *slog.Logger
	validator *SchemaValidator

	// resume holds the injected value for the pending suspend point, if
	// this advance is a resumption. Consumed by the first Suspend call.
	resume *ResumeValue

	// requestID is the identifier of the suspend point recorded in the
	// checkpoint, reused so a restored node re-suspends under the same
	// identity.
	requestID string
}

// ThreadID returns the thread identity of the running workflow instance.
func (c *NodeContext) ThreadID() string {
	return c.threadID
}

// Logger returns a logger scoped to the thread and node.
func (c *NodeContext) Logger() *slog.Logger {
	return c.logger
}

// Suspend delegates a unit of work to the external actor described by the
// invocation. If a resume value is pending for this suspend point it is
// validated against the invocation's declared schema (or a custom validator
// supplied via WithValidator) and returned. Otherwise Suspend returns a
// *Suspension error which the node must propagate unchanged:
//
// A node execution supports one suspend point. Because a resumed node
// re-executes from its start, work needing several delegations belongs in
// several nodes, each persisting its result as a patch.
//
//	result, err := nc.Suspend(inv)
//	if err != nil {
//	    return nil, err
//	}
func (c *NodeContext) Suspend(inv *ToolInvocation, opts ...SuspendOption) (any, error) {
	if inv == nil {
		return nil, NewProgrammingError("suspend called with nil invocation")
	}
	config := &suspendConfig{}
	for _, opt := range opts {
		opt(config)
	}

	if c.resume != nil {
		resume := c.resume
		c.resume = nil
		// The consumed suspend point's identity must not leak into a later
		// Suspend call from the same node execution.
		c.requestID = ""
		value := resume.Value
		if config.validator != nil {
			validated, err := config.validator.Validate(value)
			if err != nil {
				if _, ok := AsValidationError(err); ok {
					return nil, err
				}
				return nil, &ValidationError{Detail: err.Error(), Wrapped: err}
			}
			return validated, nil
		}
		if err := c.validator.Validate(inv.Metadata.InputSchema, value); err != nil {
			return nil, err
		}
		return value, nil
	}

	requestID := c.requestID
	if requestID == "" {
		requestID = NewRequestID()
	}
	return nil, &Suspension{
		RequestID:  requestID,
		Node:       c.node,
		Invocation: inv,
	}
}
