package connector

import (
	"errors"

	"github.com/R3E-Network/remote_connector/remote/dispatch"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// Error kinds a call can fail with.
type (
	TransportError    = dispatch.TransportError
	RemoteStatusError = dispatch.RemoteStatusError
	ValidationError   = dispatch.ValidationError
)

var (
	ErrMissingID        = dispatch.ErrMissingID
	ErrUnknownOperation = dispatch.ErrUnknownOperation
	ErrCircuitOpen      = transport.ErrCircuitOpen

	// ErrUnknownRelation is returned for relation names the model does not declare.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrCallbackType is returned when a Done callback does not match the
	// result type of the operation it was passed to.
	ErrCallbackType = errors.New("callback type does not match operation result")
	// ErrNotDefined is returned for models that were never defined.
	ErrNotDefined = errors.New("model not defined")
)
