package anchor

import "errors"

var (
	ErrInvalidReference   = errors.New("anchor: invalid reference")
	ErrEdgeNoTarget       = errors.New("anchor: edge has no target")
	ErrUnknownArchitype   = errors.New("anchor: unknown architype")
	ErrNoFunction         = errors.New("anchor: ability has no function")
	ErrArchitypeKind      = errors.New("anchor: architype kind does not match anchor kind")
	ErrArchitypeBound     = errors.New("anchor: architype already owned by an anchor")
	ErrDuplicateArchitype = errors.New("anchor: architype already registered")
)
