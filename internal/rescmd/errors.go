package rescmd

import "errors"

var errUnknownKind = errors.New("resource command: unrecognized or unresolved target")
