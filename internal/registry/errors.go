package registry

import "errors"

var (
	errUnknownHandle              = errors.New("handle not registered")
	errIncompatibleBacking        = errors.New("existing backing is incompatible with the requested descriptor")
	errWindowTextureNotRegistered = errors.New("window-backed texture must be registered via RegisterWindowTexture")
	errWaitSemaphoreOutstanding   = errors.New("cannot dispose a backing with an outstanding wait semaphore (§3 invariant 3)")
	// ErrNotImplemented is returned by ReplaceTextureRegion: texture upload is
	// accepted as an interface but not required to be implemented in the
	// initial version (§9 Open Questions).
	ErrNotImplemented = errors.New("registry: ReplaceTextureRegion is not implemented")
)
