package encoder

import "errors"

var (
	errNoActivePipeline    = errors.New("encoder: no render or compute pipeline bound")
	errUnknownCommandKind  = errors.New("encoder: unrecognized command kind")
	errUnresolvedBuffer    = errors.New("encoder: binding path resolves to a resource with no backing buffer")
	errUnresolvedTexture   = errors.New("encoder: binding path resolves to a resource with no backing image view")
	errMissingRenderTarget = errors.New("encoder: render pass begun without a render-target descriptor")
)
