package renderer

import "context"

type renderThreadKey struct{}

// WithRenderThread marks ctx as belonging to the render thread. Blocking GPU operations refuse
// such contexts while the frame loop runs, since they would stall frame pacing.
func WithRenderThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, renderThreadKey{}, true)
}

func IsRenderThread(ctx context.Context) bool {
	v, _ := ctx.Value(renderThreadKey{}).(bool)
	return v
}
