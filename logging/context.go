package logging

import "context"

type debugModeKey struct{}

// EnableDebugMode marks ctx so that CDebugw calls made with it are written at any logger level.
func EnableDebugMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugModeKey{}, true)
}

// IsDebugMode reports whether ctx was marked by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	on, _ := ctx.Value(debugModeKey{}).(bool)
	return on
}
