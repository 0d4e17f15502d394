package operation

import "context"

type parentKey struct{}

// WithParent returns a context whose operations nest under id.
func WithParent(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, parentKey{}, id)
}

// ParentFrom returns the id installed by WithParent, or "".
func ParentFrom(ctx context.Context) ID {
	id, _ := ctx.Value(parentKey{}).(ID)
	return id
}
