package port

// Cache provides generic caching with TTL. Backed by the in-memory TTL cache
// by default, or by Redis when configured.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// IdentityEvent announces a change of the signed-in identity. A zero UID
// means signed out.
type IdentityEvent struct {
	UID string
}

// IdentityNotifier exposes the current-identity-changed stream the
// synchronized store consumes to (re)scope its subscriptions.
type IdentityNotifier interface {
	Events() <-chan IdentityEvent
}
