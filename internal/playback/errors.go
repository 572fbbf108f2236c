package playback

import "errors"

// Construction and admission errors. Callers test with errors.Is.
var (
	// ErrConstructionFailed indicates the media location could not be resolved
	// or the native object could not be built from it.
	ErrConstructionFailed = errors.New("handle construction failed")

	// ErrReadinessTimeout indicates the readiness probe exhausted its polling
	// budget without the object ever reporting ready.
	ErrReadinessTimeout = errors.New("handle readiness timed out")

	// ErrCapacityRefused indicates the request was declined because of memory
	// pressure or because no resident handle could be evicted.
	ErrCapacityRefused = errors.New("capacity refused")

	// ErrAlreadyInFlight indicates a construction for the id is already
	// running or queued. Pool.Ensure collapses it into the existing request.
	ErrAlreadyInFlight = errors.New("construction already in flight")

	// ErrStale indicates a queued construction was dropped because its id left
	// the preload window before a slot became free.
	ErrStale = errors.New("preload request is stale")

	// ErrCancelled indicates queued or in-flight work was shed.
	ErrCancelled = errors.New("preload request cancelled")

	// ErrPoolClosed is returned after Shutdown.
	ErrPoolClosed = errors.New("playback pool closed")

	// ErrGateClosed is returned when acquiring from a closed gate.
	ErrGateClosed = errors.New("concurrency gate closed")
)

// IsSkip reports whether err is a refusal that callers should treat as a
// skipped request rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrCapacityRefused) ||
		errors.Is(err, ErrStale) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrAlreadyInFlight)
}
