package realtime

// Named realtime streams.
const (
	// StreamCodes carries the per-second code/countdown batches that replace
	// the desktop timer refresh.
	StreamCodes = "codes"
)

// KnownStreams is the allow list handed to Serve for the public endpoint.
func KnownStreams() map[string]struct{} {
	return map[string]struct{}{
		StreamCodes: {},
	}
}
