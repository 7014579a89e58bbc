// internal/app/system/limits/limits.go
package limits

// Request and frame size limits.
// These limits help prevent memory exhaustion from oversized requests.
const (
	// MaxFrameSize is the largest inbound realtime frame. It leaves room for
	// a full-length chat message of multi-byte text plus the JSON envelope.
	MaxFrameSize = 16 << 10 // 16 KB

	// MaxJSONBodySize bounds JSON request bodies such as ride creation.
	MaxJSONBodySize = 64 << 10 // 64 KB

	// MaxFormSize bounds urlencoded sign-in forms.
	MaxFormSize = 8 << 10 // 8 KB
)
