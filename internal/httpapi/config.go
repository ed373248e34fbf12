package httpapi

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
// Default remains 1 MiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// defaultGPULayers is applied when a load request omits gpu_layers.
// -1 asks the loader to probe for the highest level that fits.
var defaultGPULayers = -1

// SetDefaultGPULayers configures the offload level used when a load request
// omits gpu_layers.
func SetDefaultGPULayers(n int) { defaultGPULayers = n }

// heartbeatInterval paces SSE keepalive comments so idle proxies do not drop
// the connection.
var heartbeatInterval = int64(15) // seconds

// SetHeartbeatSeconds sets the SSE keepalive interval in seconds (minimum 1).
func SetHeartbeatSeconds(sec int64) {
	if sec < 1 {
		sec = 1
	}
	heartbeatInterval = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
