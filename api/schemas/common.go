// api/schemas/common.go
package schemas

// CommandResponse is the envelope every caller-facing operation returns. Failures
// cross the boundary as a populated Error field, never as a raised error.
type CommandResponse struct {
	Status  string      `json:"status"` // "success", "error", "blocked"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

const (
	ResponseSuccess = "success"
	ResponseError   = "error"
	// ResponseBlocked is not an error: the platform raised a verification wall
	// and a human needs to clear it before the operation can be retried.
	ResponseBlocked = "blocked"
)
