package respond

import (
	"io"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// Success represents the standard structure for successful responses.
type Success struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Error represents the standard structure for error responses.
type Error struct {
	Error string `json:"error"`
}

// Health is the body of the health check.
type Health struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Rebuild is the body of a registry rebuild response.
type Rebuild struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Failure is an error body that also carries the success flag.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data any) {
	c.JSON(status, data)
}

// OK sends a 200 OK response wrapping data in a Success struct.
func OK(c *ginext.Context, data any) {
	JSON(c, http.StatusOK, Success{Success: true, Data: data})
}

// Message sends a 200 OK response with a message and optional data.
func Message(c *ginext.Context, message string, data any) {
	JSON(c, http.StatusOK, Success{Success: true, Message: message, Data: data})
}

// Fail sends an error response with the specified HTTP status code.
func Fail(c *ginext.Context, status int, message string) {
	JSON(c, status, Error{Error: message})
}

// Blob streams a stored file with the given content type and length.
func Blob(c *ginext.Context, contentType string, size int64, r io.Reader) {
	c.DataFromReader(http.StatusOK, size, contentType, r, nil)
}
