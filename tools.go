//go:build tools

// Pins the swagger generator so `go mod tidy` keeps it available for
// `swag init -g cmd/chatd/docs.go`.
package tools

import (
	_ "github.com/swaggo/swag/cmd/swag"
)
