package main

// General API documentation for swaggo. Regenerate with
// `swag init -g cmd/chatd/docs.go`.
//
// @title           chatd API
// @version         1.0
// @description     HTTP API for the local character chat daemon: streaming chat, session control, model management and events.
//
// @contact.name   chatd maintainers
// @contact.url    https://github.com/your-org/chatd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
