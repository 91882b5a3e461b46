package main

// Build-time version identity, injected via -ldflags. See
// cmd/messenger-gateway/version.go.
var (
	commitHash = "dev"
	buildTime  = "unknown"
)
