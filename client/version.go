package client

// Version is set by build flags during compilation.
// Example: go build -ldflags "-X github.com/zenoo-go/zenoo/client.Version=$(git describe --tags --always --dirty)"
var Version = "dev"
