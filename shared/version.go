package shared

// Version is overridden at build time with -ldflags "-X ...shared.Version=...".
var Version = "0.1.0-dev"
