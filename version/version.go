package version

// Version is overridden at build time with -ldflags "-X listing-bot/version.Version=...".
var Version = "0.0.0-dev"
