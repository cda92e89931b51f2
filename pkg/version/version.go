// Package version reports the build identity used in logs, the health
// endpoint, and the provider User-Agent header.
package version

import "runtime/debug"

const app = "aiaudit"

// Release is overridden with -ldflags on tagged builds.
var Release = "0.0.0-dev"

// Commit resolves lazily so `go test` binaries without VCS stamping still
// get a usable value.
var Commit = commitFromBuildInfo()

func commitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var rev, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev + dirty
}

// Full returns "aiaudit/<release> (<commit>)".
func Full() string {
	return app + "/" + Release + " (" + Commit + ")"
}

// UserAgent is the HTTP User-Agent for outbound provider requests.
func UserAgent() string {
	return app + "/" + Release
}
