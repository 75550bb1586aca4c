package consoletext

import (
	"os"
	"runtime"
)

// Environment tags.
const (
	EnvServer  = "server"
	EnvBrowser = "browser"
)

// Environment is the capability interface selected once at construction.
// The two variants replace scattered runtime type-sniffing: everything the
// engine needs to know about the host is behind these two methods.
type Environment interface {
	// Tag reports "server" or "browser".
	Tag() string
	// Metadata returns the environment block attached to shipped records
	// and enhanced errors. O(1), no recursion into anything.
	Metadata() map[string]any
}

// detectEnvironment probes the host once. An explicit override wins;
// otherwise a js runtime is browser-like and everything else server-like.
func detectEnvironment(override string) Environment {
	tag := override
	if tag == "" {
		if runtime.GOOS == "js" {
			tag = EnvBrowser
		} else {
			tag = EnvServer
		}
	}
	if tag == EnvBrowser {
		return browserEnv{}
	}
	return serverEnv{}
}

type serverEnv struct{}

func (serverEnv) Tag() string { return EnvServer }

func (serverEnv) Metadata() map[string]any {
	cwd, _ := os.Getwd()
	return map[string]any{
		"runtime": runtime.Version(),
		"pid":     os.Getpid(),
		"cwd":     cwd,
		"argv":    append([]string(nil), os.Args...),
		"goos":    runtime.GOOS,
		"goarch":  runtime.GOARCH,
	}
}

type browserEnv struct{}

func (browserEnv) Tag() string { return EnvBrowser }

// Metadata for the browser variant carries only the build identity. URL and
// user agent need a js build tag and a wasm host to resolve.
func (browserEnv) Metadata() map[string]any {
	return map[string]any{
		"goos":   runtime.GOOS,
		"goarch": runtime.GOARCH,
	}
}
