// Package ylog sets up the named loggers used across ycrdt. Loggers are
// registered with go-log so their levels can be changed at runtime, and are
// handed out either sugared (printf style) or as plain zap loggers.
package ylog

import (
	"sort"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// Prefix is prepended to every subsystem name.
const Prefix = "ycrdt/"

var (
	mu      sync.Mutex
	systems = map[string]struct{}{}
	level   = "error"
)

// Logger returns the sugared logger of a subsystem, e.g. Logger("crdt").
func Logger(name string) *logging.ZapEventLogger {
	system := Prefix + name

	mu.Lock()
	_, known := systems[system]
	systems[system] = struct{}{}
	lvl := level
	mu.Unlock()

	l := logging.Logger(system)
	if !known {
		_ = logging.SetLogLevel(system, lvl)
	}
	return l
}

// Named returns the structured zap logger of a subsystem.
func Named(name string) *zap.Logger {
	return Logger(name).Desugar()
}

// SetLevel changes the level of every ycrdt logger, including the ones
// created later. Accepted levels are those of go-log: debug, info, warn,
// error, dpanic, panic and fatal.
func SetLevel(lvl string) error {
	lvl = strings.ToLower(strings.TrimSpace(lvl))
	if _, err := logging.LevelFromString(lvl); err != nil {
		return err
	}

	mu.Lock()
	level = lvl
	names := make([]string, 0, len(systems))
	for s := range systems {
		names = append(names, s)
	}
	mu.Unlock()

	for _, s := range names {
		if err := logging.SetLogLevel(s, lvl); err != nil {
			return err
		}
	}
	return nil
}

// Level returns the level applied to ycrdt loggers.
func Level() string {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// Subsystems lists the registered ycrdt logger names.
func Subsystems() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(systems))
	for s := range systems {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
