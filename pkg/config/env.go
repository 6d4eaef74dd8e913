// Package config reads the process-level containment toggles and loads
// containment profiles.
package config

import (
	"os"
	"strings"
	"sync"
)

// SecurityLevel selects how strictly profile verification failures are
// treated.
type SecurityLevel string

const (
	LevelDev  SecurityLevel = "DEV"
	LevelCI   SecurityLevel = "CI"
	LevelProd SecurityLevel = "PROD"
)

// Env is the cached view of the containment environment toggles.
type Env struct {
	SafeMode       bool
	EventsDisabled bool
	SecurityLevel  SecurityLevel
}

var (
	envMu     sync.Mutex
	envCached *Env
)

// Environment reads SAFE_MODE, EVENTS_DISABLED and SECURITY_LEVEL once
// and caches the result for the life of the process.
func Environment() Env {
	envMu.Lock()
	defer envMu.Unlock()
	if envCached == nil {
		envCached = &Env{
			SafeMode:       boolEnv("SAFE_MODE"),
			EventsDisabled: boolEnv("EVENTS_DISABLED"),
			SecurityLevel:  levelEnv("SECURITY_LEVEL"),
		}
	}
	return *envCached
}

// ResetEnvCache drops the cached environment so tests can vary the
// toggles.
func ResetEnvCache() {
	envMu.Lock()
	defer envMu.Unlock()
	envCached = nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func levelEnv(key string) SecurityLevel {
	switch strings.ToUpper(os.Getenv(key)) {
	case string(LevelCI):
		return LevelCI
	case string(LevelProd):
		return LevelProd
	}
	return LevelDev
}
