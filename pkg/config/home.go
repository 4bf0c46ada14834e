package config

import (
	"os"
	"path/filepath"
	"sync"
)

// The agent home holds everything a run reads or writes by default:
//
//	<home>/config.yaml      agent configuration (config.yml also accepted)
//	<home>/testcases.yaml   validation catalog used when --catalog is unset
//	<home>/reports/         report database and exported reports
//	<home>/bin/aiqa         installed binary
const envHome = "AIQA_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the agent home: $AIQA_HOME when set, the install root
// when the binary lives in <home>/bin, else the working directory. The
// result is cached for the life of the process.
func GetHome() string {
	homeOnce.Do(func() {
		exe, err := os.Executable()
		if err == nil {
			if resolved, err := filepath.EvalSymlinks(exe); err == nil {
				exe = resolved
			}
		}
		cwd, _ := os.Getwd()
		homeDir = homeFrom(os.Getenv(envHome), exe, cwd)
	})
	return homeDir
}

// homeFrom picks the home from its candidate sources. Empty values are
// unavailable.
func homeFrom(env, exe, cwd string) string {
	switch {
	case env != "":
		return env
	case exe != "" && filepath.Base(filepath.Dir(exe)) == "bin":
		return filepath.Dir(filepath.Dir(exe))
	case cwd != "":
		return cwd
	}
	return "."
}

// GetReportsDir returns <home>/reports.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

// GetCatalogPath returns <home>/testcases.yaml.
func GetCatalogPath() string {
	return filepath.Join(GetHome(), "testcases.yaml")
}

// ResetHome clears the cached home so tests can point AIQA_HOME elsewhere.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
