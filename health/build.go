package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
)

// getBuildInfo formats "<version>-<commit> (<go version>)". BUILD_VERSION and
// BUILD_COMMIT override what the binary's embedded VCS stamp reports.
func getBuildInfo() string {
	version := "dev"
	commit := "unknown"

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				commit = setting.Value
			}
		}
	}

	version = getEnvOrDefault("BUILD_VERSION", version)
	commit = getEnvOrDefault("BUILD_COMMIT", commit)

	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf("%s-%s (%s)", version, commit, runtime.Version())
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
