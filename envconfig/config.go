// Package envconfig reads FLOWMOTION_* environment variables once at startup.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/flowvision/flowmotion/logutil"
)

var (
	// Set via FLOWMOTION_DEBUG in the environment
	Debug bool
	// Set via FLOWMOTION_HOST in the environment
	Host string
	// Set via FLOWMOTION_THREADS in the environment
	Threads int
	// Set via FLOWMOTION_WEIGHTS in the environment
	Weights string
)

const defaultHost = "127.0.0.1:9040"

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"FLOWMOTION_DEBUG":   {"FLOWMOTION_DEBUG", Debug, "Show additional debug information (e.g. FLOWMOTION_DEBUG=1)"},
		"FLOWMOTION_HOST":    {"FLOWMOTION_HOST", Host, "Address for the estimation server (default " + defaultHost + ")"},
		"FLOWMOTION_THREADS": {"FLOWMOTION_THREADS", Threads, "Worker threads for tensor operations (default: number of CPUs)"},
		"FLOWMOTION_WEIGHTS": {"FLOWMOTION_WEIGHTS", Weights, "Default checkpoint path"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// LogLevel returns the slog level implied by the debug setting.
func LogLevel() slog.Level {
	if Debug {
		return logutil.LevelTrace
	}
	return slog.LevelInfo
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	Host = defaultHost

	LoadConfig()
}

func LoadConfig() {
	if debug := clean("FLOWMOTION_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	if host := clean("FLOWMOTION_HOST"); host != "" {
		Host = host
	}

	if threads := clean("FLOWMOTION_THREADS"); threads != "" {
		val, err := strconv.Atoi(threads)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "FLOWMOTION_THREADS", threads, "error", err)
		} else {
			Threads = val
		}
	}

	Weights = clean("FLOWMOTION_WEIGHTS")
}
