/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"os"
	"testing"

	"github.com/murmurlabs/murmur-engine/internal/logging"
)

func TestMain(m *testing.M) {
	// Keep test output quiet; the adapters log through the global logger.
	_ = logging.InitializeWithConfig(logging.LogConfig{Level: "error", Format: "console"})
	os.Exit(m.Run())
}
