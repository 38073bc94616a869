package integration_test

import (
	"os"
	"testing"

	"threatfusion/integration/harness"
)

func TestMain(m *testing.M) {
	code := m.Run()
	harness.Cleanup()
	os.Exit(code)
}
