package features

import (
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures drives every .feature file in this directory against the
// mocked KMS in mockkms.go, in the style of
// chirino-memory-service/internal/bdd.TestFeatures.
func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "ubiq-go",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"."},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
