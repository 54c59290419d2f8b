package features

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cucumber/godog"
	ubiq "github.com/ubiqsecurity/ubiq-go"
	"github.com/ubiqsecurity/ubiq-go/internal/kmsclient"
)

// scenarioState holds everything a single scenario's steps thread through
// each other. One is built fresh per scenario by InitializeScenario.
type scenarioState struct {
	kms   *mockKMS
	creds *ubiq.Credentials
	cfg   ubiq.Configuration

	datasetName string

	plaintext  string
	ciphertext string
	cts        []string

	unstructCT []byte
	unstructPT []byte

	lastErr error
}

func (s *scenarioState) aRunningKMS() error {
	s.kms = newMockKMS()
	return nil
}

func (s *scenarioState) credentialsForThatKMS() error {
	if s.cfg == (ubiq.Configuration{}) {
		s.cfg = ubiq.DefaultConfiguration()
	}
	creds, err := ubiq.NewCredentials("access-id", "sign-key", mockPassphrase, s.kms.URL(), s.cfg)
	if err != nil {
		return err
	}
	s.creds = creds
	return nil
}

// eventReportingTunedForQuickFlush loads a configuration whose event
// reporting wakes and minimum-count thresholds are tight enough for a test
// to observe a mid-stream flush (spec §8 scenario 7) without waiting out
// DefaultConfiguration's 10s wake interval.
func (s *scenarioState) eventReportingTunedForQuickFlush(minimumCount int) error {
	dir, err := os.MkdirTemp("", "ubiq-features-*")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"event_reporting":{"wake_interval":1,"minimum_count":%d,"flush_interval":90,"synchronous":false}}`, minimumCount)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return err
	}
	cfg, err := ubiq.LoadConfigurationFile(path)
	if err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *scenarioState) aDatasetNamed(name, ics, ocs, passthrough string, minLen, maxLen int) error {
	s.datasetName = name
	s.kms.setDataset(kmsclient.Dataset{
		Name:               name,
		EncryptionAlgorithm: "FF1",
		InputCharacterSet:  ics,
		OutputCharacterSet: ocs,
		Passthrough:        passthrough,
		Tweak:              base64.StdEncoding.EncodeToString(nil),
		MSBEncodingBits:    4,
		MinInputLength:     minLen,
		MaxInputLength:     maxLen,
	})
	dataKey := make([]byte, 16)
	if _, err := rand.Read(dataKey); err != nil {
		return err
	}
	s.kms.addKey(0, dataKey)
	return nil
}

func (s *scenarioState) iEncryptAsUnstructuredData(pt string) error {
	dataKey := make([]byte, 32)
	if _, err := rand.Read(dataKey); err != nil {
		return err
	}
	s.kms.addKey(0, dataKey)

	ct, err := ubiq.Encrypt(context.Background(), s.creds, []byte(pt), false)
	if err != nil {
		return err
	}
	s.unstructCT = ct
	return nil
}

func (s *scenarioState) decryptingItReturns(want string) error {
	pt, err := ubiq.Decrypt(context.Background(), s.creds, s.unstructCT)
	if err != nil {
		return err
	}
	if string(pt) != want {
		return fmt.Errorf("decrypted to %q, want %q", pt, want)
	}
	return nil
}

func (s *scenarioState) iFlipTheLastByteOfTheCiphertext() error {
	if len(s.unstructCT) == 0 {
		return fmt.Errorf("no ciphertext to tamper with")
	}
	s.unstructCT[len(s.unstructCT)-1] ^= 0xFF
	return nil
}

func (s *scenarioState) decryptingItFailsWithKind(kind string) error {
	_, err := ubiq.Decrypt(context.Background(), s.creds, s.unstructCT)
	return s.expectKind(err, kind)
}

func (s *scenarioState) iStructuredEncryptAgainstDataset(pt, dataset string) error {
	s.plaintext = pt
	ct, err := ubiq.StructuredEncrypt(context.Background(), s.creds, dataset, pt)
	s.lastErr = err
	s.ciphertext = ct
	return nil
}

func (s *scenarioState) theCiphertextHasTheSameLengthAsThePlaintext() error {
	if s.lastErr != nil {
		return s.lastErr
	}
	if len(s.ciphertext) != len(s.plaintext) {
		return fmt.Errorf("ciphertext length %d != plaintext length %d", len(s.ciphertext), len(s.plaintext))
	}
	return nil
}

func (s *scenarioState) decryptingItAgainstDatasetReturns(dataset, want string) error {
	if s.lastErr != nil {
		return s.lastErr
	}
	pt, err := ubiq.StructuredDecrypt(context.Background(), s.creds, dataset, s.ciphertext)
	if err != nil {
		return err
	}
	if pt != want {
		return fmt.Errorf("decrypted to %q, want %q", pt, want)
	}
	return nil
}

func (s *scenarioState) itFailsWithKind(kind string) error {
	return s.expectKind(s.lastErr, kind)
}

func (s *scenarioState) iEncryptForSearchAgainstDataset(pt, dataset string) error {
	s.plaintext = pt
	cts, err := ubiq.StructuredEncryptForSearch(context.Background(), s.creds, dataset, pt)
	if err != nil {
		return err
	}
	s.cts = cts
	return nil
}

func (s *scenarioState) everyResultDecryptsBackToTheInput() error {
	for _, ct := range s.cts {
		pt, err := ubiq.StructuredDecrypt(context.Background(), s.creds, s.datasetName, ct)
		if err != nil {
			return err
		}
		if pt != s.plaintext {
			return fmt.Errorf("member %q decrypted to %q, want %q", ct, pt, s.plaintext)
		}
	}
	return nil
}

func (s *scenarioState) theResultListHasLength(n int) error {
	if len(s.cts) != n {
		return fmt.Errorf("got %d members, want %d", len(s.cts), n)
	}
	return nil
}

func (s *scenarioState) iStructuredEncryptCallsAgainstDataset(calls int, pt, dataset string) error {
	sess, err := s.creds.NewStructuredEncryptSession(context.Background(), dataset)
	if err != nil {
		return err
	}
	defer sess.Close()
	for i := 0; i < calls; i++ {
		if _, err := sess.Encrypt(pt); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenarioState) theTotalPostedEventCountIs(want int) error {
	if err := s.creds.Close(); err != nil {
		return err
	}
	got := s.kms.eventCount()
	if got != want {
		return fmt.Errorf("posted event count %d, want %d", got, want)
	}
	return nil
}

// atLeastOneFlushHasAlreadyOccurred polls for up to a few seconds, since the
// background processor wakes on its own schedule rather than in lockstep
// with the calling goroutine.
func (s *scenarioState) atLeastOneFlushHasAlreadyOccurred() error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.kms.batchCount() >= 1 {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("expected at least one flush batch, got %d", s.kms.batchCount())
}

func (s *scenarioState) expectKind(err error, kind string) error {
	if err == nil {
		return fmt.Errorf("expected an error of kind %q, got none", kind)
	}
	if !ubiq.Is(err, ubiq.Kind(kind)) {
		return fmt.Errorf("expected error of kind %q, got %v", kind, err)
	}
	return nil
}

// InitializeScenario wires every step definition and resets scenarioState
// between scenarios, in the style of chirino-memory-service/internal/bdd's
// per-suite TestScenario.
func InitializeScenario(ctx *godog.ScenarioContext) {
	var s scenarioState

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		s = scenarioState{}
		return c, nil
	})
	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if s.creds != nil {
			_ = s.creds.Close()
		}
		if s.kms != nil {
			s.kms.Close()
		}
		return c, nil
	})

	ctx.Step(`^a running KMS$`, s.aRunningKMS)
	ctx.Step(`^event reporting tuned for a quick flush with minimum count (\d+)$`, s.eventReportingTunedForQuickFlush)
	ctx.Step(`^credentials for that KMS$`, s.credentialsForThatKMS)
	ctx.Step(`^a dataset named "([^"]*)" with input character set "([^"]*)", output character set "([^"]*)", passthrough "([^"]*)", min length (\d+) and max length (\d+)$`,
		func(name, ics, ocs, passthrough string, minLen, maxLen int) error {
			return s.aDatasetNamed(name, ics, ocs, passthrough, minLen, maxLen)
		})

	ctx.Step(`^I encrypt "([^"]*)" as unstructured data$`, s.iEncryptAsUnstructuredData)
	ctx.Step(`^decrypting it returns "([^"]*)"$`, s.decryptingItReturns)
	ctx.Step(`^I flip the last byte of the ciphertext$`, s.iFlipTheLastByteOfTheCiphertext)
	ctx.Step(`^decrypting it fails with kind "([^"]*)"$`, s.decryptingItFailsWithKind)

	ctx.Step(`^I structured-encrypt "([^"]*)" against dataset "([^"]*)"$`, s.iStructuredEncryptAgainstDataset)
	ctx.Step(`^the ciphertext has the same length as the plaintext$`, s.theCiphertextHasTheSameLengthAsThePlaintext)
	ctx.Step(`^decrypting it against dataset "([^"]*)" returns "([^"]*)"$`, s.decryptingItAgainstDatasetReturns)
	ctx.Step(`^it fails with kind "([^"]*)"$`, s.itFailsWithKind)

	ctx.Step(`^I encrypt-for-search "([^"]*)" against dataset "([^"]*)"$`, s.iEncryptForSearchAgainstDataset)
	ctx.Step(`^every result decrypts back to the input$`, s.everyResultDecryptsBackToTheInput)
	ctx.Step(`^the result list has length (\d+)$`, func(n string) error {
		v, err := strconv.Atoi(n)
		if err != nil {
			return err
		}
		return s.theResultListHasLength(v)
	})

	ctx.Step(`^I make (\d+) structured-encrypt calls with "([^"]*)" against dataset "([^"]*)"$`,
		func(calls int, pt, dataset string) error {
			return s.iStructuredEncryptCallsAgainstDataset(calls, pt, dataset)
		})
	ctx.Step(`^at least one flush has already occurred$`, s.atLeastOneFlushHasAlreadyOccurred)
	ctx.Step(`^the total posted event count is (\d+)$`, func(n int) error {
		return s.theTotalPostedEventCountIs(n)
	})
}
