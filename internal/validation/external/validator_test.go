package external_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/validation"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

const sampleSVRL = `<?xml version="1.0" encoding="UTF-8"?>
<svrl:schematron-output xmlns:svrl="http://purl.oclc.org/dsdl/svrl">
  <svrl:active-pattern id="xrechnung"/>
  <svrl:failed-assert id="BR-DE-21" flag="fatal" location="/Invoice/cbc:CustomizationID" test="false()">
    <svrl:text>
      The specification identifier must match XRechnung.
    </svrl:text>
  </svrl:failed-assert>
  <svrl:failed-assert id="BR-DE-18" flag="warning" location="/Invoice/cac:PaymentTerms">
    <svrl:text>Skonto format</svrl:text>
  </svrl:failed-assert>
  <svrl:successful-report id="PEPPOL-COMMON-R043" flag="information">
    <svrl:text>Informational</svrl:text>
  </svrl:successful-report>
</svrl:schematron-output>`

// writeScript creates a fake validator that records its --input path in marker
func writeScript(t *testing.T, dir, body string) (script, marker string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture requires a POSIX shell")
	}

	marker = filepath.Join(dir, "input-path")
	script = filepath.Join(dir, "validator.sh")
	content := fmt.Sprintf("#!/bin/sh\necho \"$4\" > %q\n%s\n", marker, body)
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, marker
}

func scenarios(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scenarios.xml")
	require.NoError(t, os.WriteFile(path, []byte("<scenarios/>"), 0o600))
	return path
}

func assertInputRemoved(t *testing.T, marker, tempDir string) {
	t.Helper()
	raw, err := os.ReadFile(marker)
	require.NoError(t, err)
	input := strings.TrimSpace(string(raw))
	require.NotEmpty(t, input)

	_, err = os.Stat(input)
	assert.True(t, os.IsNotExist(err), "input %s should be deleted", input)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be removed")
}

func TestValidate_Disabled(t *testing.T) {
	v := external.New(external.Config{Enabled: false})

	result := v.Validate(context.Background(), model.FormatXRechnungUBL, []byte("<Invoice/>"))

	assert.False(t, result.Ran)
	assert.Contains(t, result.Error, "disabled")
	assert.False(t, v.Enabled())
}

func TestValidate_MissingExecutable(t *testing.T) {
	dir := t.TempDir()
	v := external.New(external.Config{
		Enabled:    true,
		Executable: filepath.Join(dir, "does-not-exist"),
		Scenarios:  scenarios(t, dir),
	}, external.WithLogger(zap.NewNop()))

	result := v.Validate(context.Background(), model.FormatXRechnungUBL, []byte("<Invoice/>"))

	assert.False(t, result.Ran)
	assert.Contains(t, result.Error, "not found")
}

func TestValidate_MissingScenarios(t *testing.T) {
	dir := t.TempDir()
	script, _ := writeScript(t, dir, "exit 0")
	v := external.New(external.Config{
		Enabled:    true,
		Executable: script,
		Scenarios:  filepath.Join(dir, "missing.xml"),
	})

	result := v.Validate(context.Background(), model.FormatXRechnungUBL, []byte("<Invoice/>"))

	assert.False(t, result.Ran)
	assert.Contains(t, result.Error, "scenarios")
}

func TestValidate_ParsesReportAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	script, marker := writeScript(t, dir, "cat <<'EOF'\n"+sampleSVRL+"\nEOF")

	v := external.New(external.Config{
		Enabled:    true,
		Executable: script,
		Scenarios:  scenarios(t, dir),
		Timeout:    10 * time.Second,
		TempDir:    tempDir,
	})

	result := v.Validate(context.Background(), model.FormatXRechnungUBL, []byte("<Invoice/>"))

	require.True(t, result.Ran, result.Error)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "BR-DE-21", result.Errors[0].RuleID)
	assert.Equal(t, "The specification identifier must match XRechnung.", result.Errors[0].Message)
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "BR-DE-18", result.Warnings[0].RuleID)
	assert.Len(t, result.Findings(), 3)

	assertInputRemoved(t, marker, tempDir)
}

func TestValidate_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	script, marker := writeScript(t, dir, "echo 'scenario not matched' >&2\nexit 3")

	v := external.New(external.Config{
		Enabled:    true,
		Executable: script,
		Scenarios:  scenarios(t, dir),
		TempDir:    tempDir,
	})

	result := v.Validate(context.Background(), model.FormatPeppolBIS, []byte("<Invoice/>"))

	assert.False(t, result.Ran)
	assert.Contains(t, result.Error, "scenario not matched")
	assertInputRemoved(t, marker, tempDir)
}

func TestValidate_Timeout(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	script, marker := writeScript(t, dir, "exec sleep 5")

	v := external.New(external.Config{
		Enabled:    true,
		Executable: script,
		Scenarios:  scenarios(t, dir),
		Timeout:    200 * time.Millisecond,
		TempDir:    tempDir,
	})

	result := v.Validate(context.Background(), model.FormatPeppolBIS, []byte("<Invoice/>"))

	assert.False(t, result.Ran)
	assert.Contains(t, result.Error, "timed out")
	assertInputRemoved(t, marker, tempDir)
}

func TestParseSVRL(t *testing.T) {
	findings, err := external.ParseSVRL([]byte(sampleSVRL))
	require.NoError(t, err)
	require.Len(t, findings, 3)

	assert.Equal(t, validation.SeverityError, findings[0].Severity)
	assert.Equal(t, "/Invoice/cbc:CustomizationID", findings[0].Field)
	assert.Equal(t, validation.SeverityWarning, findings[1].Severity)
	assert.Equal(t, validation.SeverityWarning, findings[2].Severity)
}

func TestParseSVRL_DefaultSeverity(t *testing.T) {
	report := `<schematron-output><failed-assert test="cbc:ID"><text>missing id</text></failed-assert></schematron-output>`

	findings, err := external.ParseSVRL([]byte(report))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "cbc:ID", findings[0].RuleID)
	assert.Equal(t, validation.SeverityError, findings[0].Severity)
}

func TestParseSVRL_Invalid(t *testing.T) {
	_, err := external.ParseSVRL([]byte("not xml <"))
	assert.Error(t, err)

	_, err = external.ParseSVRL([]byte(""))
	assert.Error(t, err)
}
