package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newAuditor(root string) *Auditor {
	lister := NewFilesystemLister(root)
	detector := NewRegexDetector(nil)
	return New(lister, []FindingDetector{detector}, nil, nil, os.ReadFile)
}

func TestAudit_DetectsAWSAccessKey_S6(t *testing.T) {
	root := t.TempDir()
	// six leading lines then the credential on line 7, matching spec.md §8 scenario S6.
	writeFile(t, root, "src/creds.ts", "line1\nline2\nline3\nline4\nline5\nline6\nconst key = \"AKIA0123456789ABCDEF\"\n")

	report, err := newAuditor(root).Audit(Scope{})
	require.NoError(t, err)

	var match *Finding
	for i := range report.Findings {
		if report.Findings[i].RuleID == "SEC-002" {
			match = &report.Findings[i]
		}
	}
	require.NotNil(t, match)
	require.Equal(t, SeverityCritical, match.Severity)
	require.Equal(t, "src/creds.ts", match.File)
	require.Equal(t, 7, match.Line)
	require.Equal(t, Fingerprint("SEC-002", "src/creds.ts", 7), match.Fingerprint)
	require.Equal(t, 1, report.Summary.BySeverity[SeverityCritical])
}

func TestAudit_ExcludesVendorAndGitDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vendor/lib/creds.go", "AKIA0123456789ABCDEF\n")
	writeFile(t, root, ".git/config", "AKIA0123456789ABCDEF\n")
	writeFile(t, root, "src/ok.go", "nothing here\n")

	report, err := newAuditor(root).Audit(Scope{})
	require.NoError(t, err)
	require.Empty(t, report.Findings)
	require.Equal(t, 1, report.ScannedFiles)
}

func TestAudit_HonoursScopeInclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.go", "AKIA0123456789ABCDEF\n")
	writeFile(t, root, "docs/b.md", "AKIA0123456789ABCDEF\n")

	report, err := newAuditor(root).Audit(Scope{Include: []string{"src/**"}})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.Equal(t, "src/a.go", report.Findings[0].File)
}

type fakeWaiverReader struct{ waived map[string]bool }

func (f *fakeWaiverReader) IsWaived(fingerprint string) (bool, error) {
	return f.waived[fingerprint], nil
}

func TestAudit_WaivedFindingExcludedFromSeveritySummary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/creds.ts", "AKIA0123456789ABCDEF\n")

	fp := Fingerprint("SEC-002", "src/creds.ts", 1)
	lister := NewFilesystemLister(root)
	detector := NewRegexDetector(nil)
	auditor := New(lister, []FindingDetector{detector}, &fakeWaiverReader{waived: map[string]bool{fp: true}}, nil, os.ReadFile)

	report, err := auditor.Audit(Scope{})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	require.True(t, report.Findings[0].Waived)
	require.Equal(t, 0, report.Summary.BySeverity[SeverityCritical])
	require.Contains(t, report.Waivers, fp)
}

func TestFileWaiverReader_MissingFileIsNotWaived(t *testing.T) {
	reader := NewFileWaiverReader(filepath.Join(t.TempDir(), "waivers.json"))
	waived, err := reader.IsWaived("anything")
	require.NoError(t, err)
	require.False(t, waived)
}

func TestFileWaiverReader_ReadsFingerprintList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waivers.json")
	require.NoError(t, os.WriteFile(path, []byte(`["abc123"]`), 0o644))

	reader := NewFileWaiverReader(path)
	waived, err := reader.IsWaived("abc123")
	require.NoError(t, err)
	require.True(t, waived)

	waived, err = reader.IsWaived("other")
	require.NoError(t, err)
	require.False(t, waived)
}
