package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe">
  <NFe>
    <infNFe Id="NFe35240112345678000190550010000012341000012345">
      <ide><nNF>1234</nNF><serie>1</serie><dhEmi>2024-01-15T10:30:00-03:00</dhEmi></ide>
      <emit><CNPJ>12345678000190</CNPJ><xNome>Distribuidora Alfa LTDA</xNome></emit>
      <dest><CNPJ>98765432000121</CNPJ><xNome>Mercado Beta</xNome></dest>
      <det nItem="1">
        <prod>
          <cProd>TEC-01</cProd><xProd>Teclado mecanico</xProd>
          <NCM>84716053</NCM><CFOP>5102</CFOP>
          <uCom>UN</uCom><qCom>2.0000</qCom><vUnCom>150.00</vUnCom><vProd>300.00</vProd>
        </prod>
        <imposto>
          <ICMS><ICMS00><CST>00</CST><vBC>300.00</vBC><pICMS>18.00</pICMS><vICMS>54.00</vICMS></ICMS00></ICMS>
          <PIS><PISAliq><CST>01</CST><vBC>300.00</vBC><pPIS>1.65</pPIS><vPIS>4.95</vPIS></PISAliq></PIS>
        </imposto>
      </det>
      <det nItem="2">
        <prod>
          <cProd>MSE-02</cProd><xProd>Mouse optico</xProd>
          <NCM>84716060</NCM><CFOP>5102</CFOP>
          <uCom>UN</uCom><qCom>1.0000</qCom><vUnCom>80.00</vUnCom><vProd>80.00</vProd>
        </prod>
        <imposto>
          <ICMS><ICMS40><CST>40</CST></ICMS40></ICMS>
        </imposto>
      </det>
    </infNFe>
  </NFe>
</nfeProc>
`

// env is one test installation: a base dir for the shared store and a
// scratch dir for sessions.
type env struct {
	baseDir string
	tempDir string
	dataDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		baseDir: filepath.Join(root, "base"),
		tempDir: filepath.Join(root, "scratch"),
		dataDir: filepath.Join(root, "data"),
	}
	require.NoError(t, os.MkdirAll(e.dataDir, 0o755))
	return e
}

func (e *env) writeInvoice(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dataDir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (e *env) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--base-dir", e.baseDir, "--temp-dir", e.tempDir))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeData unmarshals the data object of a JSON success response.
func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is an object")
	return data
}

func TestExtractCommand(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)

	out, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents processed:  1")
	assert.Contains(t, out, "Records added:        2")
	assert.Contains(t, out, "Session total:        2 record(s)")
}

func TestExtractCommandJSON(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)

	out, _, err := e.run(t, "extract", invoice, "--format", "json")
	require.NoError(t, err)

	data := decodeData(t, out)
	assert.Equal(t, float64(1), data["files"])
	assert.Equal(t, float64(2), data["records_found"])
	assert.Equal(t, float64(2), data["records_added"])
	assert.Equal(t, float64(0), data["files_errored"])
}

func TestExtractCommandDuplicateRerun(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)

	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "extract", invoice, "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(0), data["records_added"])
	assert.Equal(t, float64(2), data["records_duplicate"])
}

func TestExtractCommandMalformedDocumentExitsFailure(t *testing.T) {
	e := newEnv(t)
	good := e.writeInvoice(t, "nota.xml", sampleInvoice)
	bad := e.writeInvoice(t, "quebrado.xml", "<nfeProc><unclosed")

	out, _, err := e.run(t, "extract", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Records added:        2", "good document still processed")
	assert.Contains(t, out, "quebrado.xml")
}

func TestExtractCommandRequiresArgs(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "extract")
	require.Error(t, err)
}

func TestSyncCommand(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "sync", "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(2), data["rows_added"])
	assert.Equal(t, float64(2), data["shared_total"])

	_, err = os.Stat(filepath.Join(e.baseDir, "produtos_nfe.csv"))
	assert.NoError(t, err, "shared store created in the base dir")

	// Re-sync with nothing new.
	out, _, err = e.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing new to merge")
}

func TestRecordsCommandWithFilter(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "records", "--filter", `icms.cst == "40"`, "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(1), data["count"])

	records, ok := data["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	rec := records[0].(map[string]any)
	assert.Equal(t, "MSE-02", rec["cprod"])
}

func TestRecordsCommandInvalidFilter(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "records", "--filter", "no_such_field == 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecordsCommandLimit(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "records", "--limit", "1", "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(1), data["count"])
}

func TestExportCommand(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	outPath := filepath.Join(e.dataDir, "export.csv")
	out, _, err := e.run(t, "export", outPath, "--filter", `cprod == "TEC-01"`)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 row(s)")

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2, "header plus one row")
	assert.True(t, strings.HasPrefix(lines[0], "Chave_NFe,"))
	assert.Contains(t, lines[1], "TEC-01")
}

func TestSessionsCommandNoOthers(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No other live sessions")
}

func TestSessionsCommandSeesOtherUsers(t *testing.T) {
	e := newEnv(t)
	// Another user's fresh marker.
	require.NoError(t, os.MkdirAll(e.tempDir, 0o755))
	marker := filepath.Join(e.tempDir, "lock_joao_20240301_120000_deadbeef.lock")
	require.NoError(t, os.WriteFile(marker, []byte("session: x\n"), 0o644))

	out, _, err := e.run(t, "sessions", "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	others, ok := data["other_live_sessions"].([]any)
	require.True(t, ok)
	require.Len(t, others, 1)
	assert.Equal(t, filepath.Base(marker), others[0])
}

func TestHistoryCommand(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "1 batch(es)")
	assert.Contains(t, out, "found=2 added=2")
}

func TestCloseCommand(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "close", "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(2), data["rows_added"])

	// Scratch files are gone; only the merge lock and shared artifacts
	// may remain.
	entries, err := os.ReadDir(e.tempDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), "private_"), entry.Name())
		assert.False(t, strings.HasPrefix(entry.Name(), "session_"), entry.Name())
	}
}

func TestCloseThenFreshSessionSeedsFromShared(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)
	_, _, err = e.run(t, "close")
	require.NoError(t, err)

	// The new session starts from the shared snapshot, so re-extracting
	// the same document finds only duplicates.
	out, _, err := e.run(t, "extract", invoice, "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(0), data["records_added"])
	assert.Equal(t, float64(2), data["records_duplicate"])
}

func TestSessionPersistsAcrossCommands(t *testing.T) {
	e := newEnv(t)
	invoice := e.writeInvoice(t, "nota.xml", sampleInvoice)
	_, _, err := e.run(t, "extract", invoice)
	require.NoError(t, err)

	out, _, err := e.run(t, "records", "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, float64(2), data["count"], "records survive between invocations")
}

func TestInvalidFormatRejected(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "sessions", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
