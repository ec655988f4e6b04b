package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitResponse struct {
	Status string   `json:"status"`
	Data   txOutput `json:"data"`
	Error  *CLIError
}

func TestSubmitMissingArg(t *testing.T) {
	_, _, err := execute(t, NewSubmitCommand(testOptions(t, "text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestSubmitCommitted(t *testing.T) {
	opts := testOptions(t, "json")

	out, _, err := execute(t, NewSubmitCommand(opts), writeTx(t, txPabloV1))
	require.NoError(t, err)

	var resp submitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.TxID)
	assert.Equal(t, "committed", string(resp.Data.Outcome))
	assert.NotEmpty(t, resp.Data.SubmissionID)
	require.Len(t, resp.Data.Effects, 1)
	effect := resp.Data.Effects[0]
	assert.Contains(t, render(effect), `"kind":"put"`)
	assert.Contains(t, render(effect), `"valid_from":{"$time":"2020-01-01T00:00:00Z"}`)
}

func TestSubmitAborted(t *testing.T) {
	opts := testOptions(t, "json")
	submitTx(t, opts, txPabloV1)

	out, _, err := execute(t, NewSubmitCommand(opts), writeTx(t, txStaleMatch))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))

	var resp submitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_ABORTED", resp.Error.Code)
	assert.Equal(t, int64(2), resp.Data.TxID)
	assert.Equal(t, "match-failed", string(resp.Data.AbortReason))
	assert.Empty(t, resp.Data.Effects)
}

func TestSubmitAbortedText(t *testing.T) {
	opts := testOptions(t, "text")

	out, _, err := execute(t, NewSubmitCommand(opts), writeTx(t, txStaleMatch))
	require.Error(t, err)
	assert.Contains(t, out, "✗ tx 1 aborted")
	assert.Contains(t, out, "reason: match-failed")
	assert.Contains(t, out, "Error [E_ABORTED]")
}

func TestSubmitInvalidTransaction(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown operation", "- bogus: {id: pablo}\n"},
		{"not a list", "put: {id: pablo}\n"},
		{"empty transaction", "[]\n"},
		{"inverted interval", `- delete: {id: pablo, valid_from: "2022-01-01T00:00:00Z", valid_to: "2021-01-01T00:00:00Z"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, NewSubmitCommand(testOptions(t, "text")), writeTx(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E_INVALID_TX]")
		})
	}
}

func TestSubmitMissingFile(t *testing.T) {
	_, _, err := execute(t, NewSubmitCommand(testOptions(t, "text")), "/nonexistent/tx.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read transaction")
}

func TestSubmitFromStdin(t *testing.T) {
	opts := testOptions(t, "text")
	cmd := NewSubmitCommand(opts)
	cmd.SetIn(strings.NewReader(`[{"put":{"id":"ivan","doc":{"age":30}}}]`))

	out, _, err := execute(t, cmd, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ tx 1 committed")
	assert.Contains(t, out, `effect {"hash":`)
}

func TestSubmitMetrics(t *testing.T) {
	opts := testOptions(t, "text")

	_, errOut, err := execute(t, NewSubmitCommand(opts), "--metrics", writeTx(t, txIvan))
	require.NoError(t, err)
	assert.Contains(t, errOut, `chronicle_transactions_total{outcome="committed"} 1`)
	assert.Contains(t, errOut, "chronicle_last_tx_id 1")
}

func TestSubmitResumesTxIDs(t *testing.T) {
	opts := testOptions(t, "json")
	submitTx(t, opts, txPabloV1)
	submitTx(t, opts, txIvan)

	out, _, err := execute(t, NewSubmitCommand(opts), writeTx(t, txEvictIvan))
	require.NoError(t, err)

	var resp submitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(3), resp.Data.TxID)
	require.Len(t, resp.Data.Effects, 1)
	assert.Equal(t, `{"id":"ivan","kind":"evict"}`, render(resp.Data.Effects[0]))
}
