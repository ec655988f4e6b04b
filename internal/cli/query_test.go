package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/doc"
)

// seedPablo commits version 1 from 2020 and a bounded version 2 over 2021.
func seedPablo(t *testing.T, opts *RootOptions) {
	t.Helper()
	submitTx(t, opts, txPabloV1)
	submitTx(t, opts, txPabloV2)
}

func entityJSON(t *testing.T, opts *RootOptions, args ...string) (EntityResult, error) {
	t.Helper()
	out, _, err := execute(t, NewEntityCommand(opts), args...)
	var resp struct {
		Data EntityResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Data, err
}

func TestEntityAtValidTime(t *testing.T) {
	opts := testOptions(t, "json")
	seedPablo(t, opts)

	tests := []struct {
		name    string
		args    []string
		version int64
		txID    int64
	}{
		{"now", []string{"pablo"}, 1, 2},
		{"inside bounded put", []string{"pablo", "--at", "2021-06-01T00:00:00Z"}, 2, 2},
		{"after bounded put", []string{"pablo", "--at", "2022-06-01T00:00:00Z"}, 1, 2},
		{"as of first tx", []string{"pablo", "--at", "2021-06-01T00:00:00Z", "--as-of-tx", "1"}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := entityJSON(t, opts, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.txID, res.TxID)
			require.NotNil(t, res.Doc)
			assert.Equal(t, doc.EntityID("pablo"), res.Doc.ID)
			assert.Equal(t, doc.Int(tt.version), res.Doc.Attrs["version"])
		})
	}
}

func TestEntityNotFound(t *testing.T) {
	opts := testOptions(t, "json")
	seedPablo(t, opts)

	res, err := entityJSON(t, opts, "pablo", "--at", "2019-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Nil(t, res.Doc)
	assert.Equal(t, "2019-01-01T00:00:00Z", res.ValidTime)

	_, err = entityJSON(t, opts, "nobody")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEntityText(t *testing.T) {
	opts := testOptions(t, "text")
	seedPablo(t, opts)

	out, _, err := execute(t, NewEntityCommand(opts), "pablo", "--at", "2021-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "pablo as of tx 2 at 2021-06-01T00:00:00Z\n  {\"name\":\"Pablo\",\"version\":2}\n", out)
}

func TestEntityInvalidFlags(t *testing.T) {
	opts := testOptions(t, "text")
	seedPablo(t, opts)

	_, _, err := execute(t, NewEntityCommand(opts), "pablo", "--at", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --at")

	_, _, err = execute(t, NewEntityCommand(opts), "pablo", "--as-of-tx", "99")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "has not been processed")
}

func TestHistory(t *testing.T) {
	opts := testOptions(t, "json")
	seedPablo(t, opts)

	out, _, err := execute(t, NewHistoryCommand(opts), "pablo")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			TxID     int64  `json:"tx_id"`
			Versions []struct {
				Doc       doc.Document `json:"doc"`
				ValidFrom string       `json:"valid_from"`
				ValidTo   *string      `json:"valid_to"`
				TxID      int64        `json:"tx_id"`
			} `json:"versions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "pablo", resp.Data.ID)
	assert.Equal(t, int64(2), resp.Data.TxID)

	versions := resp.Data.Versions
	require.Len(t, versions, 3)
	assert.Equal(t, doc.Int(1), versions[0].Doc.Attrs["version"])
	assert.Equal(t, "2020-01-01T00:00:00Z", versions[0].ValidFrom)
	require.NotNil(t, versions[0].ValidTo)
	assert.Equal(t, "2021-01-01T00:00:00Z", *versions[0].ValidTo)

	assert.Equal(t, doc.Int(2), versions[1].Doc.Attrs["version"])
	assert.Equal(t, int64(2), versions[1].TxID)

	assert.Equal(t, doc.Int(1), versions[2].Doc.Attrs["version"])
	assert.Equal(t, "2022-01-01T00:00:00Z", versions[2].ValidFrom)
	assert.Nil(t, versions[2].ValidTo)
}

func TestHistoryAsOfTx(t *testing.T) {
	opts := testOptions(t, "text")
	seedPablo(t, opts)

	out, _, err := execute(t, NewHistoryCommand(opts), "pablo", "--as-of-tx", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "pablo: 1 version(s) as of tx 1")
	assert.Contains(t, out, "[2020-01-01T00:00:00Z, ∞) tx 1")
}

func TestHistoryNotFound(t *testing.T) {
	opts := testOptions(t, "text")
	submitTx(t, opts, txIvan)
	submitTx(t, opts, txEvictIvan)

	out, _, err := execute(t, NewHistoryCommand(opts), "ivan")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}
