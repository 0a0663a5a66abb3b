package ingest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intenus/preranking/models"
)

func TestEncodeDecodeSeq_RoundTripsBlockNumber(t *testing.T) {
	seq := encodeSeq(12345, 7)
	assert.Equal(t, uint64(12345), decodeSeqBlock(seq))
}

func TestEncodeSeq_OrdersByBlockThenLogIndex(t *testing.T) {
	assert.Less(t, encodeSeq(10, 5), encodeSeq(11, 0))
	assert.Less(t, encodeSeq(10, 0), encodeSeq(10, 1))
}

func newTestSource(t *testing.T) *EVMSource {
	t.Helper()
	source, err := NewEVMSource(nil, common.HexToAddress("0x1"))
	require.NoError(t, err)
	return source
}

func TestEVMSource_ParseIntentSubmitted(t *testing.T) {
	source := newTestSource(t)

	packed, err := source.intentABI.Events[intentSubmittedEventName].Inputs.NonIndexed().Pack("intent-1", "blob-1")
	require.NoError(t, err)

	event, err := source.parseIntentSubmitted(types.Log{Data: packed, TxHash: common.HexToHash("0xabc")}, 42)
	require.NoError(t, err)

	assert.Equal(t, models.EventIntentSubmitted, event.Kind)
	require.NotNil(t, event.Intent)
	assert.Equal(t, "intent-1", event.Intent.IntentID)
	assert.Equal(t, "blob-1", event.Intent.BlobID)
	assert.Equal(t, uint64(42), event.Cursor.EventSeq)
}

func TestEVMSource_ParseSolutionSubmitted_DecodesBigIntField(t *testing.T) {
	source := newTestSource(t)

	packed, err := source.solutionABI.Events[solutionSubmittedEventName].Inputs.NonIndexed().
		Pack("intent-1", "sol-1", "blob-1", big.NewInt(1_700_000_000_000))
	require.NoError(t, err)

	event, err := source.parseSolutionSubmitted(types.Log{Data: packed, TxHash: common.HexToHash("0xdef")}, 7)
	require.NoError(t, err)

	require.NotNil(t, event.Solution)
	assert.Equal(t, "sol-1", event.Solution.SolutionID)
	assert.Equal(t, int64(1_700_000_000_000), event.Solution.SubmittedAtMS)
}

func TestEVMSource_SignatureAndParser_UnknownKindErrors(t *testing.T) {
	source := newTestSource(t)
	_, parse := source.signatureAndParser(models.EventKind("bogus"))
	_, err := parse(types.Log{}, 0)
	assert.Error(t, err)
}

func TestField_PrefersSnakeThenCamel(t *testing.T) {
	m := map[string]interface{}{"blob_id": "snake"}
	assert.Equal(t, "snake", stringField(m, "blob_id", "blobId"))

	m = map[string]interface{}{"blobId": "camel"}
	assert.Equal(t, "camel", stringField(m, "blob_id", "blobId"))
}

func TestInt64Field_HandlesHeterogeneousNumericTypes(t *testing.T) {
	assert.Equal(t, int64(5), int64Field(map[string]interface{}{"n": int64(5)}, "n", "n"))
	assert.Equal(t, int64(6), int64Field(map[string]interface{}{"n": 6}, "n", "n"))
	assert.Equal(t, int64(7), int64Field(map[string]interface{}{"n": float64(7)}, "n", "n"))
	assert.Equal(t, int64(8), int64Field(map[string]interface{}{"n": big.NewInt(8)}, "n", "n"))
	assert.Equal(t, int64(0), int64Field(map[string]interface{}{}, "n", "n"))
}
