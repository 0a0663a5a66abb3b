package ingest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/intenus/preranking/models"
)

// blockShift packs a (block_number, log_index) pair into a single
// monotonic EventSeq, mirroring catchUpOnIntentEvents' block-range
// chunking but expressed as a cursor instead of a separate progress map.
const blockShift = 1_000_000

const (
	intentSubmittedEventName   = "IntentSubmitted"
	solutionSubmittedEventName = "SolutionSubmitted"

	intentSubmittedEventABI = `[{"anonymous":false,"inputs":[` +
		`{"indexed":false,"name":"intent_id","type":"string"},` +
		`{"indexed":false,"name":"blob_id","type":"string"}` +
		`],"name":"IntentSubmitted","type":"event"}]`

	solutionSubmittedEventABI = `[{"anonymous":false,"inputs":[` +
		`{"indexed":false,"name":"intent_id","type":"string"},` +
		`{"indexed":false,"name":"solution_id","type":"string"},` +
		`{"indexed":false,"name":"blob_id","type":"string"},` +
		`{"indexed":false,"name":"submitted_at_ms","type":"uint256"}` +
		`],"name":"SolutionSubmitted","type":"event"}]`
)

// maxBlockRange mirrors DefaultMaxBlockRange: the widest block span queried
// in a single FilterLogs call, chunked above that to avoid upstream
// timeouts on wide catch-up ranges.
const maxBlockRange = uint64(5000)

// EVMSource implements EventSource against an EVM-style log feed: each
// event kind is filtered by its package address and event signature, and
// the cursor's EventSeq encodes (block_number, log_index) so that ordering
// survives across ticks without an auxiliary progress table.
type EVMSource struct {
	client              *ethclient.Client
	packageAddr         common.Address
	intentABI           abi.ABI
	solutionABI         abi.ABI
	intentSignature     common.Hash
	solutionSignature   common.Hash
}

func NewEVMSource(client *ethclient.Client, packageAddr common.Address) (*EVMSource, error) {
	intentABI, err := abi.JSON(strings.NewReader(intentSubmittedEventABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse intent submitted abi")
	}
	solutionABI, err := abi.JSON(strings.NewReader(solutionSubmittedEventABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse solution submitted abi")
	}
	return &EVMSource{
		client:            client,
		packageAddr:       packageAddr,
		intentABI:         intentABI,
		solutionABI:       solutionABI,
		intentSignature:   intentABI.Events[intentSubmittedEventName].ID,
		solutionSignature: solutionABI.Events[solutionSubmittedEventName].ID,
	}, nil
}

func encodeSeq(blockNumber uint64, logIndex uint) uint64 {
	return blockNumber*blockShift + uint64(logIndex)
}

func decodeSeqBlock(seq uint64) uint64 {
	return seq / blockShift
}

func (s *EVMSource) QueryEvents(ctx context.Context, kind models.EventKind, after models.Cursor, limit int) ([]models.Event, error) {
	signature, parse := s.signatureAndParser(kind)

	latest, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch latest block number")
	}

	fromBlock := decodeSeqBlock(after.EventSeq)
	if fromBlock > latest {
		return nil, nil
	}

	events := make([]models.Event, 0, limit)
	for fromBlock <= latest && len(events) < limit {
		toBlock := fromBlock + maxBlockRange
		if toBlock > latest {
			toBlock = latest
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []common.Address{s.packageAddr},
			Topics:    [][]common.Hash{{signature}},
		}

		logs, err := s.client.FilterLogs(ctx, query)
		if err != nil {
			return nil, errors.Wrapf(err, "filter logs %d-%d", fromBlock, toBlock)
		}

		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for _, l := range logs {
			seq := encodeSeq(l.BlockNumber, l.Index)
			if seq <= after.EventSeq {
				continue
			}
			event, err := parse(l, seq)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
			if len(events) >= limit {
				break
			}
		}

		fromBlock = toBlock + 1
	}

	return events, nil
}

func (s *EVMSource) signatureAndParser(kind models.EventKind) (common.Hash, func(types.Log, uint64) (models.Event, error)) {
	switch kind {
	case models.EventIntentSubmitted:
		return s.intentSignature, s.parseIntentSubmitted
	case models.EventSolutionSubmitted:
		return s.solutionSignature, s.parseSolutionSubmitted
	default:
		return common.Hash{}, func(types.Log, uint64) (models.Event, error) {
			return models.Event{}, fmt.Errorf("unknown event kind %q", kind)
		}
	}
}

func (s *EVMSource) parseIntentSubmitted(l types.Log, seq uint64) (models.Event, error) {
	fields, err := s.unpack(s.intentABI, intentSubmittedEventName, l.Data)
	if err != nil {
		return models.Event{}, err
	}
	return models.Event{
		Kind:   models.EventIntentSubmitted,
		Cursor: models.Cursor{EventSeq: seq, TxDigest: l.TxHash.Hex()},
		Intent: &models.IntentSubmittedPayload{
			IntentID: stringField(fields, "intent_id", "intentId"),
			BlobID:   stringField(fields, "blob_id", "blobId"),
		},
	}, nil
}

func (s *EVMSource) parseSolutionSubmitted(l types.Log, seq uint64) (models.Event, error) {
	fields, err := s.unpack(s.solutionABI, solutionSubmittedEventName, l.Data)
	if err != nil {
		return models.Event{}, err
	}
	return models.Event{
		Kind:   models.EventSolutionSubmitted,
		Cursor: models.Cursor{EventSeq: seq, TxDigest: l.TxHash.Hex()},
		Solution: &models.SolutionSubmittedPayload{
			IntentID:      stringField(fields, "intent_id", "intentId"),
			SolutionID:    stringField(fields, "solution_id", "solutionId"),
			BlobID:        stringField(fields, "blob_id", "blobId"),
			SubmittedAtMS: int64Field(fields, "submitted_at_ms", "submittedAtMs"),
		},
	}, nil
}

func (s *EVMSource) unpack(contractABI abi.ABI, eventName string, data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if err := contractABI.UnpackIntoMap(out, eventName, data); err != nil {
		return nil, errors.Wrapf(err, "unpack %s", eventName)
	}
	return out, nil
}
