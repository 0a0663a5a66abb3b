package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/store"
)

type fakeFetcher struct {
	solution models.Solution
	err      error
}

func (f fakeFetcher) FetchSolution(ctx context.Context, blobID string) (models.Solution, error) {
	return f.solution, f.err
}

type fakeSimulator struct {
	dryRun models.DryRun
	err    error
}

func (f fakeSimulator) DryRun(ctx context.Context, transactionBytes []byte) (models.DryRun, error) {
	return f.dryRun, f.err
}

// memIntentStore is an in-memory IntentStore double used across pipeline
// and coordinator tests in place of a live Postgres instance.
type memIntentStore struct {
	mu      sync.Mutex
	intents map[string]models.Intent
	passed  map[string][]models.PassRecord
	failed  map[string][]models.FailRecord
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{
		intents: make(map[string]models.Intent),
		passed:  make(map[string][]models.PassRecord),
		failed:  make(map[string][]models.FailRecord),
	}
}

func (m *memIntentStore) PutIntent(ctx context.Context, intentID string, intent models.Intent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intentID] = intent
	return nil
}

func (m *memIntentStore) GetIntent(ctx context.Context, intentID string) (models.Intent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	return intent, ok, nil
}

func (m *memIntentStore) PutPassed(ctx context.Context, intentID string, record models.PassRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passed[intentID] = append(m.passed[intentID], record)
	return nil
}

func (m *memIntentStore) PutFailed(ctx context.Context, intentID string, record models.FailRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[intentID] = append(m.failed[intentID], record)
	return nil
}

func (m *memIntentStore) AddToSet(ctx context.Context, intentID string, set store.SetName, member string) error {
	return nil
}

func (m *memIntentStore) ListPassed(ctx context.Context, intentID string) ([]models.PassRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PassRecord(nil), m.passed[intentID]...), nil
}

func (m *memIntentStore) CountFailed(ctx context.Context, intentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failed[intentID]), nil
}

func (m *memIntentStore) DeleteIntentTree(ctx context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, intentID)
	delete(m.passed, intentID)
	delete(m.failed, intentID)
	return nil
}

func testConfig() Config {
	return Config{
		FetchTimeout:     time.Second,
		SimulatorTimeout: time.Second,
		StoreTimeout:     time.Second,
		RecordTTL:        time.Hour,
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	intent := models.Intent{
		IntentID:    "intent-1",
		UserAddress: "0xuser",
		Operation: models.Operation{
			ExpectedOutputs: []models.AssetAmount{{AssetID: "USDC", Amount: big.NewInt(100000)}},
		},
		Constraints: models.Constraints{
			MaxSlippageBPS: bpsPtr(100),
			MinOutputs:     []models.AssetAmount{{AssetID: "USDC", Amount: big.NewInt(100000)}},
		},
	}

	fetcher := fakeFetcher{solution: models.Solution{SolutionID: "sol-1", IntentID: "intent-1"}}
	simulator := fakeSimulator{dryRun: models.DryRun{
		Status: models.DryRunOK,
		Gas:    models.GasUsage{Computation: big.NewInt(1000), Storage: big.NewInt(0), Rebate: big.NewInt(0)},
		BalanceChanges: []models.BalanceChange{
			{Owner: "0xuser", CoinType: "USDC", Amount: big.NewInt(101000)},
		},
	}}
	intentStore := newMemIntentStore()

	p := New(fetcher, simulator, nil, intentStore, testConfig(), testLogger())
	outcome, err := p.Run(context.Background(), intent, "sol-1", "blob-1", 1000, 5000)
	require.NoError(t, err)
	assert.True(t, outcome.Passed)

	passed, err := intentStore.ListPassed(context.Background(), "intent-1")
	require.NoError(t, err)
	require.Len(t, passed, 1)
	assert.Equal(t, "sol-1", passed[0].SolutionID)
}

func TestPipeline_FetchFailureRecordsFailed(t *testing.T) {
	fetcher := fakeFetcher{err: assertErr{}}
	simulator := fakeSimulator{}
	intentStore := newMemIntentStore()

	p := New(fetcher, simulator, nil, intentStore, testConfig(), testLogger())
	outcome, err := p.Run(context.Background(), models.Intent{IntentID: "intent-1"}, "sol-1", "blob-1", 0, 5000)
	require.NoError(t, err)
	assert.False(t, outcome.Passed)

	failed := intentStore.failed["intent-1"]
	require.Len(t, failed, 1)
	assert.Equal(t, models.FailFetchFailed, failed[0].Reason)
	assert.Equal(t, "sol-1", failed[0].SolutionID)
}

func TestPipeline_DeadlineFastFailsBeforeSimulatorCalled(t *testing.T) {
	fetcher := fakeFetcher{solution: models.Solution{SolutionID: "sol-1"}}
	simulator := &countingSimulator{}
	intentStore := newMemIntentStore()

	p := New(fetcher, simulator, nil, intentStore, testConfig(), testLogger())
	outcome, err := p.Run(context.Background(), models.Intent{IntentID: "intent-1"}, "sol-1", "blob-1", 6000, 5000)
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Equal(t, 0, simulator.calls)

	failed := intentStore.failed["intent-1"]
	require.Len(t, failed, 1)
	assert.Equal(t, models.FailConstraintValidation, failed[0].Reason)
}

func TestPipeline_DryRunFailedRecordsFailed(t *testing.T) {
	fetcher := fakeFetcher{solution: models.Solution{SolutionID: "sol-1"}}
	simulator := fakeSimulator{dryRun: models.DryRun{Status: models.DryRunFail, ErrorMsg: "execution reverted"}}
	intentStore := newMemIntentStore()

	p := New(fetcher, simulator, nil, intentStore, testConfig(), testLogger())
	outcome, err := p.Run(context.Background(), models.Intent{IntentID: "intent-1"}, "sol-1", "blob-1", 0, 5000)
	require.NoError(t, err)
	assert.False(t, outcome.Passed)

	failed := intentStore.failed["intent-1"]
	require.Len(t, failed, 1)
	assert.Equal(t, models.FailDryRunFailed, failed[0].Reason)
}

type countingSimulator struct{ calls int }

func (c *countingSimulator) DryRun(ctx context.Context, transactionBytes []byte) (models.DryRun, error) {
	c.calls++
	return models.DryRun{Status: models.DryRunOK}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "fetch failed" }

func bpsPtr(v uint64) *uint64 { return &v }
