// Package simulate implements the Simulator Client collaborator (§4.E): a
// single dry_run call per pipeline invocation, with simulator-level retries
// hidden behind the interface.
package simulate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/body"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"

	"github.com/intenus/preranking/models"
)

// ErrSimulatorTransient marks a simulator-call failure (timeout, connection
// reset) as retryable by the caller's policy, not internally.
var ErrSimulatorTransient = errors.New("simulator transient")

// Client implements dry_run against an HTTP simulator endpoint.
type Client struct {
	client *gentleman.Client
}

// New builds a Client pointed at baseURL with a per-call bound timeout.
func New(baseURL string, requestTimeout time.Duration) *Client {
	c := gentleman.New()
	c.URL(baseURL)
	c.Use(timeout.Request(requestTimeout))
	return &Client{client: c}
}

type dryRunRequest struct {
	TransactionBytesB64 string `json:"transaction_bytes_b64"`
}

type gasWire struct {
	Computation string `json:"computation"`
	Storage     string `json:"storage"`
	Rebate      string `json:"rebate"`
}

type simEventWire struct {
	Package string            `json:"package"`
	Fields  map[string]string `json:"fields"`
}

type balanceChangeWire struct {
	Owner    string `json:"owner"`
	CoinType string `json:"coin_type"`
	Amount   string `json:"amount"`
}

type objectChangeWire struct {
	Package string `json:"package"`
}

type dryRunWire struct {
	Status         string              `json:"status"`
	ErrorMsg       string              `json:"error_msg"`
	Gas            gasWire             `json:"gas"`
	Events         []simEventWire      `json:"events"`
	BalanceChanges []balanceChangeWire `json:"balance_changes"`
	ObjectChanges  []objectChangeWire  `json:"object_changes"`
}

// DryRun performs a single dry_run call, decoding the simulator's response
// into the engine's DryRun shape. No retries happen here; retries are the
// caller's policy, per §4.E.
func (c *Client) DryRun(ctx context.Context, transactionBytes []byte) (models.DryRun, error) {
	select {
	case <-ctx.Done():
		return models.DryRun{}, errors.Wrap(ErrSimulatorTransient, ctx.Err().Error())
	default:
	}

	payload := dryRunRequest{TransactionBytesB64: base64.StdEncoding.EncodeToString(transactionBytes)}

	req := c.client.Request()
	req.Method(http.MethodPost)
	req.Path("/dry_run")
	req.Use(body.JSON(payload))

	res, err := req.Send()
	if err != nil {
		return models.DryRun{}, errors.Wrap(ErrSimulatorTransient, err.Error())
	}
	if res.StatusCode >= 500 {
		return models.DryRun{}, errors.Wrapf(ErrSimulatorTransient, "status %d", res.StatusCode)
	}
	if res.StatusCode != http.StatusOK {
		return models.DryRun{}, errors.Errorf("simulator returned status %d", res.StatusCode)
	}

	var wire dryRunWire
	if err := json.Unmarshal(res.Bytes(), &wire); err != nil {
		return models.DryRun{}, errors.Wrap(err, "decode dry run response")
	}

	return wire.toDryRun(), nil
}

func parseBig(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func (w dryRunWire) toDryRun() models.DryRun {
	events := make([]models.SimEvent, len(w.Events))
	for i, e := range w.Events {
		fields := make(map[string]*big.Int, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = parseBig(v)
		}
		events[i] = models.SimEvent{Package: e.Package, Fields: fields}
	}

	balances := make([]models.BalanceChange, len(w.BalanceChanges))
	for i, b := range w.BalanceChanges {
		amount, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			amount = big.NewInt(0)
		}
		balances[i] = models.BalanceChange{Owner: b.Owner, CoinType: b.CoinType, Amount: amount}
	}

	objects := make([]models.ObjectChange, len(w.ObjectChanges))
	for i, o := range w.ObjectChanges {
		objects[i] = models.ObjectChange{Package: o.Package}
	}

	return models.DryRun{
		Status:   models.DryRunStatus(w.Status),
		ErrorMsg: w.ErrorMsg,
		Gas: models.GasUsage{
			Computation: parseBig(w.Gas.Computation),
			Storage:     parseBig(w.Gas.Storage),
			Rebate:      parseBig(w.Gas.Rebate),
		},
		Events:         events,
		BalanceChanges: balances,
		ObjectChanges:  objects,
	}
}
