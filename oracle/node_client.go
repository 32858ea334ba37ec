package oracle

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/iotaledger/iota.go/api"
	"github.com/iotaledger/iota.go/trinary"
	"github.com/pkg/errors"

	"github.com/cr0ssing/iota-local-gtta/models"
)

// dummyAddress is queried only so the node runs its consistency check on the tips.
var dummyAddress = strings.Repeat("9", 81)

const balanceThreshold = 50

// NodeClient talks to the HTTP API of a full node through the legacy IOTA client.
type NodeClient struct {
	url        string
	httpClient *http.Client
}

// NewNodeClient creates a client for the node at url. timeout bounds every call.
func NewNodeClient(url string, timeout time.Duration) *NodeClient {
	return &NodeClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// contextClient binds the requests of one API call to ctx.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func (c *NodeClient) api(ctx context.Context) (*api.API, error) {
	iotaAPI, err := api.ComposeAPI(api.HTTPClientSettings{
		URI:    c.url,
		Client: contextClient{ctx: ctx, client: c.httpClient},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "composing api for %s", c.url)
	}
	return iotaAPI, nil
}

// CheckConsistency asks the node for balances with the hashes as tips. The node rejects
// the request if the tips are inconsistent.
func (c *NodeClient) CheckConsistency(ctx context.Context, hashes []string) error {
	iotaAPI, err := c.api(ctx)
	if err != nil {
		return err
	}
	if _, err := iotaAPI.GetBalances(trinary.Hashes{dummyAddress}, balanceThreshold, hashes...); err != nil {
		return errors.Wrap(err, "get balances")
	}
	return nil
}

// GetTransactionsToApprove lets the node run the tip selection.
func (c *NodeClient) GetTransactionsToApprove(ctx context.Context, depth int, reference string) (models.TipPair, error) {
	if depth < 0 {
		return models.TipPair{}, errors.Errorf("negative depth %d", depth)
	}
	iotaAPI, err := c.api(ctx)
	if err != nil {
		return models.TipPair{}, err
	}
	var references []trinary.Hash
	if reference != "" {
		references = append(references, reference)
	}
	tips, err := iotaAPI.GetTransactionsToApprove(uint64(depth), references...)
	if err != nil {
		return models.TipPair{}, errors.Wrap(err, "get transactions to approve")
	}
	return models.TipPair{Trunk: tips.TrunkTransaction, Branch: tips.BranchTransaction}, nil
}
