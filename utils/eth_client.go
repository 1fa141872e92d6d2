package utils

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultFilterInterval is how often an installed block filter is polled.
const DefaultFilterInterval = 500 * time.Millisecond

// MempoolStatus is a snapshot of the node's transaction pool counters.
type MempoolStatus struct {
	Pending uint64
	Queued  uint64
}

// Drained reports whether both queues are empty.
func (s MempoolStatus) Drained() bool {
	return s.Pending == 0 && s.Queued == 0
}

// txPoolStatus is the wire form of txpool_status.
type txPoolStatus struct {
	Pending string `json:"pending"`
	Queued  string `json:"queued"`
}

// TxArgs are the arguments of a node-signed eth_sendTransaction call.
type TxArgs struct {
	From     ethcmn.Address  `json:"from"`
	To       *ethcmn.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data"`
}

// EthClient wraps the ethereum client with the node extensions the bench flows need
type EthClient struct {
	*ethclient.Client
	rpcClient *rpc.Client
	websocket bool

	// FilterInterval is the polling period of filters installed by NewBlockFilter.
	FilterInterval time.Duration
}

// createOptimizedHTTPClient creates an HTTP client optimized for connection pooling
func createOptimizedHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        300,
		MaxIdleConnsPerHost: 300,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
		MaxConnsPerHost:     300,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}
}

// NewEthClient dials url. HTTP endpoints share a pooled http.Client; ws(s)
// endpoints additionally get push subscriptions for new heads.
func NewEthClient(ctx context.Context, url string) (*EthClient, error) {
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(createOptimizedHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rpc client: %w", err)
	}
	c := NewClient(rpcClient)
	c.websocket = strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
	return c, nil
}

// NewClient wraps an already connected rpc client.
func NewClient(rpcClient *rpc.Client) *EthClient {
	return &EthClient{
		Client:         ethclient.NewClient(rpcClient),
		rpcClient:      rpcClient,
		FilterInterval: DefaultFilterInterval,
	}
}

// RPC exposes the underlying rpc client.
func (e *EthClient) RPC() *rpc.Client {
	return e.rpcClient
}

// MempoolStatus queries txpool_status and decodes the hex counters.
func (e *EthClient) MempoolStatus(ctx context.Context) (MempoolStatus, error) {
	var raw txPoolStatus
	if err := e.rpcClient.CallContext(ctx, &raw, "txpool_status"); err != nil {
		return MempoolStatus{}, err
	}
	pending, err := hexToUint64(raw.Pending)
	if err != nil {
		return MempoolStatus{}, fmt.Errorf("decode pending: %w", err)
	}
	queued, err := hexToUint64(raw.Queued)
	if err != nil {
		return MempoolStatus{}, fmt.Errorf("decode queued: %w", err)
	}
	return MempoolStatus{Pending: pending, Queued: queued}, nil
}

// hexToUint64 decodes a quantity, treating "" and "0x" as zero.
func hexToUint64(s string) (uint64, error) {
	if s == "" || s == "0x" {
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

// UnlockAccount unlocks account on the node for duration.
func (e *EthClient) UnlockAccount(ctx context.Context, account ethcmn.Address, password string, duration time.Duration) (bool, error) {
	var ok bool
	err := e.rpcClient.CallContext(ctx, &ok, "personal_unlockAccount", account, password, uint64(duration/time.Second))
	return ok, err
}

// SendRawTransaction submits a signed, hex encoded transaction.
func (e *EthClient) SendRawTransaction(ctx context.Context, rawTx string) (ethcmn.Hash, error) {
	var hash ethcmn.Hash
	err := e.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", rawTx)
	return hash, err
}

// SendNodeTransaction asks the node to sign and submit args with an unlocked account.
func (e *EthClient) SendNodeTransaction(ctx context.Context, args TxArgs) (ethcmn.Hash, error) {
	var hash ethcmn.Hash
	err := e.rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args)
	return hash, err
}

// Accounts lists the accounts managed by the node.
func (e *EthClient) Accounts(ctx context.Context) ([]ethcmn.Address, error) {
	var accounts []ethcmn.Address
	err := e.rpcClient.CallContext(ctx, &accounts, "eth_accounts")
	return accounts, err
}

// QueryNonce queries the pending nonce for the given address
func (e *EthClient) QueryNonce(ctx context.Context, addr ethcmn.Address) (uint64, error) {
	return e.PendingNonceAt(ctx, addr)
}

// SubscribeBlocks delivers the hash of every new block to ch. Websocket
// endpoints use a newHeads subscription, everything else a polled block filter.
func (e *EthClient) SubscribeBlocks(ctx context.Context, ch chan<- ethcmn.Hash) (ethereum.Subscription, error) {
	if e.websocket {
		return e.SubscribeNewHeads(ctx, ch)
	}
	return e.NewBlockFilter(ctx, ch)
}

// NewBlockFilter installs an eth_newBlockFilter and polls its changes every
// FilterInterval. Unsubscribe uninstalls the filter on the node.
func (e *EthClient) NewBlockFilter(ctx context.Context, ch chan<- ethcmn.Hash) (ethereum.Subscription, error) {
	var id string
	if err := e.rpcClient.CallContext(ctx, &id, "eth_newBlockFilter"); err != nil {
		return nil, err
	}
	interval := e.FilterInterval
	if interval <= 0 {
		interval = DefaultFilterInterval
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer e.uninstallFilter(id)

		pollCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-pollCtx.Done():
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}
			var hashes []ethcmn.Hash
			if err := e.rpcClient.CallContext(pollCtx, &hashes, "eth_getFilterChanges", id); err != nil {
				select {
				case <-quit:
					return nil
				default:
					return err
				}
			}
			for _, hash := range hashes {
				select {
				case ch <- hash:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (e *EthClient) uninstallFilter(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ok bool
	_ = e.rpcClient.CallContext(ctx, &ok, "eth_uninstallFilter", id)
}

// SubscribeNewHeads forwards the hashes of an eth_subscribe("newHeads") stream.
func (e *EthClient) SubscribeNewHeads(ctx context.Context, ch chan<- ethcmn.Hash) (ethereum.Subscription, error) {
	heads := make(chan *types.Header)
	headSub, err := e.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer headSub.Unsubscribe()
		for {
			select {
			case head := <-heads:
				select {
				case ch <- head.Hash():
				case <-quit:
					return nil
				}
			case err := <-headSub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
