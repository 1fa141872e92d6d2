// Package fakenode is an in-process JSON-RPC node answering the subset of
// the eth, txpool and personal namespaces txbench talks to.
package fakenode

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

const DefaultChainID = 1337

// StatusFunc answers the n-th txpool_status call, counted from 1.
type StatusFunc func(call int) (pending, queued uint64, err error)

// SendFunc decides the outcome of the n-th eth_sendRawTransaction call, counted from 1.
type SendFunc func(call int) error

// Unlock records a personal_unlockAccount call.
type Unlock struct {
	Account  common.Address
	Password string
	Duration *uint64
}

// NodeTx records an eth_sendTransaction call.
type NodeTx struct {
	From common.Address
	Gas  uint64
	Data []byte
}

type Node struct {
	mu sync.Mutex

	server *rpc.Server

	ChainID  *big.Int
	GasPrice *big.Int
	Accounts []common.Address
	// Password is required by personal_unlockAccount when set.
	Password string
	// Code is stored at every created contract address.
	Code []byte

	status      StatusFunc
	statusCalls int
	send        SendFunc

	raw         []*types.Transaction
	nodeTxs     []NodeTx
	unlocks     []Unlock
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*types.Receipt
	code        map[common.Address][]byte
	filters     map[string][]common.Hash
	nextFilter  int
	uninstalled []string
}

// New starts a node with an empty pool and no accounts.
func New() *Node {
	n := &Node{
		server:   rpc.NewServer(),
		ChainID:  big.NewInt(DefaultChainID),
		GasPrice: big.NewInt(1_000_000_000),
		Code:     []byte{0x60, 0x00},
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		code:     make(map[common.Address][]byte),
		filters:  make(map[string][]common.Hash),
	}
	mustRegister(n.server, "eth", &ethAPI{n})
	mustRegister(n.server, "txpool", &txpoolAPI{n})
	mustRegister(n.server, "personal", &personalAPI{n})
	return n
}

func mustRegister(srv *rpc.Server, namespace string, api interface{}) {
	if err := srv.RegisterName(namespace, api); err != nil {
		panic(fmt.Errorf("register %s: %w", namespace, err))
	}
}

// Dial returns a client connected to the node.
func (n *Node) Dial() *rpc.Client {
	return rpc.DialInProc(n.server)
}

// Handler serves JSON-RPC over HTTP, for use with httptest.
func (n *Node) Handler() http.Handler {
	return n.server
}

// Close stops the server.
func (n *Node) Close() {
	n.server.Stop()
}

// SetStatus makes txpool_status answer from f.
func (n *Node) SetStatus(f StatusFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = f
}

// SetSend makes eth_sendRawTransaction fail whenever f returns an error.
func (n *Node) SetSend(f SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = f
}

// StatusCalls returns the number of txpool_status calls served.
func (n *Node) StatusCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusCalls
}

// RawTransactions returns the received raw transactions in arrival order.
func (n *Node) RawTransactions() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.raw...)
}

// NodeTransactions returns the accepted eth_sendTransaction calls.
func (n *Node) NodeTransactions() []NodeTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NodeTx(nil), n.nodeTxs...)
}

// Unlocks returns the personal_unlockAccount calls.
func (n *Node) Unlocks() []Unlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Unlock(nil), n.unlocks...)
}

// Uninstalled returns the ids passed to eth_uninstallFilter.
func (n *Node) Uninstalled() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.uninstalled...)
}

// Filters returns the number of installed filters.
func (n *Node) Filters() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.filters)
}

// PushBlock announces a new block to every installed filter.
func (n *Node) PushBlock(hash common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.filters {
		n.filters[id] = append(n.filters[id], hash)
	}
}

func (n *Node) mine(from common.Address, nonce uint64, contract bool, hash common.Hash) {
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		TxHash:            hash,
		BlockNumber:       big.NewInt(int64(len(n.receipts) + 1)),
		Logs:              []*types.Log{},
	}
	if contract {
		receipt.ContractAddress = crypto.CreateAddress(from, nonce)
		n.code[receipt.ContractAddress] = n.Code
	}
	n.receipts[hash] = receipt
	if nonce+1 > n.nonces[from] {
		n.nonces[from] = nonce + 1
	}
}

type ethAPI struct{ n *Node }

func (api *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.n.ChainID)
}

func (api *ethAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(api.n.GasPrice)
}

func (api *ethAPI) Accounts() []common.Address {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return append([]common.Address{}, api.n.Accounts...)
}

func (api *ethAPI) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return hexutil.Uint64(api.n.nonces[addr])
}

func (api *ethAPI) GetCode(addr common.Address, block string) hexutil.Bytes {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return api.n.code[addr]
}

func (api *ethAPI) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return api.n.receipts[hash]
}

func (api *ethAPI) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, err
	}
	if n.send != nil {
		if err := n.send(len(n.raw) + 1); err != nil {
			n.raw = append(n.raw, tx)
			return common.Hash{}, err
		}
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.ChainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	n.raw = append(n.raw, tx)
	n.mine(from, tx.Nonce(), tx.To() == nil, tx.Hash())
	return tx.Hash(), nil
}

type sendTxArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
	Gas  hexutil.Uint64  `json:"gas"`
	Data hexutil.Bytes   `json:"data"`
}

func (api *ethAPI) SendTransaction(args sendTxArgs) (common.Hash, error) {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()

	unlocked := false
	for _, u := range n.unlocks {
		if u.Account == args.From {
			unlocked = true
		}
	}
	if !unlocked {
		return common.Hash{}, errors.New("authentication needed: password or unlock")
	}
	nonce := n.nonces[args.From]
	hash := crypto.Keccak256Hash(args.From.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), args.Data)
	n.nodeTxs = append(n.nodeTxs, NodeTx{From: args.From, Gas: uint64(args.Gas), Data: args.Data})
	n.mine(args.From, nonce, args.To == nil, hash)
	return hash, nil
}

func (api *ethAPI) NewBlockFilter() string {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextFilter++
	id := hexutil.EncodeUint64(uint64(n.nextFilter))
	n.filters[id] = nil
	return id
}

func (api *ethAPI) GetFilterChanges(id string) ([]common.Hash, error) {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()
	hashes, ok := n.filters[id]
	if !ok {
		return nil, errors.New("filter not found")
	}
	n.filters[id] = nil
	if hashes == nil {
		hashes = []common.Hash{}
	}
	return hashes, nil
}

func (api *ethAPI) UninstallFilter(id string) bool {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.filters[id]
	delete(n.filters, id)
	n.uninstalled = append(n.uninstalled, id)
	return ok
}

type txpoolAPI struct{ n *Node }

func (api *txpoolAPI) Status() (map[string]hexutil.Uint, error) {
	n := api.n
	n.mu.Lock()
	n.statusCalls++
	call, f := n.statusCalls, n.status
	n.mu.Unlock()

	if f == nil {
		return map[string]hexutil.Uint{"pending": 0, "queued": 0}, nil
	}
	pending, queued, err := f(call)
	if err != nil {
		return nil, err
	}
	return map[string]hexutil.Uint{
		"pending": hexutil.Uint(pending),
		"queued":  hexutil.Uint(queued),
	}, nil
}

type personalAPI struct{ n *Node }

func (api *personalAPI) UnlockAccount(account common.Address, password string, duration *uint64) (bool, error) {
	n := api.n
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Password != "" && password != n.Password {
		return false, errors.New("could not decrypt key with given password")
	}
	n.unlocks = append(n.unlocks, Unlock{Account: account, Password: password, Duration: duration})
	return true, nil
}
