package bench

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-toolkit/txbench/config"
	"github.com/okx/xlayer-toolkit/txbench/contract"
	"github.com/okx/xlayer-toolkit/txbench/internal/fakenode"
	"github.com/okx/xlayer-toolkit/txbench/metrics"
	"github.com/okx/xlayer-toolkit/txbench/operations"
	"github.com/okx/xlayer-toolkit/txbench/utils"
)

var testLogger = log.NewLogger(log.DiscardHandler())

func setup(t *testing.T) (*utils.EthClient, *fakenode.Node, *config.Config) {
	t.Helper()
	node := fakenode.New()
	cli := utils.NewClient(node.Dial())
	t.Cleanup(func() {
		cli.Close()
		node.Close()
	})

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Bench.PollInterval = time.Millisecond
	cfg.Bench.FilterInterval = 5 * time.Millisecond
	return cli, node, cfg
}

func withLocalKey(t *testing.T, cfg *config.Config) ethcmn.Address {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg.Wallet.PrivateKey = hexutil.Encode(crypto.FromECDSA(key))
	return crypto.PubkeyToAddress(key.PublicKey)
}

func TestDeployWithNode(t *testing.T) {
	receiptPollInterval = 5 * time.Millisecond
	cli, node, cfg := setup(t)
	account := ethcmn.HexToAddress("0x00000000000000000000000000000000000000a1")
	node.Accounts = []ethcmn.Address{account}
	node.Password = "hunter2"
	cfg.Wallet.Password = "hunter2"

	res, err := Deploy(context.Background(), cli, cfg, testLogger)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(account, 0), res.Address)
	require.NotEqual(t, ethcmn.Hash{}, res.TxHash)

	unlocks := node.Unlocks()
	require.Len(t, unlocks, 1)
	require.Equal(t, account, unlocks[0].Account)
	require.Equal(t, uint64(300), *unlocks[0].Duration)

	txs := node.NodeTransactions()
	require.Len(t, txs, 1)
	require.Equal(t, account, txs[0].From)
	require.Equal(t, uint64(4700000), txs[0].Gas)
	require.Equal(t, contract.Bytecode(), txs[0].Data)
}

func TestDeployWithNodeConfiguredAddress(t *testing.T) {
	receiptPollInterval = 5 * time.Millisecond
	cli, node, cfg := setup(t)
	configured := ethcmn.HexToAddress("0x00000000000000000000000000000000000000b2")
	node.Accounts = []ethcmn.Address{ethcmn.HexToAddress("0x00000000000000000000000000000000000000a1")}
	cfg.Wallet.Address = configured.Hex()

	res, err := Deploy(context.Background(), cli, cfg, testLogger)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(configured, 0), res.Address)
	require.Equal(t, configured, node.Unlocks()[0].Account)
}

func TestDeployWithNodeErrors(t *testing.T) {
	receiptPollInterval = 5 * time.Millisecond

	t.Run("no accounts", func(t *testing.T) {
		cli, _, cfg := setup(t)
		_, err := Deploy(context.Background(), cli, cfg, testLogger)
		require.ErrorContains(t, err, "no accounts")
	})

	t.Run("wrong password", func(t *testing.T) {
		cli, node, cfg := setup(t)
		node.Accounts = []ethcmn.Address{ethcmn.HexToAddress("0xa1")}
		node.Password = "right"
		cfg.Wallet.Password = "wrong"

		_, err := Deploy(context.Background(), cli, cfg, testLogger)
		require.ErrorContains(t, err, "could not decrypt key")
		require.Empty(t, node.NodeTransactions())
	})

	t.Run("bad abi override", func(t *testing.T) {
		cli, _, cfg := setup(t)
		cfg.Deploy.ABIPath = filepath.Join(t.TempDir(), "missing.json")
		_, err := Deploy(context.Background(), cli, cfg, testLogger)
		require.Error(t, err)
	})
}

func TestDeployLocal(t *testing.T) {
	cli, node, cfg := setup(t)
	from := withLocalKey(t, cfg)

	res, err := Deploy(context.Background(), cli, cfg, testLogger)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(from, 0), res.Address)

	txs := node.RawTransactions()
	require.Len(t, txs, 1)
	require.Nil(t, txs[0].To())
	require.Equal(t, res.TxHash, txs[0].Hash())
	require.Equal(t, contract.Bytecode(), txs[0].Data())
	require.Equal(t, uint64(4700000), txs[0].Gas())
	require.Equal(t, int64(fakenode.DefaultChainID), txs[0].ChainId().Int64())
	require.Empty(t, node.Unlocks())
}

func TestGenerateTxs(t *testing.T) {
	cli, node, cfg := setup(t)
	from := withLocalKey(t, cfg)
	dest := ethcmn.HexToAddress("0x00000000000000000000000000000000000000c3")
	cfg.Bench.Destination = dest.Hex()

	txs, err := GenerateTxs(context.Background(), cli, cfg, 3, testLogger)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	signer := types.NewEIP155Signer(node.ChainID)
	for i, raw := range txs {
		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(raw)))
		require.Equal(t, uint64(i), tx.Nonce())
		require.Equal(t, dest, *tx.To())
		require.Equal(t, 0, node.GasPrice.Cmp(tx.GasPrice()))
		sender, err := types.Sender(signer, tx)
		require.NoError(t, err)
		require.Equal(t, from, sender)
	}
}

func TestGenerateTxsOverrides(t *testing.T) {
	cli, _, cfg := setup(t)
	from := withLocalKey(t, cfg)
	cfg.Bench.GasPrice = "3gwei"
	cfg.Bench.Unprotected = true

	txs, err := GenerateTxs(context.Background(), cli, cfg, 1, testLogger)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(txs[0])))
	require.False(t, tx.Protected())
	require.Zero(t, big.NewInt(3_000_000_000).Cmp(tx.GasPrice()))
	require.Equal(t, from, *tx.To())

	cfg.Bench.Unprotected = false
	cfg.Bench.ChainID = 196
	txs, err = GenerateTxs(context.Background(), cli, cfg, 1, testLogger)
	require.NoError(t, err)
	require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(txs[0])))
	require.Equal(t, int64(196), tx.ChainId().Int64())

	_, err = GenerateTxs(context.Background(), cli, cfg, 0, testLogger)
	require.Error(t, err)

	cfg.Wallet.PrivateKey = ""
	_, err = GenerateTxs(context.Background(), cli, cfg, 1, testLogger)
	require.Error(t, err)
}

func TestBenchInterval(t *testing.T) {
	cli, node, cfg := setup(t)
	withLocalKey(t, cfg)
	cfg.Bench.Concurrency = 4
	cfg.Bench.StatsFile = filepath.Join(t.TempDir(), "stats.log")
	node.SetStatus(func(call int) (uint64, uint64, error) {
		if call < 3 {
			return 20, 1, nil
		}
		return 0, 0, nil
	})
	m := metrics.New(nil)

	summary, err := Bench(context.Background(), cli, cfg, 20, testLogger, m)
	require.NoError(t, err)
	require.Equal(t, 20, summary.TxCount)
	require.True(t, summary.Drained)
	require.Equal(t, 3, summary.Polls)
	require.Equal(t, uint64(20), summary.PeakPending)
	require.NotEmpty(t, summary.RunID)

	nonces := make(map[uint64]bool)
	for _, tx := range node.RawTransactions() {
		nonces[tx.Nonce()] = true
	}
	require.Len(t, nonces, 20)
	require.Equal(t, 20.0, testutil.ToFloat64(m.TxSubmittedTotal))
	require.Equal(t, 3.0, testutil.ToFloat64(m.PollsTotal.WithLabelValues(operations.ModeInterval)))

	content, err := os.ReadFile(cfg.Bench.StatsFile)
	require.NoError(t, err)
	require.Contains(t, string(content), summary.RunID)
}

func TestBenchFilter(t *testing.T) {
	cli, node, cfg := setup(t)
	withLocalKey(t, cfg)
	cfg.Bench.Mode = config.ModeFilter
	node.SetStatus(func(call int) (uint64, uint64, error) {
		if call < 2 {
			return 5, 0, nil
		}
		return 0, 3, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for i := int64(1); ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				node.PushBlock(ethcmn.BigToHash(big.NewInt(i)))
			}
		}
	}()

	summary, err := Bench(ctx, cli, cfg, 5, testLogger, nil)
	require.NoError(t, err)
	require.True(t, summary.Drained)
	require.Equal(t, 2, summary.Polls)
	require.Len(t, node.Uninstalled(), 1)
}

func TestBenchNotDrained(t *testing.T) {
	cli, node, cfg := setup(t)
	withLocalKey(t, cfg)
	cfg.Bench.MaxAttempts = 3
	node.SetStatus(func(int) (uint64, uint64, error) { return 1, 0, nil })

	summary, err := Bench(context.Background(), cli, cfg, 2, testLogger, nil)
	require.ErrorIs(t, err, operations.ErrPendingFull)
	require.False(t, summary.Drained)
	require.Equal(t, 3, node.StatusCalls())
}

func TestBenchSubmitFailure(t *testing.T) {
	cli, node, cfg := setup(t)
	withLocalKey(t, cfg)
	node.SetSend(func(call int) error {
		if call == 3 {
			return errors.New("nonce too low")
		}
		return nil
	})

	_, err := Bench(context.Background(), cli, cfg, 10, testLogger, nil)
	require.ErrorContains(t, err, "send tx 2")
	require.ErrorContains(t, err, "nonce too low")
	require.Len(t, node.RawTransactions(), 3)
	require.Zero(t, node.StatusCalls())
}
