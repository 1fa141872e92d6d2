package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/okx/xlayer-toolkit/txbench/internal/fakenode"
)

func newTestClient(t *testing.T) (*EthClient, *fakenode.Node) {
	t.Helper()
	node := fakenode.New()
	client := NewClient(node.Dial())
	t.Cleanup(func() {
		client.Close()
		node.Close()
	})
	return client, node
}

func TestMempoolStatus(t *testing.T) {
	client, node := newTestClient(t)
	node.SetStatus(func(int) (uint64, uint64, error) { return 300, 12, nil })

	status, err := client.MempoolStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, MempoolStatus{Pending: 300, Queued: 12}, status)
	require.False(t, status.Drained())
	require.True(t, MempoolStatus{}.Drained())
}

func TestMempoolStatusError(t *testing.T) {
	client, node := newTestClient(t)
	node.SetStatus(func(int) (uint64, uint64, error) { return 0, 0, errors.New("txpool unavailable") })

	_, err := client.MempoolStatus(context.Background())
	require.ErrorContains(t, err, "txpool unavailable")
}

func TestHexToUint64(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
		err  bool
	}{
		{in: "", want: 0},
		{in: "0x", want: 0},
		{in: "0x0", want: 0},
		{in: "0x1f4", want: 500},
		{in: "500", err: true},
	} {
		got, err := hexToUint64(tc.in)
		if tc.err {
			require.Errorf(t, err, "input %q", tc.in)
			continue
		}
		require.NoErrorf(t, err, "input %q", tc.in)
		require.Equalf(t, tc.want, got, "input %q", tc.in)
	}
}

func TestUnlockAccount(t *testing.T) {
	client, node := newTestClient(t)
	node.Password = "secret"
	account := ethcmn.HexToAddress("0x00000000000000000000000000000000000000aa")

	ok, err := client.UnlockAccount(context.Background(), account, "secret", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	unlocks := node.Unlocks()
	require.Len(t, unlocks, 1)
	require.Equal(t, account, unlocks[0].Account)
	require.Equal(t, "secret", unlocks[0].Password)
	require.NotNil(t, unlocks[0].Duration)
	require.Equal(t, uint64(300), *unlocks[0].Duration)

	_, err = client.UnlockAccount(context.Background(), account, "wrong", time.Minute)
	require.ErrorContains(t, err, "could not decrypt key")
}

func TestSendRawTransaction(t *testing.T) {
	client, node := newTestClient(t)
	wallet := testWallet(t)
	signer := NewSigner(node.ChainID)

	raw, err := GenerateTransaction(wallet, ethcmn.HexToAddress("0x01"), 0, node.GasPrice, signer)
	require.NoError(t, err)

	hash, err := client.SendRawTransaction(context.Background(), raw)
	require.NoError(t, err)

	txs := node.RawTransactions()
	require.Len(t, txs, 1)
	require.Equal(t, txs[0].Hash(), hash)

	nonce, err := client.QueryNonce(context.Background(), wallet.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestSendRawTransactionRejected(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.SendRawTransaction(context.Background(), "0xdeadbeef")
	require.Error(t, err)
}

func TestAccounts(t *testing.T) {
	client, node := newTestClient(t)
	node.Accounts = []ethcmn.Address{ethcmn.HexToAddress("0xaa"), ethcmn.HexToAddress("0xbb")}

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, node.Accounts, accounts)
}

func TestNewBlockFilter(t *testing.T) {
	client, node := newTestClient(t)
	client.FilterInterval = 10 * time.Millisecond

	hashes := make(chan ethcmn.Hash)
	sub, err := client.SubscribeBlocks(context.Background(), hashes)
	require.NoError(t, err)
	require.Equal(t, 1, node.Filters())

	first, second := ethcmn.HexToHash("0x01"), ethcmn.HexToHash("0x02")
	node.PushBlock(first)
	node.PushBlock(second)

	for _, want := range []ethcmn.Hash{first, second} {
		select {
		case got := <-hashes:
			require.Equal(t, want, got)
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for block")
		}
	}

	sub.Unsubscribe()
	require.Equal(t, []string{"0x1"}, node.Uninstalled())
	require.Zero(t, node.Filters())
}
