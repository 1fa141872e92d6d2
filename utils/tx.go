package utils

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// TransferGasLimit is the gas limit of every generated transfer.
const TransferGasLimit uint64 = 21024

// NewSigner returns an EIP-155 signer for chainID, or the unprotected
// homestead signer when chainID is nil.
func NewSigner(chainID *big.Int) types.Signer {
	if chainID == nil {
		return types.HomesteadSigner{}
	}
	return types.NewEIP155Signer(chainID)
}

// GenerateTransaction builds a zero value transfer from wallet to `to`, signs
// it and returns the 0x prefixed canonical encoding.
func GenerateTransaction(wallet *Wallet, to ethcmn.Address, nonce uint64, gasPrice *big.Int, signer types.Signer) (string, error) {
	unsignedTx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      TransferGasLimit,
		To:       &to,
		Value:    big.NewInt(0),
	})

	signedTx, err := types.SignTx(unsignedTx, signer, wallet.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode tx: %w", err)
	}
	return hexutil.Encode(raw), nil
}

// GenerateTransactions generates count transfers with consecutive nonces
// starting at startNonce.
func GenerateTransactions(wallet *Wallet, to ethcmn.Address, startNonce uint64, count int, gasPrice *big.Int, signer types.Signer) ([]string, error) {
	txs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := GenerateTransaction(wallet, to, startNonce+uint64(i), gasPrice, signer)
		if err != nil {
			return nil, fmt.Errorf("generate tx %d: %w", i, err)
		}
		txs = append(txs, raw)
	}
	return txs, nil
}

// gasPriceUnits is ordered so that "gwei" is matched before "wei".
var gasPriceUnits = []struct {
	suffix string
	exp    int32
}{
	{"gwei", 9},
	{"ether", 18},
	{"wei", 0},
}

// ParseGasPrice parses a gas price given in wei (decimal or 0x hex) or as a
// decimal amount with a gwei, ether or wei suffix, e.g. "1.5gwei".
func ParseGasPrice(s string) (*big.Int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, errors.New("empty gas price")
	}

	for _, unit := range gasPriceUnits {
		if !strings.HasSuffix(s, unit.suffix) {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, unit.suffix)))
		if err != nil {
			return nil, fmt.Errorf("invalid gas price %q: %w", s, err)
		}
		wei := amount.Shift(unit.exp)
		if wei.IsNegative() {
			return nil, fmt.Errorf("invalid gas price %q: negative", s)
		}
		if !wei.IsInteger() {
			return nil, fmt.Errorf("invalid gas price %q: fractional wei", s)
		}
		return wei.BigInt(), nil
	}

	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid gas price %q: %w", s, err)
	}
	return v.ToBig(), nil
}
