package utils

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a locally held signing key.
type Wallet struct {
	Address    ethcmn.Address
	PrivateKey *ecdsa.PrivateKey
}

// NewWallet wraps key.
func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{Address: GetEthAddressFromPK(key), PrivateKey: key}
}

// WalletFromHex loads a wallet from a hex private key, with or without 0x.
func WalletFromHex(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewWallet(key), nil
}

// WalletFromKeystore decrypts a V3 keystore file.
func WalletFromKeystore(path, password string) (*Wallet, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", path, err)
	}
	return &Wallet{Address: key.Address, PrivateKey: key.PrivateKey}, nil
}

// GetEthAddressFromPK converts an ECDSA private key to an Ethereum address
func GetEthAddressFromPK(privateKey *ecdsa.PrivateKey) ethcmn.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}
