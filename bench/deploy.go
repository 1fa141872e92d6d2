package bench

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/xlayer-toolkit/txbench/config"
	"github.com/okx/xlayer-toolkit/txbench/contract"
	"github.com/okx/xlayer-toolkit/txbench/operations"
	"github.com/okx/xlayer-toolkit/txbench/utils"
)

// receiptPollInterval is how often node mode asks for the deployment receipt.
var receiptPollInterval = operations.DefaultInterval

// DeployResult identifies a mined contract deployment.
type DeployResult struct {
	Address ethcmn.Address
	TxHash  ethcmn.Hash
}

// Deploy deploys the product registry. With a local key configured the
// transaction is signed in process, otherwise the node signs it for an
// account unlocked with the configured password.
func Deploy(ctx context.Context, cli *utils.EthClient, cfg *config.Config, logger log.Logger) (DeployResult, error) {
	parsed, err := contract.LoadABI(cfg.Deploy.ABIPath)
	if err != nil {
		return DeployResult{}, err
	}

	var res DeployResult
	if cfg.Wallet.LocalSigning() {
		res, err = deployLocal(ctx, cli, cfg, parsed, logger)
	} else {
		res, err = deployWithNode(ctx, cli, cfg, parsed, logger)
	}
	if err != nil {
		logger.Error("Contract deployment failed", "err", err)
		return DeployResult{}, err
	}
	logger.Info("Contract mined!", "address", res.Address, "transactionHash", res.TxHash)
	return res, nil
}

func deployWithNode(ctx context.Context, cli *utils.EthClient, cfg *config.Config, parsed abi.ABI, logger log.Logger) (DeployResult, error) {
	args, err := parsed.Pack("")
	if err != nil {
		return DeployResult{}, fmt.Errorf("pack constructor: %w", err)
	}
	data := append(contract.Bytecode(), args...)

	from, err := deployer(ctx, cli, cfg.Wallet.Address)
	if err != nil {
		return DeployResult{}, err
	}

	ok, err := cli.UnlockAccount(ctx, from, cfg.Wallet.Password, cfg.Deploy.UnlockDuration)
	if err != nil {
		return DeployResult{}, fmt.Errorf("unlock account %s: %w", from, err)
	}
	if !ok {
		return DeployResult{}, fmt.Errorf("unlock account %s: refused by node", from)
	}
	logger.Info("Account unlocked", "account", from, "duration", cfg.Deploy.UnlockDuration)

	txHash, err := cli.SendNodeTransaction(ctx, utils.TxArgs{
		From: from,
		Gas:  hexutil.Uint64(cfg.Deploy.GasLimit),
		Data: data,
	})
	if err != nil {
		return DeployResult{}, fmt.Errorf("send deployment: %w", err)
	}
	logger.Info("Deployment sent", "from", from, "gas", cfg.Deploy.GasLimit, "txhash", txHash)

	receipt, err := operations.WaitTxReceipt(ctx, txHash, receiptPollInterval, cfg.Deploy.ReceiptTimeout, cli)
	if err != nil {
		return DeployResult{}, fmt.Errorf("wait deployment %s: %w", txHash, err)
	}
	if receipt.ContractAddress == (ethcmn.Address{}) {
		return DeployResult{}, fmt.Errorf("receipt of %s has no contract address", txHash)
	}
	return DeployResult{Address: receipt.ContractAddress, TxHash: txHash}, nil
}

// deployer returns the configured account, or the first account of the node.
func deployer(ctx context.Context, cli *utils.EthClient, configured string) (ethcmn.Address, error) {
	if configured != "" {
		return ethcmn.HexToAddress(configured), nil
	}
	accounts, err := cli.Accounts(ctx)
	if err != nil {
		return ethcmn.Address{}, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return ethcmn.Address{}, errors.New("node manages no accounts and wallet.address is not set")
	}
	return accounts[0], nil
}

func deployLocal(ctx context.Context, cli *utils.EthClient, cfg *config.Config, parsed abi.ABI, logger log.Logger) (DeployResult, error) {
	wallet, err := cfg.Wallet.LoadWallet()
	if err != nil {
		return DeployResult{}, err
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return DeployResult{}, fmt.Errorf("query chain id: %w", err)
	}
	gasPrice, err := cli.SuggestGasPrice(ctx)
	if err != nil {
		return DeployResult{}, fmt.Errorf("query gas price: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(wallet.PrivateKey, chainID)
	if err != nil {
		return DeployResult{}, err
	}
	auth.Context = ctx
	auth.GasLimit = cfg.Deploy.GasLimit
	auth.GasPrice = gasPrice

	addr, tx, _, err := bind.DeployContract(auth, parsed, contract.Bytecode(), cli)
	if err != nil {
		return DeployResult{}, fmt.Errorf("send deployment: %w", err)
	}
	logger.Info("Deployment sent", "from", wallet.Address, "nonce", tx.Nonce(), "contract", addr, "txhash", tx.Hash())

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Deploy.ReceiptTimeout)
	defer cancel()
	deployed, err := bind.WaitDeployed(waitCtx, cli, tx)
	if err != nil {
		return DeployResult{}, fmt.Errorf("wait deployment %s: %w", tx.Hash(), err)
	}
	return DeployResult{Address: deployed, TxHash: tx.Hash()}, nil
}

