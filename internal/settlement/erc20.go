package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/streamwager/wagerd/internal/domain"
)

// 4-byte selectors for the two ERC-20 calls the adapter issues.
var (
	transferSelector     = ethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	transferFromSelector = ethcrypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
)

// ERC20 settles wagers against a token contract. Accounts are hex-encoded
// addresses. A debit pulls tokens from the bettor into the treasury via
// transferFrom, which requires the bettor to have approved the treasury as
// a spender beforehand; a credit pays out from the treasury via transfer.
//
// Transactions are submitted sequentially under a mutex so nonces never
// collide, and each call waits for its receipt so the engine's
// commit-or-abort contract holds.
type ERC20 struct {
	client   *ethclient.Client
	token    common.Address
	key      *ecdsa.PrivateKey
	treasury common.Address
	chainID  *big.Int
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex
}

// ERC20Config configures the on-chain settlement adapter.
type ERC20Config struct {
	RPC         string
	Token       string
	PrivateKey  *ecdsa.PrivateKey
	WaitTimeout time.Duration
}

// NewERC20 dials the RPC endpoint and resolves the chain ID.
func NewERC20(ctx context.Context, cfg ERC20Config, logger *slog.Logger) (*ERC20, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("settlement: erc20 requires a treasury key")
	}
	if !common.IsHexAddress(cfg.Token) {
		return nil, fmt.Errorf("settlement: invalid token address %q", cfg.Token)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("settlement: dial %s: %w", cfg.RPC, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("settlement: chain id: %w", err)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ERC20{
		client:   client,
		token:    common.HexToAddress(cfg.Token),
		key:      cfg.PrivateKey,
		treasury: ethcrypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		chainID:  chainID,
		timeout:  cfg.WaitTimeout,
		logger:   logger.With("component", "erc20"),
	}, nil
}

// Treasury returns the address payouts are drawn from.
func (e *ERC20) Treasury() common.Address {
	return e.treasury
}

// Close releases the RPC connection.
func (e *ERC20) Close() {
	e.client.Close()
}

func (e *ERC20) Debit(ctx context.Context, account string, amount uint64) error {
	from, err := parseAccount(account)
	if err != nil {
		return err
	}
	data := append(append(append([]byte{}, transferFromSelector...),
		common.LeftPadBytes(from.Bytes(), 32)...),
		append(common.LeftPadBytes(e.treasury.Bytes(), 32),
			common.LeftPadBytes(new(big.Int).SetUint64(amount).Bytes(), 32)...)...)
	if err := e.submit(ctx, data); err != nil {
		return fmt.Errorf("%w: debit %s: %w", domain.ErrTransferFailed, account, err)
	}
	e.logger.Info("debit settled", "account", account, "amount", amount)
	return nil
}

func (e *ERC20) Credit(ctx context.Context, account string, amount uint64) error {
	to, err := parseAccount(account)
	if err != nil {
		return err
	}
	data := append(append(append([]byte{}, transferSelector...),
		common.LeftPadBytes(to.Bytes(), 32)...),
		common.LeftPadBytes(new(big.Int).SetUint64(amount).Bytes(), 32)...)
	if err := e.submit(ctx, data); err != nil {
		return fmt.Errorf("%w: credit %s: %w", domain.ErrTransferFailed, account, err)
	}
	e.logger.Info("credit settled", "account", account, "amount", amount)
	return nil
}

// submit signs, sends, and waits for one call against the token contract.
func (e *ERC20) submit(ctx context.Context, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	nonce, err := e.client.PendingNonceAt(ctx, e.treasury)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.treasury,
		To:   &e.token,
		Data: data,
	})
	if err != nil {
		// Estimation reverts when the transfer itself would revert, e.g. an
		// insufficient balance or a missing allowance.
		return fmt.Errorf("estimate: %w", err)
	}

	tx, err := types.SignNewTx(e.key, types.LatestSignerForChainID(e.chainID), &types.LegacyTx{
		Nonce:    nonce,
		To:       &e.token,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return fmt.Errorf("wait %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash())
	}
	return nil
}

func parseAccount(account string) (common.Address, error) {
	account = strings.TrimSpace(account)
	if !common.IsHexAddress(account) {
		return common.Address{}, fmt.Errorf("%w: account %q is not an address", domain.ErrInvalidInput, account)
	}
	return common.HexToAddress(account), nil
}
