// Package evmengine is an optional settlement-engine backend that settles
// an ILP account's outstanding balance with a plain native-asset value
// transfer on an EVM chain: same relayer-key/ethclient/EIP-1559 tx
// construction as a payment-relay facilitator, repurposed from a
// transferWithAuthorization relay into a direct value transfer to the
// peer's settlement address.
package evmengine

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Engine settles ILP balances with native-asset value transfers, paying gas
// from its own relayer key.
type Engine struct {
	rpcURL     string
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// New builds an Engine. privateKeyHex is the hex-encoded relayer key that
// pays gas and funds settlements; chainID identifies the target EVM chain.
func New(rpcURL, privateKeyHex string, chainID *big.Int) (*Engine, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	return &Engine{
		rpcURL:     rpcURL,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the relayer's settlement address.
func (e *Engine) Address() common.Address { return e.address }

// Settle sends amountWei of native asset to peerAddress, returning the
// submitted transaction hash for the caller's idempotency/leftover
// bookkeeping.
func (e *Engine) Settle(ctx context.Context, peerAddress string, amountWei *big.Int) (string, error) {
	to := common.HexToAddress(peerAddress)

	client, err := ethclient.DialContext(ctx, e.rpcURL)
	if err != nil {
		return "", fmt.Errorf("rpc connect: %w", err)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("latest header: %w", err)
	}
	tip := big.NewInt(1e9) // 1 gwei priority fee
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       21_000, // plain value transfer, no calldata
		To:        &to,
		Value:     amountWei,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(e.chainID), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing settlement tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("transaction_failed: %w", err)
	}

	slog.Info("settlement tx submitted", "hash", signed.Hash().Hex(), "to", to.Hex(), "amount_wei", amountWei.String())
	return signed.Hash().Hex(), nil
}
