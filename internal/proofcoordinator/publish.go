package proofcoordinator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/otcsettle/controlplane/internal/apperr"
)

// settlementRegistryABI describes a single "publishProof" method accepting
// the fixed tuple shape from §6: ((a0,a1), ((b00,b01),(b10,b11)), (c0,c1)).
const settlementRegistryABI = `[{
	"type":"function",
	"name":"publishProof",
	"stateMutability":"nonpayable",
	"inputs":[
		{"name":"a","type":"tuple","components":[{"name":"x","type":"uint256"},{"name":"y","type":"uint256"}]},
		{"name":"b","type":"tuple","components":[
			{"name":"x","type":"tuple","components":[{"name":"x0","type":"uint256"},{"name":"x1","type":"uint256"}]},
			{"name":"y","type":"tuple","components":[{"name":"x0","type":"uint256"},{"name":"x1","type":"uint256"}]}
		]},
		{"name":"c","type":"tuple","components":[{"name":"x","type":"uint256"},{"name":"y","type":"uint256"}]},
		{"name":"publicSignals","type":"uint256[]"}
	],
	"outputs":[]
}]`

// Publisher submits a proved job's coordinates on-chain, grounded in the
// teacher's attestor.go (ethclient + bind.BoundContract + bind.WaitMined).
type Publisher struct {
	client          *ethclient.Client
	chainID         *big.Int
	contractAddress common.Address
	contractABI     abi.ABI
	privateKey      *ecdsa.PrivateKey
	waitTimeout     time.Duration
}

func NewPublisher(rpcURL string, chainID int64, privateKeyHex, registryAddress string, waitTimeout time.Duration) (*Publisher, error) {
	cli, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(settlementRegistryABI))
	if err != nil {
		return nil, err
	}
	cid := big.NewInt(chainID)
	if cid.Sign() == 0 {
		cid, err = cli.ChainID(context.Background())
		if err != nil {
			return nil, err
		}
	}
	return &Publisher{
		client:          cli,
		chainID:         cid,
		contractAddress: common.HexToAddress(registryAddress),
		contractABI:     parsed,
		privateKey:      pk,
		waitTimeout:     waitTimeout,
	}, nil
}

type fieldPoint struct {
	X *big.Int
	Y *big.Int
}

type fieldPointExt struct {
	X fieldPoint
	Y fieldPoint
}

// Publish submits artifacts on-chain. pi_b's inner pairs are swapped per §6
// before encoding.
func (p *Publisher) Publish(ctx context.Context, artifacts *ProverArtifacts) (*OnchainPublish, error) {
	if len(artifacts.PiA) != 2 || len(artifacts.PiB) != 2 || len(artifacts.PiB[0]) != 2 || len(artifacts.PiB[1]) != 2 || len(artifacts.PiC) != 2 {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", "proof coordinate shape does not match the expected tuple")
	}

	a0, err := parseBigInt(artifacts.PiA[0])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	a1, err := parseBigInt(artifacts.PiA[1])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	// pi_b inner pairs swapped: b[0] <-> b[1] ordering per coordinate.
	b00, err := parseBigInt(artifacts.PiB[0][1])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	b01, err := parseBigInt(artifacts.PiB[0][0])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	b10, err := parseBigInt(artifacts.PiB[1][1])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	b11, err := parseBigInt(artifacts.PiB[1][0])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	c0, err := parseBigInt(artifacts.PiC[0])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}
	c1, err := parseBigInt(artifacts.PiC[1])
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
	}

	signals := make([]*big.Int, 0, len(artifacts.PublicSignals))
	for _, s := range artifacts.PublicSignals {
		n, err := parseBigInt(s)
		if err != nil {
			return nil, apperr.NewNonRetryable("PUBLISH_INVALID_COORDINATES", err.Error())
		}
		signals = append(signals, n)
	}

	fromAddr := crypto.PubkeyToAddress(p.privateKey.PublicKey)
	nonce, err := p.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(p.privateKey, p.chainID)
	if err != nil {
		return nil, apperr.NewNonRetryable("PUBLISH_SIGNER_ERROR", err.Error())
	}
	auth.Nonce = big.NewInt(int64(nonce))
	auth.Value = big.NewInt(0)
	auth.GasPrice = gasPrice
	auth.GasLimit = 500000

	contract := bind.NewBoundContract(p.contractAddress, p.contractABI, p.client, p.client, p.client)
	tx, err := contract.Transact(auth, "publishProof",
		fieldPoint{X: a0, Y: a1},
		fieldPointExt{X: fieldPoint{X: b00, Y: b01}, Y: fieldPoint{X: b10, Y: b11}},
		fieldPoint{X: c0, Y: c1},
		signals,
	)
	if err != nil {
		return nil, fmt.Errorf("submitting publish transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, p.client, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for publish transaction: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.New("publish transaction reverted")
	}

	return &OnchainPublish{TxHash: tx.Hash().Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid field element: %q", s)
	}
	return n, nil
}
