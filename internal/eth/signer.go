package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Signer signs transactions for one account. The engine assembles the
// transaction; the signer only supplies the signature.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ChainSwitcher is implemented by wallet-bridged signers that can ask the
// wallet to move to another chain. Local key signers do not implement it;
// for them a chain mismatch is terminal.
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID uint64) error
}

type KeyedSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeyedSigner(hexKey string) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &KeyedSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *KeyedSigner) Address() common.Address {
	return s.address
}

func (s *KeyedSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// ChainDescriptor is the wallet_addEthereumChain payload for one network.
type ChainDescriptor struct {
	ChainId           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	RpcUrls           []string `json:"rpcUrls"`
	BlockExplorerUrls []string `json:"blockExplorerUrls,omitempty"`
	NativeCurrency    struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"nativeCurrency"`
}

// walletRPC is the slice of the RPC client the switcher needs.
// *rpc.Client satisfies it.
type walletRPC interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

var _ walletRPC = (*rpc.Client)(nil)

// WalletChainSwitcher performs the two-step switch/add dance against a
// wallet-bridged RPC endpoint: try the switch, and on the wallet's
// "unrecognized chain" error add the chain from its descriptor and retry
// the switch once.
type WalletChainSwitcher struct {
	rpc         walletRPC
	descriptors map[uint64]ChainDescriptor
}

func NewWalletChainSwitcher(client walletRPC, descriptors map[uint64]ChainDescriptor) *WalletChainSwitcher {
	return &WalletChainSwitcher{rpc: client, descriptors: descriptors}
}

func (w *WalletChainSwitcher) SwitchChain(ctx context.Context, chainID uint64) error {
	err := w.requestSwitch(ctx, chainID)
	if err == nil {
		return nil
	}
	if !isUnrecognizedChainError(err) {
		return err
	}
	desc, ok := w.descriptors[chainID]
	if !ok {
		return fmt.Errorf("chain %d unknown to wallet and no descriptor configured: %w", chainID, err)
	}
	if err := w.rpc.CallContext(ctx, nil, "wallet_addEthereumChain", desc); err != nil {
		return fmt.Errorf("failed to add chain %d: %w", chainID, err)
	}
	return w.requestSwitch(ctx, chainID)
}

func (w *WalletChainSwitcher) requestSwitch(ctx context.Context, chainID uint64) error {
	params := map[string]string{"chainId": hexutil.EncodeUint64(chainID)}
	return w.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain", params)
}

// EIP-3326: wallets answer wallet_switchEthereumChain for a chain they do
// not know with error code 4902.
func isUnrecognizedChainError(err error) bool {
	var coded interface{ ErrorCode() int }
	if ok := asErrorCode(err, &coded); ok && coded.ErrorCode() == 4902 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unrecognized chain")
}

func asErrorCode(err error, target *interface{ ErrorCode() int }) bool {
	for err != nil {
		if coded, ok := err.(interface{ ErrorCode() int }); ok {
			*target = coded
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
