package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// erc20ABI 仅包含委托所需的方法。
const erc20ABI = `[
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// EVMConfig 描述 EVM 代币委托的连接参数。
type EVMConfig struct {
	RPCURL       string
	TokenAddress string
	// PrivateKey 是运营账户的十六进制私钥，该账户需持有 from 的授权额度。
	PrivateKey string
	ChainID    int64
	GasLimit   uint64
}

// EVMTransferer 通过 ERC-20 transferFrom 完成转账。
type EVMTransferer struct {
	mu       sync.Mutex
	rpc      *gethrpc.Client
	eth      *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
}

// NewEVMTransferer 连接节点并绑定代币合约。
func NewEVMTransferer(ctx context.Context, cfg EVMConfig) (*EVMTransferer, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置代币合约所在链的 RPC 地址")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("代币合约地址无效: %q", cfg.TokenAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析运营账户私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	auth.GasLimit = cfg.GasLimit

	t, err := NewEVMTransfererWithBackend(common.HexToAddress(cfg.TokenAddress), eth, auth)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	t.rpc = rpcClient
	t.eth = eth
	return t, nil
}

// NewEVMTransfererWithBackend 使用现有后端绑定代币合约，测试中可传入模拟链。
func NewEVMTransfererWithBackend(tokenAddress common.Address, backend bind.ContractBackend, auth *bind.TransactOpts) (*EVMTransferer, error) {
	if backend == nil {
		return nil, errors.New("缺少链访问后端")
	}
	if auth == nil {
		return nil, errors.New("未提供交易签名器")
	}
	parsed, err := parseERC20()
	if err != nil {
		return nil, err
	}
	return &EVMTransferer{
		contract: bind.NewBoundContract(tokenAddress, parsed, backend, backend, backend),
		auth:     auth,
	}, nil
}

// Transfer 发送 transferFrom(from, to, amount) 交易并返回交易哈希。
func (t *EVMTransferer) Transfer(ctx context.Context, in Interaction) (Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	opts := *t.auth
	opts.Context = ctx
	tx, err := t.contract.Transact(&opts, "transferFrom", in.From, in.To, new(big.Int).SetUint64(in.Amount))
	if err != nil {
		return Receipt{}, fmt.Errorf("提交 transferFrom 交易失败: %w", err)
	}
	return Receipt{TxHash: tx.Hash()}, nil
}

// BalanceOf 查询持有人余额。
func (t *EVMTransferer) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder); err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	if len(out) != 1 {
		return nil, errors.New("balanceOf 返回值数量异常")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf 返回值类型异常")
	}
	return balance, nil
}

// Close 释放网络连接。
func (t *EVMTransferer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eth != nil {
		t.eth.Close()
		t.eth = nil
	}
	t.rpc = nil
}

func parseERC20() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	return parsed, nil
}

var _ Transferer = (*EVMTransferer)(nil)
