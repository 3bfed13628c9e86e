package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"catpoints/internal/config"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	// ErrNetwork 节点 RPC 层面的失败（瞬时，可重试）
	ErrNetwork = errors.New("chain rpc failed")
	// ErrSignature 签名获取失败（瞬时，可重试）
	ErrSignature = errors.New("signature failed")
)

// SignatureProvider 远程签名服务：给定公钥和交易哈希，返回签名
type SignatureProvider interface {
	Sign(ctx context.Context, publicKey, hexMsg string) (string, error)
}

// Client 链节点 HTTP 客户端
//
// 负责四件事：构造交易（带 RefBlock 盖戳）、提交交易、查询交易结果、读链高。
// 签名是委托出去的：配置的"调用身份"用托管私钥本地签，其他身份一律
// 调远程签名服务，签名服务报错或返回空都按 ErrSignature 处理。
type Client struct {
	nodes      map[string]string
	httpClient *http.Client
	callKey    *ecdsa.PrivateKey
	callPubKey string // 调用身份公钥（hex，不带 0x）
	signer     SignatureProvider
}

// NewClient 创建链客户端
func NewClient(cfg *config.ChainConfig, signer SignatureProvider) (*Client, error) {
	c := &Client{
		nodes:      cfg.Nodes,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		signer:     signer,
	}

	if cfg.CallPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.CallPrivateKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "解析调用身份私钥失败")
		}
		c.callKey = key
		c.callPubKey = hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey))
	}

	return c, nil
}

// CallPublicKey 调用身份的公钥（hex）
func (c *Client) CallPublicKey() string {
	return c.callPubKey
}

func (c *Client) endpoint(chainID string) (string, error) {
	node, ok := c.nodes[chainID]
	if !ok {
		return "", fmt.Errorf("未配置链 %s 的节点地址", chainID)
	}
	return strings.TrimRight(node, "/"), nil
}

// GetChainStatus 读取链状态
func (c *Client) GetChainStatus(ctx context.Context, chainID string) (*ChainStatus, error) {
	node, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	var status ChainStatus
	if err := c.doGet(ctx, node+"/api/blockChain/chainStatus", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetChainHeight 读取最优链高度
func (c *Client) GetChainHeight(ctx context.Context, chainID string) (int64, error) {
	status, err := c.GetChainStatus(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return status.BestChainHeight, nil
}

// CreateTransaction 构造一笔未签名交易并返回其哈希
// RefBlock 戳取自本次调用时刻的最新链状态，每次重试都要重新构造。
func (c *Client) CreateTransaction(ctx context.Context, chainID, sender, to, method, params string) (*UnsignedTx, error) {
	if to == "" || method == "" {
		return nil, fmt.Errorf("合约地址或方法为空: to=%q, method=%q", to, method)
	}

	status, err := c.GetChainStatus(ctx, chainID)
	if err != nil {
		return nil, err
	}

	raw := RawTransaction{
		From:           sender,
		To:             to,
		MethodName:     method,
		Params:         params,
		RefBlockNumber: status.BestChainHeight,
		RefBlockPrefix: refBlockPrefix(status.BestChainHash),
	}

	rawBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "序列化交易失败")
	}

	sum := sha256.Sum256(rawBytes)
	return &UnsignedTx{
		TxID:           hex.EncodeToString(sum[:]),
		Raw:            string(rawBytes),
		RefBlockNumber: status.BestChainHeight,
	}, nil
}

// Sign 对交易哈希签名
// sender 是调用身份时本地签名，否则走远程签名服务。
func (c *Client) Sign(ctx context.Context, sender, txID string) (string, error) {
	if c.callKey != nil && sender == c.callPubKey {
		hash, err := hex.DecodeString(txID)
		if err != nil {
			return "", errors.Wrap(err, "交易哈希不是合法 hex")
		}
		sig, err := crypto.Sign(hash, c.callKey)
		if err != nil {
			return "", errors.Wrapf(ErrSignature, "本地签名失败: %v", err)
		}
		return hex.EncodeToString(sig), nil
	}

	if c.signer == nil {
		return "", errors.Wrap(ErrSignature, "未配置远程签名服务")
	}
	sig, err := c.signer.Sign(ctx, sender, txID)
	if err != nil {
		return "", errors.Wrapf(ErrSignature, "远程签名失败: %v", err)
	}
	if sig == "" {
		return "", errors.Wrap(ErrSignature, "远程签名服务返回空签名")
	}
	return sig, nil
}

// SendTransaction 提交已签名交易，返回链分配的交易 id
// RPC 失败按瞬时错误处理（ErrNetwork），链逻辑层面的拒绝要
// 通过 GetTransactionResult 才能看到。
func (c *Client) SendTransaction(ctx context.Context, chainID, rawTx, signature string) (string, error) {
	node, err := c.endpoint(chainID)
	if err != nil {
		return "", err
	}

	var out sendRawTransactionOutput
	input := sendRawTransactionInput{Transaction: rawTx, Signature: signature}
	if err := c.doPost(ctx, node+"/api/blockChain/sendRawTransaction", input, &out); err != nil {
		return "", err
	}
	return out.TransactionID, nil
}

// GetTransactionResult 查询交易执行结果
func (c *Client) GetTransactionResult(ctx context.Context, chainID, txID string) (*TransactionResult, error) {
	node, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	var result TransactionResult
	url := fmt.Sprintf("%s/api/blockChain/transactionResult?transactionId=%s", node, txID)
	if err := c.doGet(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallViewMethod 以调用身份执行一次只读合约调用，返回节点的原始响应
func (c *Client) CallViewMethod(ctx context.Context, chainID, to, method, params string) (string, error) {
	if c.callKey == nil {
		return "", fmt.Errorf("未配置调用身份私钥，无法执行只读调用")
	}

	unsigned, err := c.CreateTransaction(ctx, chainID, c.callPubKey, to, method, params)
	if err != nil {
		return "", err
	}
	sig, err := c.Sign(ctx, c.callPubKey, unsigned.TxID)
	if err != nil {
		return "", err
	}

	node, err := c.endpoint(chainID)
	if err != nil {
		return "", err
	}

	input := executeRawTransactionInput{RawTransaction: unsigned.Raw, Signature: sig}
	body, err := json.Marshal(input)
	if err != nil {
		return "", errors.Wrap(err, "序列化请求失败")
	}

	resp, err := c.post(ctx, node+"/api/blockChain/executeRawTransaction", body)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// GetTokenBalance 查询代币余额（只读调用 token 合约的 GetBalance）
func (c *Client) GetTokenBalance(ctx context.Context, chainID, tokenContract, owner, symbol string) (int64, error) {
	params, _ := json.Marshal(map[string]string{"symbol": symbol, "owner": owner})
	resp, err := c.CallViewMethod(ctx, chainID, tokenContract, "GetBalance", string(params))
	if err != nil {
		return 0, err
	}

	var out struct {
		Balance int64 `json:"balance,string"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return 0, errors.Wrapf(err, "解析余额响应失败: %s", resp)
	}
	return out.Balance, nil
}

func (c *Client) doGet(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "构造请求失败")
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "序列化请求失败")
	}
	resp, err := c.post(ctx, url, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(resp, out), "解析节点响应失败")
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "读取响应失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrNetwork, "节点返回 %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrNetwork, "%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(ErrNetwork, "读取响应失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrNetwork, "节点返回 %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "解析节点响应失败")
}

// refBlockPrefix 取区块哈希前 4 字节作为 RefBlockPrefix
func refBlockPrefix(blockHash string) string {
	h := strings.TrimPrefix(blockHash, "0x")
	if len(h) >= 8 {
		return h[:8]
	}
	return h
}
