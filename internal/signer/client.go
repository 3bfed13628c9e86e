package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"catpoints/internal/config"

	"github.com/pkg/errors"
)

var (
	// ErrEmptySignature 签名服务返回了空签名——必须当错误处理，
	// 不能让一个无效签名静默流向链上。
	ErrEmptySignature = errors.New("signature service returned empty signature")
)

// Client 远程签名服务客户端
// 契约：POST /signature {publicKey, hexMsg} -> {signature}，非 200 或空签名都算失败。
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(cfg *config.SignerConfig) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

type signRequest struct {
	PublicKey string `json:"publicKey"`
	HexMsg    string `json:"hexMsg"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// Sign 请求对 hexMsg（交易哈希）签名
func (c *Client) Sign(ctx context.Context, publicKey, hexMsg string) (string, error) {
	body, err := json.Marshal(signRequest{PublicKey: publicKey, HexMsg: hexMsg})
	if err != nil {
		return "", errors.Wrap(err, "序列化签名请求失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/signature", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "构造签名请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "请求签名服务失败")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "读取签名响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("签名服务返回 %d: %s", resp.StatusCode, string(data))
	}

	var out signResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", errors.Wrap(err, "解析签名响应失败")
	}
	if out.Signature == "" {
		return "", ErrEmptySignature
	}
	return out.Signature, nil
}
