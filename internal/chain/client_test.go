package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"catpoints/internal/config"

	"github.com/pkg/errors"
)

// 测试用调用身份私钥（无任何真实资产）
const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestNode(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.ChainConfig{
		Nodes:          map[string]string{"tDVV": server.URL},
		CallPrivateKey: testPrivateKey,
		TimeoutSeconds: 5,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return server, client
}

func chainStatusHandler(height int64, hash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/blockChain/chainStatus" {
			json.NewEncoder(w).Encode(&ChainStatus{
				ChainID:         "tDVV",
				BestChainHeight: height,
				BestChainHash:   hash,
			})
			return
		}
		http.NotFound(w, r)
	}
}

func TestGetChainHeight(t *testing.T) {
	_, client := newTestNode(t, chainStatusHandler(12345, "abcdef0123456789"))
	height, err := client.GetChainHeight(context.Background(), "tDVV")
	if err != nil {
		t.Fatalf("GetChainHeight: %v", err)
	}
	if height != 12345 {
		t.Fatalf("height = %d, want 12345", height)
	}
}

func TestGetChainHeightUnknownChain(t *testing.T) {
	_, client := newTestNode(t, chainStatusHandler(1, "aa"))
	if _, err := client.GetChainHeight(context.Background(), "NOPE"); err == nil {
		t.Fatal("未配置的链应报错")
	}
}

func TestCreateTransactionStampsRefBlock(t *testing.T) {
	_, client := newTestNode(t, chainStatusHandler(500, "deadbeefcafe0000"))
	tx, err := client.CreateTransaction(context.Background(), "tDVV",
		client.CallPublicKey(), "contract-addr", "BatchSettle", `{"k":"v"}`)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.RefBlockNumber != 500 {
		t.Fatalf("refBlockNumber = %d, want 500", tx.RefBlockNumber)
	}
	if len(tx.TxID) != 64 {
		t.Fatalf("txID 长度 = %d, want 64", len(tx.TxID))
	}

	var raw RawTransaction
	if err := json.Unmarshal([]byte(tx.Raw), &raw); err != nil {
		t.Fatalf("解析原始交易: %v", err)
	}
	if raw.RefBlockPrefix != "deadbeef" {
		t.Fatalf("refBlockPrefix = %s, want deadbeef", raw.RefBlockPrefix)
	}
	if raw.MethodName != "BatchSettle" {
		t.Fatalf("methodName = %s", raw.MethodName)
	}
}

func TestCreateTransactionRejectsEmptyTarget(t *testing.T) {
	_, client := newTestNode(t, chainStatusHandler(1, "aa"))
	ctx := context.Background()

	_, err := client.CreateTransaction(ctx, "tDVV", "sender", "", "Method", "{}")
	if err == nil {
		t.Fatal("空合约地址应报错")
	}
	// 配置错误不是网络错误
	if errors.Is(err, ErrNetwork) {
		t.Fatal("参数校验失败不该归类为网络错误")
	}

	if _, err := client.CreateTransaction(ctx, "tDVV", "sender", "to", "", "{}"); err == nil {
		t.Fatal("空方法名应报错")
	}
}

func TestCreateTransactionNodeDownIsNetworkError(t *testing.T) {
	server, client := newTestNode(t, chainStatusHandler(1, "aa"))
	server.Close()

	_, err := client.CreateTransaction(context.Background(), "tDVV", "sender", "to", "Method", "{}")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestSignLocalIdentity(t *testing.T) {
	_, client := newTestNode(t, chainStatusHandler(10, "0011223344"))
	tx, err := client.CreateTransaction(context.Background(), "tDVV",
		client.CallPublicKey(), "to", "Method", "{}")
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	sig, err := client.Sign(context.Background(), client.CallPublicKey(), tx.TxID)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	// secp256k1 签名 65 字节
	if len(sig) != 130 {
		t.Fatalf("签名长度 = %d, want 130", len(sig))
	}
}

type fakeSigner struct {
	sig string
	err error
}

func (s *fakeSigner) Sign(ctx context.Context, publicKey, hexMsg string) (string, error) {
	return s.sig, s.err
}

func TestSignRemoteIdentity(t *testing.T) {
	server := httptest.NewServer(chainStatusHandler(1, "aa"))
	defer server.Close()

	client, err := NewClient(&config.ChainConfig{
		Nodes:          map[string]string{"tDVV": server.URL},
		CallPrivateKey: testPrivateKey,
	}, &fakeSigner{sig: "remote-sig"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sig, err := client.Sign(context.Background(), "04otherparty", "aabb")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig != "remote-sig" {
		t.Fatalf("sig = %s", sig)
	}
}

func TestSignRemoteEmptySignature(t *testing.T) {
	client, err := NewClient(&config.ChainConfig{
		Nodes: map[string]string{"tDVV": "http://127.0.0.1:1"},
	}, &fakeSigner{sig: ""})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Sign(context.Background(), "04otherparty", "aabb")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("err = %v, want ErrSignature", err)
	}
}

func TestSignNoRemoteSigner(t *testing.T) {
	client, err := NewClient(&config.ChainConfig{
		Nodes:          map[string]string{"tDVV": "http://127.0.0.1:1"},
		CallPrivateKey: testPrivateKey,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.Sign(context.Background(), "04otherparty", "aabb"); !errors.Is(err, ErrSignature) {
		t.Fatalf("err = %v, want ErrSignature", err)
	}
}

func TestSendTransaction(t *testing.T) {
	var gotBody sendRawTransactionInput
	_, client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/blockChain/sendRawTransaction" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(&sendRawTransactionOutput{TransactionID: "tx-hash"})
	})

	txID, err := client.SendTransaction(context.Background(), "tDVV", "raw-tx", "sig")
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if txID != "tx-hash" {
		t.Fatalf("txID = %s", txID)
	}
	if gotBody.Transaction != "raw-tx" || gotBody.Signature != "sig" {
		t.Fatalf("请求体不符: %+v", gotBody)
	}
}

func TestSendTransactionNon200IsNetworkError(t *testing.T) {
	_, client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	_, err := client.SendTransaction(context.Background(), "tDVV", "raw", "sig")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestGetTransactionResult(t *testing.T) {
	_, client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/blockChain/transactionResult" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("transactionId") != "tx-1" {
			t.Errorf("transactionId = %s", r.URL.Query().Get("transactionId"))
		}
		json.NewEncoder(w).Encode(&TransactionResult{
			TransactionID: "tx-1",
			Status:        "MINED",
			BlockNumber:   999,
		})
	})

	result, err := client.GetTransactionResult(context.Background(), "tDVV", "tx-1")
	if err != nil {
		t.Fatalf("GetTransactionResult: %v", err)
	}
	if result.Status != "MINED" || result.BlockNumber != 999 {
		t.Fatalf("result = %+v", result)
	}
}

func TestGetTokenBalance(t *testing.T) {
	_, client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/blockChain/chainStatus":
			json.NewEncoder(w).Encode(&ChainStatus{BestChainHeight: 10, BestChainHash: "aabbccdd"})
		case "/api/blockChain/executeRawTransaction":
			w.Write([]byte(`{"symbol":"ELF","owner":"addr","balance":"1000000"}`))
		default:
			http.NotFound(w, r)
		}
	})

	balance, err := client.GetTokenBalance(context.Background(), "tDVV", "token-contract", "addr", "ELF")
	if err != nil {
		t.Fatalf("GetTokenBalance: %v", err)
	}
	if balance != 1000000 {
		t.Fatalf("balance = %d, want 1000000", balance)
	}
}

func TestRefBlockPrefix(t *testing.T) {
	cases := []struct {
		hash string
		want string
	}{
		{"deadbeefcafebabe", "deadbeef"},
		{"0xdeadbeefcafebabe", "deadbeef"},
		{"abcd", "abcd"},
	}
	for _, c := range cases {
		if got := refBlockPrefix(c.hash); got != c.want {
			t.Errorf("refBlockPrefix(%q) = %q, want %q", c.hash, got, c.want)
		}
	}
}
