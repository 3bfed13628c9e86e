package chain

// ChainStatus 链状态（取最优链高度与哈希做 RefBlock 盖戳）
type ChainStatus struct {
	ChainID            string `json:"ChainId"`
	BestChainHeight    int64  `json:"BestChainHeight"`
	BestChainHash      string `json:"BestChainHash"`
	LongestChainHeight int64  `json:"LongestChainHeight"`
}

// RawTransaction 未签名交易
// RefBlockNumber/RefBlockPrefix 来自构造时刻的最新链状态，防止跨分叉重放，
// 每次重建交易都必须重新取，不允许缓存。
type RawTransaction struct {
	From           string `json:"From"`
	To             string `json:"To"`
	MethodName     string `json:"MethodName"`
	Params         string `json:"Params"`
	RefBlockNumber int64  `json:"RefBlockNumber"`
	RefBlockPrefix string `json:"RefBlockPrefix"`
}

// UnsignedTx 构造完成、待签名的交易
type UnsignedTx struct {
	TxID           string // 交易哈希（hex），也是签名的消息体
	Raw            string // 序列化后的原始交易
	RefBlockNumber int64
}

// TransactionResult 链上报的交易执行结果
type TransactionResult struct {
	TransactionID string `json:"TransactionId"`
	Status        string `json:"Status"` // MINED / PENDING / NOTEXISTED / FAILED
	BlockNumber   int64  `json:"BlockNumber"`
	Error         string `json:"Error"`
}

type sendRawTransactionInput struct {
	Transaction string `json:"Transaction"`
	Signature   string `json:"Signature"`
}

type sendRawTransactionOutput struct {
	TransactionID string `json:"TransactionId"`
}

type executeRawTransactionInput struct {
	RawTransaction string `json:"RawTransaction"`
	Signature      string `json:"Signature"`
}
