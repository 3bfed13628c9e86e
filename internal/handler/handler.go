package handler

import (
	"context"

	"catpoints/internal/config"
	"catpoints/internal/model"
	"catpoints/internal/service"
	"catpoints/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ChainHeightReader 链索引高度的读出口，跨链确认方从这里拿高度
type ChainHeightReader interface {
	GetHeight(ctx context.Context, chainID string) (int64, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	points   *service.PointRecordService
	dispatch *service.DispatchService
	invokes  *service.InvokeService
	faucet   *service.FaucetService
	heights  ChainHeightReader
	cfg      *config.Config
}

// NewHandler 创建处理器实例
func NewHandler(points *service.PointRecordService, dispatch *service.DispatchService,
	invokes *service.InvokeService, faucet *service.FaucetService,
	heights ChainHeightReader, cfg *config.Config) *Handler {
	return &Handler{
		points:   points,
		dispatch: dispatch,
		invokes:  invokes,
		faucet:   faucet,
		heights:  heights,
		cfg:      cfg,
	}
}

// ============================================================
// 积分相关接口
// ============================================================

// AccumulateRequest 积分累计请求
type AccumulateRequest struct {
	ChainID       string `json:"chain_id" binding:"required"`
	PointName     string `json:"point_name" binding:"required"`
	BizDate       string `json:"biz_date" binding:"required"` // yyyy-MM-dd
	Address       string `json:"address" binding:"required"`
	SourceEventID string `json:"source_event_id" binding:"required"` // 幂等ID
	Amount        string `json:"amount" binding:"required"`
}

// Accumulate 积分累计
// POST /api/v1/point/accumulate
func (h *Handler) Accumulate(c *gin.Context) {
	var req AccumulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ParamError(c, "amount 不是合法数字")
		return
	}

	total, err := h.points.Accumulate(c.Request.Context(), req.ChainID, req.PointName,
		req.BizDate, req.Address, req.SourceEventID, amount)
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response.ParamError(c, err.Error())
		return
	case errors.Is(err, service.ErrBucketSealed):
		response.BusinessError(c, response.CodeBucketSealed, err.Error())
		return
	case err != nil:
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"record_id":    model.PointRecordID(req.ChainID, req.PointName, req.BizDate, req.Address),
		"total_amount": total,
	})
}

// GetPointRecord 查询积分桶
// GET /api/v1/point/record?chain_id=xxx&point_name=xxx&biz_date=xxx&address=xxx
func (h *Handler) GetPointRecord(c *gin.Context) {
	chainID := c.Query("chain_id")
	pointName := c.Query("point_name")
	bizDate := c.Query("biz_date")
	address := c.Query("address")
	if chainID == "" || pointName == "" || bizDate == "" || address == "" {
		response.ParamError(c, "chain_id/point_name/biz_date/address 参数不能为空")
		return
	}

	record, err := h.points.GetRecord(c.Request.Context(), chainID, pointName, bizDate, address)
	if errors.Is(err, service.ErrPointRecordNotFound) {
		response.BusinessError(c, response.CodeRecordNotFound, err.Error())
		return
	}
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, record)
}

// DispatchRequest 手工派发请求
type DispatchRequest struct {
	ChainID   string `json:"chain_id" binding:"required"`
	PointName string `json:"point_name" binding:"required"`
	BizDate   string `json:"biz_date" binding:"required"`
}

// Dispatch 手工触发一个结算窗口的派发周期
// POST /api/v1/point/dispatch
func (h *Handler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sp, ok := h.findSettlePoint(req.ChainID, req.PointName)
	if !ok {
		response.ParamError(c, "未配置该链与积分的结算项")
		return
	}

	bizID, err := h.dispatch.Dispatch(c.Request.Context(), sp, req.BizDate)
	switch {
	case errors.Is(err, service.ErrDispatchLocked):
		response.BusinessError(c, response.CodeDispatchLocked, err.Error())
		return
	case errors.Is(err, service.ErrNothingToSettle):
		response.BusinessError(c, response.CodeNothingToSettle, err.Error())
		return
	case err != nil:
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"biz_id": bizID,
	})
}

func (h *Handler) findSettlePoint(chainID, pointName string) (config.SettlePointConfig, bool) {
	for _, sp := range h.cfg.Business.SettlePoints {
		if sp.ChainID == chainID && sp.PointName == pointName {
			return sp, true
		}
	}
	return config.SettlePointConfig{}, false
}

// ============================================================
// 调用相关接口
// ============================================================

// GetInvoke 查询链上调用详情
// GET /api/v1/invoke/detail?biz_id=xxx
func (h *Handler) GetInvoke(c *gin.Context) {
	bizID := c.Query("biz_id")
	if bizID == "" {
		response.ParamError(c, "biz_id 参数不能为空")
		return
	}

	invoke, err := h.invokes.GetInvoke(c.Request.Context(), bizID)
	if errors.Is(err, service.ErrInvokeNotFound) {
		response.BusinessError(c, response.CodeInvokeNotFound, err.Error())
		return
	}
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, invoke)
}

// GetChainHeight 查询某条链最近一次跟踪到的索引高度
// GET /api/v1/chain/height?chain_id=xxx
// 下游按高度判断跨链结果是否可信时读这里，而不是每次都打链节点。
func (h *Handler) GetChainHeight(c *gin.Context) {
	chainID := c.Query("chain_id")
	if chainID == "" {
		response.ParamError(c, "chain_id 参数不能为空")
		return
	}

	height, err := h.heights.GetHeight(c.Request.Context(), chainID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"chain_id": chainID,
		"height":   height,
	})
}

// ============================================================
// 水龙头相关接口
// ============================================================

// FaucetClaimRequest 测试币领取请求
type FaucetClaimRequest struct {
	Address string `json:"address" binding:"required"`
}

// FaucetClaim 领取测试币
// POST /api/v1/faucet/claim
func (h *Handler) FaucetClaim(c *gin.Context) {
	var req FaucetClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	claim, err := h.faucet.Claim(c.Request.Context(), req.Address)
	switch {
	case errors.Is(err, service.ErrFaucetSuspended):
		response.BusinessError(c, response.CodeFaucetSuspended, err.Error())
		return
	case errors.Is(err, service.ErrInvalidAddress):
		response.BusinessError(c, response.CodeInvalidAddress, err.Error())
		return
	case errors.Is(err, service.ErrAlreadyClaimed):
		response.BusinessError(c, response.CodeAlreadyClaimed, err.Error())
		return
	case errors.Is(err, service.ErrClaimInFlight):
		response.BusinessError(c, response.CodeClaimInFlight, err.Error())
		return
	case err != nil:
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"claim_no":       claim.ClaimNo,
		"status":         claim.Status,
		"transaction_id": claim.TransactionID,
		"message":        faucetMessage(claim),
	})
}

// FaucetStatus 查询领取状态
// GET /api/v1/faucet/status?address=xxx
func (h *Handler) FaucetStatus(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		response.ParamError(c, "address 参数不能为空")
		return
	}

	claim, err := h.faucet.GetStatus(c.Request.Context(), address)
	switch {
	case errors.Is(err, service.ErrInvalidAddress):
		response.BusinessError(c, response.CodeInvalidAddress, err.Error())
		return
	case errors.Is(err, service.ErrClaimNotFound):
		response.BusinessError(c, response.CodeClaimNotFound, err.Error())
		return
	case err != nil:
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"claim_no":       claim.ClaimNo,
		"status":         claim.Status,
		"transaction_id": claim.TransactionID,
		"error_message":  claim.ErrorMessage,
		"message":        faucetMessage(claim),
	})
}

func faucetMessage(claim *model.FaucetClaim) string {
	switch claim.Status {
	case model.FaucetStatusMined:
		return "已领取"
	case model.FaucetStatusFailed:
		return "领取失败，可重新发起"
	default:
		return "处理中"
	}
}
