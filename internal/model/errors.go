package model

import (
	"errors"
	"fmt"
)

// ============================================================================
// 业务错误
// ============================================================================
//
// 记账核心只返回下面这些哨兵错误（可能经过 %w 包装），
// 调用方通过 errors.Is 判断类型，再翻译成面向用户的提示。

var (
	ErrInsufficientBalance = errors.New("余额不足")
	ErrInvalidAmount       = errors.New("金额不合法")
	ErrInvalidState        = errors.New("当前状态不允许该操作")
	ErrInvalidRange        = errors.New("金额超出允许范围")
	ErrInvalidTransition   = errors.New("流水状态已终结，不允许变更")
	ErrNothingToClaim      = errors.New("暂无可领取的收益")
	ErrNotFound            = errors.New("记录不存在")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
	ErrForbidden           = errors.New("无权操作")
	ErrInvalidParam        = errors.New("参数错误")
	ErrPriceUnavailable    = errors.New("行情价格不可用")
)

// 冻结桶不足也是余额不足的一种
var ErrInsufficientLocked = fmt.Errorf("冻结%w", ErrInsufficientBalance)

// 具体的 NotFound 错误，errors.Is(err, ErrNotFound) 同样成立
var (
	ErrOrderNotFound       = fmt.Errorf("订单%w", ErrNotFound)
	ErrPlanNotFound        = fmt.Errorf("矿机计划%w", ErrNotFound)
	ErrInvestmentNotFound  = fmt.Errorf("挖矿投资%w", ErrNotFound)
	ErrOfferNotFound       = fmt.Errorf("P2P 广告%w", ErrNotFound)
	ErrTradeNotFound       = fmt.Errorf("P2P 交易%w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("流水%w", ErrNotFound)
	ErrBalanceNotFound     = fmt.Errorf("余额%w", ErrNotFound)
)
