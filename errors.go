package confstack

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound 严格模式下 Key 不存在。
	ErrKeyNotFound = errors.New("key not found")
	// ErrBackendUnavailable 后端不可达或传输失败（含超时）。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTransactionConflict 后端乐观并发冲突，由调用方决定重试或放弃。
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrConfigurationUnavailable 配置门面构造失败。
	ErrConfigurationUnavailable = errors.New("configuration unavailable")

	// ErrInvalidKey Key 去除空白后为空。
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue 值不是标量，或无法转换为目标类型。
	ErrInvalidValue = errors.New("invalid value")
	// ErrReadOnly 组合配置没有可写源。
	ErrReadOnly = errors.New("source is read-only")
	// ErrTxnDone 事务已提交或回滚。
	ErrTxnDone = errors.New("transaction already finished")
)

// unavailable 将传输层错误包装为 ErrBackendUnavailable，同时保留原始错误。
func unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrTransactionConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
