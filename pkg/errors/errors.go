package errors

import "errors"

// ErrConditionalUpdateLost 条件更新未命中：并发竞争中本次操作落败
var ErrConditionalUpdateLost = errors.New("记录状态已变化，本次更新未生效")
