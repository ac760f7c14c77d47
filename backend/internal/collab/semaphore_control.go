package collab

import (
	"context"
	"errors"
)

var ErrSemaphoreNotHeld = errors.New("release without a held permit")

// 计数信号量，限制同时在途的提交/发送数量。
// 提交路径带超时 Acquire，超时即拒绝本次提交；
// 后台发送路径可以无限期等待。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(capacity int) *SemaphoreControl {
	return &SemaphoreControl{ch: make(chan struct{}, capacity)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotHeld
	}
}
