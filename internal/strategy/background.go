package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultJobTimeout 限制单个后台任务（缓存写入、重验证）的最长执行时间。
const defaultJobTimeout = 30 * time.Second

// Background 追踪尽力而为的后台任务：缓存写入与 stale-while-revalidate 的回源。
// 调用方从不等待单个任务；Wait 只用于测试与优雅退出。任务失败只记录日志。
type Background struct {
	wg      sync.WaitGroup
	logger  *logrus.Logger
	timeout time.Duration
}

// NewBackground 创建后台任务追踪器，logger 为空时丢弃失败日志。
func NewBackground(logger *logrus.Logger) *Background {
	return &Background{logger: logger, timeout: defaultJobTimeout}
}

// Go 以脱离请求取消信号的 ctx 启动任务，请求结束不会中断缓存写入。
func (b *Background) Go(ctx context.Context, name string, fields logrus.Fields, job func(ctx context.Context) error) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		jobCtx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()

		err := b.run(jobCtx, job)
		if err != nil && b.logger != nil {
			b.logger.WithFields(fields).WithError(err).Warn(name + "_failed")
		}
	}()
}

func (b *Background) run(ctx context.Context, job func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

// Wait 阻塞直到所有已提交的后台任务结束。
func (b *Background) Wait() {
	b.wg.Wait()
}
