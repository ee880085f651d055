package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
)

// queuedEvent 待写入的事件，三个字段只会有一个非空
type queuedEvent struct {
	companyVerified *models.CompanyVerifiedEvent
	productCreated  *models.ProductCreatedEvent
	productEvent    *models.ProductEventNotice
}

// AsyncSink 异步输出包装器
// 事件入队后由后台worker写入底层Sink，监听循环不被慢输出阻塞
type AsyncSink struct {
	logger *logrus.Logger
	inner  Sink
	queue  chan queuedEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 统计信息
	writtenCount int64
	errorCount   int64
	mu           sync.RWMutex
}

// NewAsyncSink 包装底层Sink为异步输出
func NewAsyncSink(inner Sink, bufferSize int, logger *logrus.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &AsyncSink{
		logger: logger,
		inner:  inner,
		queue:  make(chan queuedEvent, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	sink.wg.Add(1)
	go func() {
		defer sink.wg.Done()
		sink.drain()
	}()

	sink.wg.Add(1)
	go func() {
		defer sink.wg.Done()
		sink.reportStats()
	}()

	logger.Infof("异步输出已启动，缓冲区大小: %d", bufferSize)
	return sink
}

// drain 后台写入循环
// 关闭时排空队列中剩余的事件后才退出
func (s *AsyncSink) drain() {
	for {
		select {
		case ev := <-s.queue:
			s.writeOne(ev)
		case <-s.ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.writeOne(ev)
				default:
					s.logger.Debug("异步输出worker停止")
					return
				}
			}
		}
	}
}

// writeOne 写入单个事件并更新统计
func (s *AsyncSink) writeOne(ev queuedEvent) {
	var err error
	switch {
	case ev.companyVerified != nil:
		err = s.inner.WriteCompanyVerified(ev.companyVerified)
	case ev.productCreated != nil:
		err = s.inner.WriteProductCreated(ev.productCreated)
	case ev.productEvent != nil:
		err = s.inner.WriteProductEvent(ev.productEvent)
	}

	s.mu.Lock()
	if err != nil {
		s.errorCount++
	} else {
		s.writtenCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Errorf("异步写入事件失败: %v", err)
	}
}

// reportStats 定期报告统计信息
func (s *AsyncSink) reportStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			written := s.writtenCount
			failed := s.errorCount
			s.mu.RUnlock()

			if written > 0 || failed > 0 {
				s.logger.Infof("事件输出统计: 已写入 %d 条, 失败 %d 条, 队列积压 %d",
					written, failed, len(s.queue))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// enqueue 事件入队，队列满或已关闭时拒绝
func (s *AsyncSink) enqueue(ev queuedEvent) error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("异步输出已关闭")
	default:
	}

	select {
	case s.queue <- ev:
		return nil
	default:
		return fmt.Errorf("异步输出队列已满")
	}
}

// WriteCompanyVerified 异步写入公司验证事件
func (s *AsyncSink) WriteCompanyVerified(ev *models.CompanyVerifiedEvent) error {
	if ev == nil {
		return nil
	}
	return s.enqueue(queuedEvent{companyVerified: ev})
}

// WriteProductCreated 异步写入产品创建事件
func (s *AsyncSink) WriteProductCreated(ev *models.ProductCreatedEvent) error {
	if ev == nil {
		return nil
	}
	return s.enqueue(queuedEvent{productCreated: ev})
}

// WriteProductEvent 异步写入产品流转事件
func (s *AsyncSink) WriteProductEvent(ev *models.ProductEventNotice) error {
	if ev == nil {
		return nil
	}
	return s.enqueue(queuedEvent{productEvent: ev})
}

// Stats 返回写入与失败计数
func (s *AsyncSink) Stats() (int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writtenCount, s.errorCount
}

// Close 排空队列并关闭底层Sink
func (s *AsyncSink) Close() error {
	s.cancel()
	s.wg.Wait()

	written, failed := s.Stats()
	s.logger.Infof("异步输出已关闭，总计写入: %d，失败: %d", written, failed)

	return s.inner.Close()
}
