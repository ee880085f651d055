package output

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	assert.NoError(t, err)

	err = sink.WriteCompanyVerified(&models.CompanyVerifiedEvent{
		CompanyID:   "1",
		Name:        "Fresh Farms",
		Wallet:      "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		BlockNumber: 42,
		TxHash:      "0x01",
		ObservedAt:  time.Unix(1735689600, 0),
	})
	assert.NoError(t, err)

	err = sink.WriteCompanyVerified(&models.CompanyVerifiedEvent{
		CompanyID: "2",
		Name:      "Cold Chain Logistics",
	})
	assert.NoError(t, err)

	assert.NoError(t, sink.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "company_verified_*.json"))
	assert.NoError(t, err)
	assert.Len(t, matches, 1)

	file, err := os.Open(matches[0])
	assert.NoError(t, err)
	defer file.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]interface{}
		assert.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	assert.Len(t, lines, 2)
	assert.Equal(t, "1", lines[0]["company_id"])
	assert.Equal(t, "Cold Chain Logistics", lines[1]["name"])
}

func TestFileSink_NilEventIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	assert.NoError(t, err)
	defer sink.Close()

	assert.NoError(t, sink.WriteCompanyVerified(nil))
	assert.NoError(t, sink.WriteProductCreated(nil))
	assert.NoError(t, sink.WriteProductEvent(nil))
}

// memorySink 收集写入事件的测试实现
type memorySink struct {
	mu              sync.Mutex
	companyVerified []*models.CompanyVerifiedEvent
	productCreated  []*models.ProductCreatedEvent
	productEvents   []*models.ProductEventNotice
	closed          bool
}

func (m *memorySink) WriteCompanyVerified(ev *models.CompanyVerifiedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companyVerified = append(m.companyVerified, ev)
	return nil
}

func (m *memorySink) WriteProductCreated(ev *models.ProductCreatedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productCreated = append(m.productCreated, ev)
	return nil
}

func (m *memorySink) WriteProductEvent(ev *models.ProductEventNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productEvents = append(m.productEvents, ev)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestAsyncSink_DrainsOnClose(t *testing.T) {
	inner := &memorySink{}
	sink := NewAsyncSink(inner, 16, testLogger())

	assert.NoError(t, sink.WriteCompanyVerified(&models.CompanyVerifiedEvent{CompanyID: "1"}))
	assert.NoError(t, sink.WriteProductCreated(&models.ProductCreatedEvent{ProductID: "1"}))
	assert.NoError(t, sink.WriteProductEvent(&models.ProductEventNotice{EventType: "Produced"}))

	assert.NoError(t, sink.Close())

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Len(t, inner.companyVerified, 1)
	assert.Len(t, inner.productCreated, 1)
	assert.Len(t, inner.productEvents, 1)
	assert.True(t, inner.closed)

	written, failed := sink.Stats()
	assert.Equal(t, int64(3), written)
	assert.Zero(t, failed)
}

func TestAsyncSink_RejectsAfterClose(t *testing.T) {
	sink := NewAsyncSink(&memorySink{}, 16, testLogger())
	assert.NoError(t, sink.Close())

	err := sink.WriteCompanyVerified(&models.CompanyVerifiedEvent{CompanyID: "1"})
	assert.Error(t, err)
}
