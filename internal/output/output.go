package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supplytrace/internal/config"
	"supplytrace/pkg/models"

	"github.com/sirupsen/logrus"
)

// Sink 事件审计输出接口
type Sink interface {
	WriteCompanyVerified(ev *models.CompanyVerifiedEvent) error
	WriteProductCreated(ev *models.ProductCreatedEvent) error
	WriteProductEvent(ev *models.ProductEventNotice) error
	Close() error
}

// FileSink 文件输出，每类事件一个JSONL文件
type FileSink struct {
	outputDir           string
	companyVerifiedFile *os.File
	productCreatedFile  *os.File
	productEventFile    *os.File
}

// NewSink 根据配置创建输出器
func NewSink(cfg *config.OutputConfig, logger *logrus.Logger) (Sink, error) {
	if cfg == nil {
		cfg = &config.OutputConfig{Format: "file", Directory: "./outputs"}
	}

	if cfg.Format == "kafka" {
		brokers := []string{"localhost:9092"}
		if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
			brokers = strings.Split(kafkaBrokers, ",")
		}

		topics := map[string]string{
			"company_verified": "supplychain_company_verified",
			"product_created":  "supplychain_product_created",
			"product_events":   "supplychain_product_events",
		}

		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			if len(cfg.Kafka.Topics) > 0 {
				topics = cfg.Kafka.Topics
			}
		}

		return NewKafkaSink(brokers, topics, logger)
	}

	return NewFileSink(cfg.Directory)
}

// NewFileSink 创建文件输出器
func NewFileSink(outputDir string) (*FileSink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	sink := &FileSink{outputDir: outputDir}
	timestamp := time.Now().Format("20060102_150405")

	companyVerifiedFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("company_verified_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建公司验证事件文件失败: %w", err)
	}
	sink.companyVerifiedFile = companyVerifiedFile

	productCreatedFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("product_created_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建产品创建事件文件失败: %w", err)
	}
	sink.productCreatedFile = productCreatedFile

	productEventFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("product_events_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建产品流转事件文件失败: %w", err)
	}
	sink.productEventFile = productEventFile

	return sink, nil
}

// writeLine 序列化后追加一行并刷盘
func writeLine(file *os.File, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化事件数据失败: %w", err)
	}

	data = append(data, '\n')

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("写入事件文件失败: %w", err)
	}

	// 强制刷新到磁盘
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新事件文件失败: %w", err)
	}

	return nil
}

// WriteCompanyVerified 写入公司验证事件
func (s *FileSink) WriteCompanyVerified(ev *models.CompanyVerifiedEvent) error {
	if ev == nil {
		return nil
	}
	return writeLine(s.companyVerifiedFile, ev)
}

// WriteProductCreated 写入产品创建事件
func (s *FileSink) WriteProductCreated(ev *models.ProductCreatedEvent) error {
	if ev == nil {
		return nil
	}
	return writeLine(s.productCreatedFile, ev)
}

// WriteProductEvent 写入产品流转事件
func (s *FileSink) WriteProductEvent(ev *models.ProductEventNotice) error {
	if ev == nil {
		return nil
	}
	return writeLine(s.productEventFile, ev)
}

// Close 关闭文件
func (s *FileSink) Close() error {
	var errs []error

	if s.companyVerifiedFile != nil {
		if err := s.companyVerifiedFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭公司验证事件文件失败: %w", err))
		}
	}
	if s.productCreatedFile != nil {
		if err := s.productCreatedFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭产品创建事件文件失败: %w", err))
		}
	}
	if s.productEventFile != nil {
		if err := s.productEventFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭产品流转事件文件失败: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
