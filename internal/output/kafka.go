package output

import (
	"encoding/json"
	"fmt"
	"time"

	traceerrors "supplytrace/internal/errors"
	"supplytrace/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaSink Kafka输出器
type KafkaSink struct {
	logger   *logrus.Logger
	topics   map[string]string // 事件类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaSink 创建Kafka输出器
func NewKafkaSink(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaSink, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	// 配置Kafka生产者
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaSink{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// sendToKafka 发送数据到Kafka
func (k *KafkaSink) sendToKafka(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return traceerrors.WrapError(err,
			traceerrors.ErrorTypeKafka,
			traceerrors.SeverityHigh,
			"KAFKA_PUBLISH_FAILED",
			fmt.Sprintf("发送消息到Kafka topic '%s' 失败", topic),
		).WithComponent("kafka_sink").WithContext("topic", topic)
	}

	k.logger.Debugf("成功发送事件到Kafka topic '%s' (partition: %d, offset: %d)",
		topic, partition, offset)

	return nil
}

// topicFor 查找事件类型对应的topic
func (k *KafkaSink) topicFor(key, fallback string) string {
	if topic, ok := k.topics[key]; ok {
		return topic
	}
	return fallback
}

// WriteCompanyVerified 写入公司验证事件
func (k *KafkaSink) WriteCompanyVerified(ev *models.CompanyVerifiedEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor("company_verified", "supplychain_company_verified"), ev.ToKafkaMessage())
}

// WriteProductCreated 写入产品创建事件
func (k *KafkaSink) WriteProductCreated(ev *models.ProductCreatedEvent) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor("product_created", "supplychain_product_created"), ev.ToKafkaMessage())
}

// WriteProductEvent 写入产品流转事件
func (k *KafkaSink) WriteProductEvent(ev *models.ProductEventNotice) error {
	if ev == nil {
		return nil
	}
	return k.sendToKafka(k.topicFor("product_events", "supplychain_product_events"), ev.ToKafkaMessage())
}

// Close 关闭Kafka连接
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
