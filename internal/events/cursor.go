package events

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultCursorPath 默认游标数据库路径
	DefaultCursorPath = "./data/watcher.db"

	cursorBucket = "watch_cursor"

	lastScannedBlockKey = "last_scanned_block"
	companyVerifiedKey  = "company_verified_count"
	productCreatedKey   = "product_created_count"
	productEventKey     = "product_event_count"
)

// CursorInfo 监听游标信息
type CursorInfo struct {
	LastScannedBlock     uint64 `json:"last_scanned_block"`
	CompanyVerifiedCount uint64 `json:"company_verified_count"`
	ProductCreatedCount  uint64 `json:"product_created_count"`
	ProductEventCount    uint64 `json:"product_event_count"`
}

// Cursor 事件监听游标
// 持久化最后扫描的区块，重启后从断点继续，不重复投递历史事件
type Cursor struct {
	db     *bolt.DB
	logger *logrus.Logger
	mu     sync.RWMutex

	cache *CursorInfo
}

// NewCursor 打开游标数据库
func NewCursor(dbPath string, logger *logrus.Logger) (*Cursor, error) {
	if dbPath == "" {
		dbPath = DefaultCursorPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开游标数据库失败: %w", err)
	}

	cursor := &Cursor{
		db:     db,
		logger: logger,
		cache:  &CursorInfo{},
	}

	if err := cursor.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化游标数据库失败: %w", err)
	}

	if err := cursor.loadCache(); err != nil {
		logger.Warnf("加载游标缓存失败: %v", err)
	}

	return cursor, nil
}

func (c *Cursor) initDB() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	})
}

func (c *Cursor) loadCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(lastScannedBlockKey)); data != nil {
			c.cache.LastScannedBlock = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(companyVerifiedKey)); data != nil {
			c.cache.CompanyVerifiedCount = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(productCreatedKey)); data != nil {
			c.cache.ProductCreatedCount = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(productEventKey)); data != nil {
			c.cache.ProductEventCount = binary.BigEndian.Uint64(data)
		}
		return nil
	})
}

// LastScannedBlock 返回最后扫描的区块号
func (c *Cursor) LastScannedBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.LastScannedBlock
}

// Advance 推进游标并累加事件计数
func (c *Cursor) Advance(blockNumber uint64, companyVerified, productCreated, productEvents uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.LastScannedBlock = blockNumber
	c.cache.CompanyVerifiedCount += companyVerified
	c.cache.ProductCreatedCount += productCreated
	c.cache.ProductEventCount += productEvents

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return fmt.Errorf("游标存储桶不存在")
		}

		if err := putUint64(bucket, lastScannedBlockKey, c.cache.LastScannedBlock); err != nil {
			return err
		}
		if err := putUint64(bucket, companyVerifiedKey, c.cache.CompanyVerifiedCount); err != nil {
			return err
		}
		if err := putUint64(bucket, productCreatedKey, c.cache.ProductCreatedCount); err != nil {
			return err
		}
		return putUint64(bucket, productEventKey, c.cache.ProductEventCount)
	})
}

// SetStartBlock 设置起始区块，仅在游标为空时生效
func (c *Cursor) SetStartBlock(blockNumber uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.LastScannedBlock != 0 {
		return nil
	}
	c.cache.LastScannedBlock = blockNumber

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return fmt.Errorf("游标存储桶不存在")
		}
		return putUint64(bucket, lastScannedBlockKey, blockNumber)
	})
}

// Info 返回游标信息副本
func (c *Cursor) Info() *CursorInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := *c.cache
	return &info
}

// Reset 清空游标
func (c *Cursor) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = &CursorInfo{}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			return bucket.Delete(k)
		})
	})
}

// Close 关闭游标数据库
func (c *Cursor) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func putUint64(bucket *bolt.Bucket, key string, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	if err := bucket.Put([]byte(key), data); err != nil {
		return fmt.Errorf("保存游标键 %s 失败: %w", key, err)
	}
	return nil
}
