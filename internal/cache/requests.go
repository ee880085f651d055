package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	traceerrors "supplytrace/internal/errors"
	"supplytrace/pkg/models"

	bolt "go.etcd.io/bbolt"
)

const (
	requestsBucket = "company_requests"
	invitesBucket  = "invites"
)

// Store 本地请求缓存
// 记录链上查询不到的中间状态：已提交未确认的注册请求、已发出的邀请
type Store interface {
	PutRequest(req *models.RegistrationRequest) error
	GetRequest(wallet string) (*models.RegistrationRequest, bool, error)
	DeleteRequest(wallet string) error
	ListRequests() ([]*models.RegistrationRequest, error)

	PutInvite(inv *models.InviteRecord) error
	ListInvites() ([]*models.InviteRecord, error)

	Close() error
}

// BoltStore 基于bbolt的持久化缓存
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore 打开缓存数据库并初始化bucket
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, wrapCacheError(err, "创建缓存目录失败")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, wrapCacheError(err, "打开缓存数据库失败")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{requestsBucket, invitesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("创建bucket %s 失败: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, wrapCacheError(err, "初始化缓存失败")
	}

	return &BoltStore{db: db}, nil
}

// PutRequest 写入注册请求
func (s *BoltStore) PutRequest(req *models.RegistrationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return wrapCacheError(err, "序列化注册请求失败")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(requestsBucket)).Put(requestKey(req.Wallet), data)
	})
	if err != nil {
		return wrapCacheError(err, "写入注册请求失败")
	}
	return nil
}

// GetRequest 按钱包地址读取注册请求
func (s *BoltStore) GetRequest(wallet string) (*models.RegistrationRequest, bool, error) {
	var req *models.RegistrationRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(requestsBucket)).Get(requestKey(wallet))
		if data == nil {
			return nil
		}
		var decoded models.RegistrationRequest
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		req = &decoded
		return nil
	})
	if err != nil {
		return nil, false, wrapCacheError(err, "读取注册请求失败")
	}
	return req, req != nil, nil
}

// DeleteRequest 删除注册请求
func (s *BoltStore) DeleteRequest(wallet string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(requestsBucket)).Delete(requestKey(wallet))
	})
	if err != nil {
		return wrapCacheError(err, "删除注册请求失败")
	}
	return nil
}

// ListRequests 列出全部注册请求
func (s *BoltStore) ListRequests() ([]*models.RegistrationRequest, error) {
	var requests []*models.RegistrationRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(requestsBucket)).ForEach(func(k, v []byte) error {
			var req models.RegistrationRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			requests = append(requests, &req)
			return nil
		})
	})
	if err != nil {
		return nil, wrapCacheError(err, "遍历注册请求失败")
	}
	return requests, nil
}

// PutInvite 写入邀请记录
func (s *BoltStore) PutInvite(inv *models.InviteRecord) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return wrapCacheError(err, "序列化邀请记录失败")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(invitesBucket)).Put(requestKey(inv.Wallet), data)
	})
	if err != nil {
		return wrapCacheError(err, "写入邀请记录失败")
	}
	return nil
}

// ListInvites 列出全部邀请记录
func (s *BoltStore) ListInvites() ([]*models.InviteRecord, error) {
	var invites []*models.InviteRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(invitesBucket)).ForEach(func(k, v []byte) error {
			var inv models.InviteRecord
			if err := json.Unmarshal(v, &inv); err != nil {
				return err
			}
			invites = append(invites, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, wrapCacheError(err, "遍历邀请记录失败")
	}
	return invites, nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// requestKey 统一用小写钱包地址做键
func requestKey(wallet string) []byte {
	return []byte(strings.ToLower(wallet))
}

func wrapCacheError(err error, message string) error {
	return traceerrors.WrapError(err,
		traceerrors.ErrorTypeCache,
		traceerrors.SeverityHigh,
		"CACHE_IO_FAILED",
		message,
	).WithComponent("request_cache")
}

// MemoryStore 内存缓存，测试与dry-run模式使用
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RegistrationRequest
	invites  map[string]*models.InviteRecord
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.RegistrationRequest),
		invites:  make(map[string]*models.InviteRecord),
	}
}

func (s *MemoryStore) PutRequest(req *models.RegistrationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.requests[strings.ToLower(req.Wallet)] = &clone
	return nil
}

func (s *MemoryStore) GetRequest(wallet string) (*models.RegistrationRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[strings.ToLower(wallet)]
	if !ok {
		return nil, false, nil
	}
	clone := *req
	return &clone, true, nil
}

func (s *MemoryStore) DeleteRequest(wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, strings.ToLower(wallet))
	return nil
}

func (s *MemoryStore) ListRequests() ([]*models.RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requests := make([]*models.RegistrationRequest, 0, len(s.requests))
	for _, req := range s.requests {
		clone := *req
		requests = append(requests, &clone)
	}
	return requests, nil
}

func (s *MemoryStore) PutInvite(inv *models.InviteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *inv
	s.invites[strings.ToLower(inv.Wallet)] = &clone
	return nil
}

func (s *MemoryStore) ListInvites() ([]*models.InviteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invites := make([]*models.InviteRecord, 0, len(s.invites))
	for _, inv := range s.invites {
		clone := *inv
		invites = append(invites, &clone)
	}
	return invites, nil
}

func (s *MemoryStore) Close() error { return nil }
