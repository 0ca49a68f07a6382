// internal/services/lock_manager.go
package services

import (
	"context"
	"sync"
	"time"
)

// LockManager 按实体 ID 分配的互斥锁
// 只保护内存中短暂的读改写，不跨越 provider 调用，也不对调用排队
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	maxLocks   int
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    sync.Mutex
	LastUsed time.Time
	refs     int // 正在使用的次数，>0 时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		locks:    make(map[string]*LockInfo),
		lockTTL:  30 * time.Minute,
		maxLocks: 200,
	}
}

func (lm *LockManager) acquire(id string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info, ok := lm.locks[id]
	if !ok {
		info = &LockInfo{}
		lm.locks[id] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.refs--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// With 在 id 对应的锁保护下执行 fn
func (lm *LockManager) With(id string, fn func() error) error {
	info := lm.acquire(id)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Forget 删除实体时丢弃它的锁
func (lm *LockManager) Forget(id string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if info, ok := lm.locks[id]; ok && info.refs == 0 {
		delete(lm.locks, id)
	}
}

// Len 当前登记的锁数量
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

// Sweep 锁数量超过上限时清理长时间未使用且无人持有的锁，返回清理数量
func (lm *LockManager) Sweep() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if len(lm.locks) <= lm.maxLocks {
		return 0
	}
	now := time.Now()
	removed := 0
	for id, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, id)
			removed++
		}
	}
	return removed
}

// StartCleanup 定期 Sweep，ctx 取消时退出
func (lm *LockManager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lm.Sweep()
			}
		}
	}()
}
