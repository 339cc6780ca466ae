package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache 为进程级带 TTL 的结果缓存。
// 条目写入后不可变，到期后在读取时惰性失效；同一键的并发计算
// 通过 singleflight 合并，避免对上游的重复请求。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	group   singleflight.Group
}

type entry struct {
	value   interface{}
	expires time.Time
}

// New 创建缓存实例；now 为空时使用 time.Now，测试可注入假时钟。
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get 读取未过期的缓存值。
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// 过期后再次确认未被覆盖写入，避免删掉新条目。
		if cur, still := c.entries[key]; still && c.now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set 写入缓存值并设置存活时间，重复写入以最后一次为准。
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrCompute 命中缓存时直接返回，否则计算并以给定 TTL 写入。
// 同一键只允许一个在途计算，其余调用共享同一结果。
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		value, err := fn()
		if err != nil {
			return nil, err
		}
		c.Set(key, value, ttl)
		return value, nil
	})
	return v, err
}

// Len 返回当前条目数，仅用于观测。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
