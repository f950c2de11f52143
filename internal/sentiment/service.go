package sentiment

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/market"
)

// Service 在 ChatClient 之上加一层按 (symbol, 时间桶) 的有界缓存，
// 同一根 K 线周期内不重复问询模型。缓存由构造方注入大小，不做全局状态。
type Service struct {
	client *ChatClient
	bucket time.Duration

	mu    sync.Mutex
	cache *lruCache
}

func NewService(client *ChatClient, cacheSize int, bucket time.Duration) *Service {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	return &Service{
		client: client,
		bucket: bucket,
		cache:  newLRUCache(cacheSize),
	}
}

// Analyze 实现 Provider。模型不可用或输出不合法时返回错误，
// 由调用方决定是否退回 NeutralResult。
func (s *Service) Analyze(ctx context.Context, symbol, prompt string) (AnalysisResult, error) {
	if s.client == nil {
		return NeutralResult(), fmt.Errorf("sentiment client 未配置")
	}
	key := s.cacheKey(symbol, time.Now())
	s.mu.Lock()
	if cached, ok := s.cache.get(key); ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	raw, err := s.client.CallWithMessages(ctx, systemPrompt, prompt)
	if err != nil {
		return NeutralResult(), err
	}
	result, err := Parse(raw)
	if err != nil {
		logger.Warnf("[sentiment] %s 输出解析失败: %v", symbol, err)
		return NeutralResult(), err
	}

	s.mu.Lock()
	s.cache.put(key, result)
	s.mu.Unlock()
	return result, nil
}

func (s *Service) cacheKey(symbol string, now time.Time) string {
	bucket := now.UTC().Truncate(s.bucket).Unix()
	return fmt.Sprintf("%s@%d", strings.ToUpper(symbol), bucket)
}

const systemPrompt = `You are a crypto market sentiment analyst. ` +
	`Reply with a single JSON object: {"sentiment": 0-1, "action": "buy"|"sell"|"hold", ` +
	`"confidence": 0-1, "reasoning": "..."}. No other text.`

// BuildPrompt 把最近的行情窗口压缩成给模型的用户提示词。
func BuildPrompt(symbol string, candles market.Candles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", symbol)
	n := len(candles)
	if n == 0 {
		b.WriteString("No recent candles available.\n")
		return b.String()
	}
	window := candles
	if n > 24 {
		window = candles[n-24:]
	}
	first := window[0]
	lastBar := window[len(window)-1]
	changePct := 0.0
	if first.Close != 0 {
		changePct = (lastBar.Close - first.Close) / first.Close * 100
	}
	fmt.Fprintf(&b, "Window: %s -> %s (%d bars)\n", first.TimeString(), lastBar.TimeString(), len(window))
	fmt.Fprintf(&b, "Close: %.6f (%.2f%% over window)\n", lastBar.Close, changePct)
	fmt.Fprintf(&b, "Last bars (close/volume):\n")
	tail := window
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	for _, c := range tail {
		fmt.Fprintf(&b, "  %s  %.6f  %.2f\n", c.TimeString(), c.Close, c.Volume)
	}
	b.WriteString("Assess the short-term sentiment for this market.\n")
	return b.String()
}

// lruCache 是内部使用的最小 LRU，容量满后淘汰最久未访问的键。
type lruCache struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value AnalysisResult
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache) get(key string) (AnalysisResult, bool) {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry).value, true
	}
	return AnalysisResult{}, false
}

func (c *lruCache) put(key string, value AnalysisResult) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}
