package ratelimit

import (
	"sync"
	"time"

	"wafproxy/internal/domain"
)

// Limiter はクライアントIPごとのトークンバケットによる流量制御.
// 評価前段で呼び出され、枯渇したクライアントのリクエストは
// ルール評価に進まず拒否される.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // 1秒あたりの補充量
	burst   float64
	now     func() time.Time

	// pruneAfter より長く使われていないバケットは回収する
	pruneAfter time.Duration
	lastPrune  time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

var _ domain.RateLimiter = (*Limiter)(nil)

// New は新しいLimiterインスタンスを作成.
func New(ratePerSec float64, burst int) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*bucket),
		rate:       ratePerSec,
		burst:      float64(burst),
		now:        time.Now,
		pruneAfter: 10 * time.Minute,
		lastPrune:  time.Now(),
	}
}

// Allow は1リクエスト分のトークンを消費する.
// 消費できなければ false を返す.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[clientIP]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[clientIP] = b
	}

	// 経過時間分を補充
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}

	l.maybePrune(now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// maybePrune は古いバケットを間引く. 呼び出し側がロックを保持する.
func (l *Limiter) maybePrune(now time.Time) {
	if now.Sub(l.lastPrune) < l.pruneAfter {
		return
	}
	l.lastPrune = now
	for ip, b := range l.buckets {
		if now.Sub(b.last) > l.pruneAfter {
			delete(l.buckets, ip)
		}
	}
}
