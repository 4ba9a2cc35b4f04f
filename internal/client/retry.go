package client

import "time"

// RetryPolicy は冪等なリクエストの再試行設定。
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy はデフォルトの再試行設定を返す。
// 最大3回、初回200ミリ秒、最大2秒。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Backoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回InitialBackoff、2倍ずつ増加、最大MaxBackoff。
func (p RetryPolicy) Backoff(consecutiveErrors int) time.Duration {
	delay := p.InitialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}
