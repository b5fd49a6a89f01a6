package rules

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
)

// DefaultReloadInterval は再読み込みの既定間隔.
const DefaultReloadInterval = 3 * time.Second

// Store は現在有効なルールセットのスナップショットを保持し、
// ルール定義ファイルを定期的に再読み込みして差し替える.
//
// スナップショットの公開は単一のアトミックなポインタ交換で行い、
// 読み取り側はロックなしで一貫したルールセットを参照する.
// 再読み込みタスクが唯一の書き込み側であり、tick同士が
// 重なることはない.
type Store struct {
	path     string
	interval time.Duration
	log      logrus.FieldLogger
	metrics  domain.MetricsCollector

	current atomic.Pointer[domain.RuleSet]

	// lastMod は再読み込みゴルーチンのみが触る
	lastMod time.Time

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

var _ domain.RuleProvider = (*Store)(nil)

// New は初期ルール文書をコンパイルしてストアを構築する.
// 初回コンパイルの失敗は致命的であり、プロセスは起動してはならない.
func New(
	path string, interval time.Duration,
	log logrus.FieldLogger, metrics domain.MetricsCollector,
) (*Store, error) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	s := &Store{
		path:     path,
		interval: interval,
		log:      log,
		metrics:  metrics,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Op: "rules bootstrap", Path: path, Err: err}
	}

	ruleSet, err := Compile(data)
	if err != nil {
		return nil, &domain.ConfigError{Op: "rules bootstrap", Path: path, Err: err}
	}

	ruleSet.Version = 1
	ruleSet.LoadedAt = time.Now()
	s.current.Store(ruleSet)

	if fi, err := os.Stat(path); err == nil {
		s.lastMod = fi.ModTime()
	}

	if s.metrics != nil {
		s.metrics.SetRuleSetInfo(ruleSet.Version, ruleSet.LoadedAt)
	}

	s.log.WithFields(logrus.Fields{
		"path":    path,
		"version": ruleSet.Version,
		"rules":   len(ruleSet.Rules),
	}).Info("rule set loaded")

	return s, nil
}

// Current は現在有効なスナップショットを返す.
// 呼び出し側は返された参照を保持したまま評価を完了してよく、
// その間に公開された新しいスナップショットの影響を受けない.
func (s *Store) Current() *domain.RuleSet {
	return s.current.Load()
}

// Start は再読み込みタスクを開始する.
func (s *Store) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop は再読み込みタスクを停止し、進行中のtickの完了を待つ.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	if s.started.Load() {
		<-s.stopped
	}
}

func (s *Store) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reload()
		}
	}
}

// reload は1回分の再読み込みを行う. ファイルの更新時刻が
// 前回から変わっていなければ何もしない. コンパイルに失敗した
// 場合は現行スナップショットをそのまま維持する.
func (s *Store) reload() {
	fi, err := os.Stat(s.path)
	if err != nil {
		s.log.WithError(err).Warn("rule file stat failed")
		s.recordReloadFailure()
		return
	}
	if !fi.ModTime().After(s.lastMod) {
		return
	}
	s.lastMod = fi.ModTime()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WithError(err).Warn("rule file read failed, keeping previous rule set")
		s.recordReloadFailure()
		return
	}

	ruleSet, err := Compile(data)
	if err != nil {
		s.log.WithError(err).Warn("rule compile failed, keeping previous rule set")
		s.recordReloadFailure()
		return
	}

	previous := s.current.Load()
	ruleSet.Version = previous.Version + 1
	ruleSet.LoadedAt = time.Now()

	// 公開は単一のポインタ交換. 評価中のリクエストは取得済みの
	// スナップショットを見続ける.
	s.current.Store(ruleSet)

	if s.metrics != nil {
		s.metrics.SetRuleSetInfo(ruleSet.Version, ruleSet.LoadedAt)
	}

	s.log.WithFields(logrus.Fields{
		"version": ruleSet.Version,
		"rules":   len(ruleSet.Rules),
	}).Info("rule set reloaded")
}

func (s *Store) recordReloadFailure() {
	if s.metrics != nil {
		s.metrics.RecordReloadFailure()
	}
}
