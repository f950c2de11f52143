package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"marlin/internal/logger"
	"marlin/internal/market"
)

// 拉取任务状态。
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial" // 结束但仍有缺口（交易所无数据等）
	JobStatusFailed  = "failed"
)

// FetchParams 指定要补齐的数据区间（毫秒，open_time 网格）。
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

func (p FetchParams) key() string {
	return fmt.Sprintf("%s@%s:%d-%d", strings.ToUpper(p.Symbol), strings.ToLower(p.Timeframe), p.Start, p.End)
}

// FetchJob 是一次补数据任务的快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Params    FetchParams `json:"params"`
	Status    string      `json:"status"`
	Total     int         `json:"total"`     // 需补的缺口段数
	Completed int         `json:"completed"` // 已补完的段数
	Saved     int         `json:"saved"`     // 实际入库的 K 线数
	Missing   []Gap       `json:"missing,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ServiceConfig 控制拉取服务的并发与限速。
type ServiceConfig struct {
	MaxConcurrent  int     // 同时运行的任务数，默认 2
	RequestsPerSec float64 // 对数据源的请求限速，默认 5
	BatchLimit     int     // 单次请求最多拿多少根，默认 1000
}

// Service 负责把缺失的 K 线从数据源补进 Store。同参数的任务会去重，
// 所有请求共享一个限速器，避免打爆交易所配额。
type Service struct {
	store   *Store
	source  market.Source
	limiter *rate.Limiter
	sem     chan struct{}
	batch   int

	mu     sync.Mutex
	jobs   map[string]*FetchJob // by job ID
	active map[string]string    // params key -> job ID

	baseCtx context.Context
}

func NewService(store *Store, source market.Source, cfg ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if source == nil {
		return nil, fmt.Errorf("数据源不能为空")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 1000
	}
	return &Service{
		store:   store,
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		batch:   cfg.BatchLimit,
		jobs:    make(map[string]*FetchJob),
		active:  make(map[string]string),
		baseCtx: context.Background(),
	}, nil
}

func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SubmitFetch 提交补数据任务并立即返回快照。已有同参数任务在跑时
// 直接复用，不重复拉取。没有缺口时任务直接标记 done。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	params.Timeframe = tf.Key
	params.Start, params.End = tf.AlignRange(params.Start, params.End)
	if params.End <= 0 || params.End < params.Start {
		return FetchJob{}, fmt.Errorf("start/end 非法")
	}

	s.mu.Lock()
	if id, ok := s.active[params.key()]; ok {
		job := *s.jobs[id]
		s.mu.Unlock()
		return job, nil
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Params:    params,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.jobs[job.ID] = job
	s.active[params.key()] = job.ID
	s.mu.Unlock()

	go s.runJob(job.ID, tf)
	return *job, nil
}

// JobSnapshot 返回任务当前状态的拷贝。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return *job, true
}

// ListJobs 按创建时间倒序返回全部任务快照。
func (s *Service) ListJobs() []FetchJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Service) update(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

func (s *Service) finish(id string, status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Message = message
	job.UpdatedAt = time.Now()
	delete(s.active, job.Params.key())
}

func (s *Service) runJob(id string, tf Timeframe) {
	ctx := s.baseCtx
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	params := job.Params
	job.Status = JobStatusRunning
	s.mu.Unlock()

	report, err := s.store.CheckIntegrity(ctx, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	if err != nil {
		s.finish(id, JobStatusFailed, err.Error())
		return
	}
	if len(report.Gaps) == 0 {
		s.finish(id, JobStatusDone, "数据已完整")
		return
	}
	s.update(id, func(j *FetchJob) { j.Total = len(report.Gaps) })

	for _, gap := range report.Gaps {
		if err := s.fillGap(ctx, params, tf, gap); err != nil {
			logger.Warnf("[fetch] %s %s 补缺口 [%d, %d] 失败: %v",
				params.Symbol, params.Timeframe, gap.Start, gap.End, err)
			s.finish(id, JobStatusFailed, err.Error())
			return
		}
		s.update(id, func(j *FetchJob) { j.Completed++ })
	}

	// 再核对一遍：交易所本身没有的段（停牌、上市前）补不回来。
	report, err = s.store.CheckIntegrity(ctx, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	if err != nil {
		s.finish(id, JobStatusFailed, err.Error())
		return
	}
	if len(report.Gaps) > 0 {
		s.update(id, func(j *FetchJob) { j.Missing = report.Gaps })
		s.finish(id, JobStatusPartial, fmt.Sprintf("仍有 %d 段缺口", len(report.Gaps)))
		return
	}
	s.finish(id, JobStatusDone, "")
}

// fillGap 分批拉取一个缺口。每次请求前过一遍限速器。
func (s *Service) fillGap(ctx context.Context, params FetchParams, tf Timeframe, gap Gap) error {
	step := tf.durationMillis()
	cursor := gap.Start
	for cursor <= gap.End {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		candles, err := s.source.Fetch(ctx, market.HistoryRequest{
			Symbol:   params.Symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      gap.End + step - 1,
			Limit:    s.batch,
		})
		if err != nil {
			return fmt.Errorf("%s 拉取失败: %w", s.source.Name(), err)
		}
		if len(candles) == 0 {
			// 数据源在该区间没有数据，留给最终核对判定 partial。
			return nil
		}
		saved, err := s.store.UpsertCandles(ctx, params.Symbol, params.Timeframe, candles)
		if err != nil {
			return err
		}
		s.updateSaved(params, saved)
		next := candles[len(candles)-1].OpenTime + step
		if next <= cursor {
			return fmt.Errorf("数据源游标未前进: %d -> %d", cursor, next)
		}
		cursor = next
	}
	return nil
}

func (s *Service) updateSaved(params FetchParams, saved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[params.key()]; ok {
		if job, ok := s.jobs[id]; ok {
			job.Saved += saved
			job.UpdatedAt = time.Now()
		}
	}
}
