package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"tayframe/market"
)

// Rule 校验规则，prev 为上一行，首行时为 nil
type Rule interface {
	Apply(prev *market.Row, row market.Row) error
	Name() string
}

// Issue 质量问题
type Issue struct {
	Index    int    `json:"index"`
	T        int64  `json:"t"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // low, medium, high
	Message  string `json:"message"`
}

// Report 校验结果
type Report struct {
	Issues   []Issue `json:"issues"`
	Rejected []int   `json:"rejected"`
}

// OK 没有被拒绝的行时返回 true
func (r Report) OK() bool {
	return len(r.Rejected) == 0
}

// Stats 校验统计
type Stats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastRun        time.Time        `json:"last_run"`
}

// Validator 数据校验器，在计算指标前过滤K线。
// 指标函数本身不校验输入，由调用方按需使用。
type Validator struct {
	rules []Rule

	stats     Stats
	statsLock sync.RWMutex
}

// NewValidator 创建数据校验器，未指定规则时使用价格、成交量、时间顺序和重复检测规则
func NewValidator(rules ...Rule) *Validator {
	if len(rules) == 0 {
		rules = []Rule{
			NewPriceValidationRule(),
			NewVolumeValidationRule(),
			NewOrderingRule(),
			NewDuplicateDetectionRule(),
		}
	}
	return &Validator{
		rules: rules,
		stats: Stats{Issues: make(map[string]int64)},
	}
}

// Validate 对每一行执行全部规则，任一规则失败即拒绝该行
func (v *Validator) Validate(s market.Series) Report {
	var report Report

	v.statsLock.Lock()
	defer v.statsLock.Unlock()

	for i, row := range s {
		var prev *market.Row
		if i > 0 {
			prev = &s[i-1]
		}

		v.stats.TotalProcessed++
		rejected := false
		for _, rule := range v.rules {
			if err := rule.Apply(prev, row); err != nil {
				report.Issues = append(report.Issues, Issue{
					Index:    i,
					T:        row.T,
					Rule:     rule.Name(),
					Severity: "high",
					Message:  err.Error(),
				})
				v.stats.Issues[rule.Name()]++
				rejected = true
			}
		}

		if rejected {
			v.stats.Rejected++
			report.Rejected = append(report.Rejected, i)
		} else {
			v.stats.Passed++
		}
	}

	v.stats.LastRun = time.Now()
	return report
}

// Filter 返回通过校验的行以及发现的问题
func (v *Validator) Filter(s market.Series) (market.Series, []Issue) {
	report := v.Validate(s)
	rejected := make(map[int]struct{}, len(report.Rejected))
	for _, i := range report.Rejected {
		rejected[i] = struct{}{}
	}

	kept := make(market.Series, 0, len(s)-len(rejected))
	for i, row := range s {
		if _, ok := rejected[i]; !ok {
			kept = append(kept, row)
		}
	}
	return kept, report.Issues
}

// GetStats 获取统计信息
func (v *Validator) GetStats() Stats {
	v.statsLock.RLock()
	defer v.statsLock.RUnlock()

	stats := v.stats
	stats.Issues = make(map[string]int64, len(v.stats.Issues))
	for k, n := range v.stats.Issues {
		stats.Issues[k] = n
	}
	return stats
}

// PriceValidationRule 价格验证规则
type PriceValidationRule struct {
	MinPrice float64
	MaxPrice float64
}

func NewPriceValidationRule() *PriceValidationRule {
	return &PriceValidationRule{
		MinPrice: 0,
		MaxPrice: 1e12,
	}
}

func (r *PriceValidationRule) Name() string {
	return "price_validation"
}

func (r *PriceValidationRule) Apply(_ *market.Row, row market.Row) error {
	for _, p := range []struct {
		name  string
		value float64
	}{{"open", row.O}, {"high", row.H}, {"low", row.L}, {"close", row.C}} {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%s price is not a number", p.name)
		}
		if p.value < r.MinPrice || p.value > r.MaxPrice {
			return fmt.Errorf("%s price %.2f out of range [%.2f, %.2f]", p.name, p.value, r.MinPrice, r.MaxPrice)
		}
	}

	if row.H < row.L {
		return fmt.Errorf("high price %.2f less than low price %.2f", row.H, row.L)
	}
	if row.C < row.L || row.C > row.H {
		return fmt.Errorf("close price %.2f outside range [%.2f, %.2f]", row.C, row.L, row.H)
	}
	if row.O < row.L || row.O > row.H {
		return fmt.Errorf("open price %.2f outside range [%.2f, %.2f]", row.O, row.L, row.H)
	}
	return nil
}

// VolumeValidationRule 成交量验证规则
type VolumeValidationRule struct {
	MaxVolume float64
}

func NewVolumeValidationRule() *VolumeValidationRule {
	return &VolumeValidationRule{
		MaxVolume: 1e15,
	}
}

func (r *VolumeValidationRule) Name() string {
	return "volume_validation"
}

func (r *VolumeValidationRule) Apply(_ *market.Row, row market.Row) error {
	if math.IsNaN(row.V) || row.V < 0 || row.V > r.MaxVolume {
		return fmt.Errorf("volume %.2f out of range [0, %.2f]", row.V, r.MaxVolume)
	}
	return nil
}

// OrderingRule 时间顺序规则，拒绝时间戳倒退的行
type OrderingRule struct{}

func NewOrderingRule() *OrderingRule {
	return &OrderingRule{}
}

func (r *OrderingRule) Name() string {
	return "timestamp_order"
}

func (r *OrderingRule) Apply(prev *market.Row, row market.Row) error {
	if prev != nil && row.T < prev.T {
		return fmt.Errorf("timestamp %d earlier than previous %d", row.T, prev.T)
	}
	return nil
}

// DuplicateDetectionRule 重复检测规则
type DuplicateDetectionRule struct{}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(prev *market.Row, row market.Row) error {
	if prev != nil && row.T == prev.T {
		return fmt.Errorf("duplicate data point at %d", row.T)
	}
	return nil
}
