package pipeline

import (
	"fmt"
	"math"

	"tayframe/market"
)

const (
	AnomalyTypePriceJump   = "price_jump"
	AnomalyTypeVolumeSpike = "volume_spike"
)

// Anomaly 异常记录，只做提示，不会拒绝数据
type Anomaly struct {
	Index       int                `json:"index"`
	T           int64              `json:"t"`
	Type        string             `json:"type"`
	Description string             `json:"description"`
	Details     map[string]float64 `json:"details"`
}

// AnomalyDetector 异常检测器，检测价格跳变和成交量异常
type AnomalyDetector struct {
	PriceJumpThreshold  float64 // fractional close change, 0.05 is 5%
	VolumeAnomalyFactor float64 // volume over the trailing mean
	VolumeWindow        int
}

func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{
		PriceJumpThreshold:  0.05,
		VolumeAnomalyFactor: 3.0,
		VolumeWindow:        10,
	}
}

// Detect 按顺序扫描K线，成交量异常需要至少 VolumeWindow 根历史K线
func (ad *AnomalyDetector) Detect(s market.Series) ([]Anomaly, error) {
	changes, err := market.PercentChange(s, market.FieldClose)
	if err != nil {
		return nil, err
	}
	avgVolume, err := market.SMA(s, market.FieldVolume, ad.VolumeWindow)
	if err != nil {
		return nil, err
	}

	var found []Anomaly
	for i, row := range s {
		if change := changes[i]; !market.IsUndefined(change) && math.Abs(change) > ad.PriceJumpThreshold {
			found = append(found, Anomaly{
				Index:       i,
				T:           row.T,
				Type:        AnomalyTypePriceJump,
				Description: fmt.Sprintf("close moved %.2f%%", change*100),
				Details: map[string]float64{
					"current_price":  row.C,
					"previous_price": s[i-1].C,
					"change_percent": change * 100,
					"threshold":      ad.PriceJumpThreshold * 100,
				},
			})
		}

		if i == 0 {
			continue
		}
		// compare against the mean of the rows before this one
		avg := avgVolume[i-1]
		if market.IsUndefined(avg) || avg <= 0 {
			continue
		}
		if ratio := row.V / avg; ratio > ad.VolumeAnomalyFactor {
			found = append(found, Anomaly{
				Index:       i,
				T:           row.T,
				Type:        AnomalyTypeVolumeSpike,
				Description: fmt.Sprintf("volume %.1fx the trailing mean", ratio),
				Details: map[string]float64{
					"current_volume": row.V,
					"average_volume": avg,
					"ratio":          ratio,
				},
			})
		}
	}
	return found, nil
}
