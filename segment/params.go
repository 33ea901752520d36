package segment

import "github.com/BaSui01/materialflow/config"

// Params 自动掩码生成参数
type Params struct {
	PointsPerSide              int     `json:"points_per_side"`
	PointsPerBatch             int     `json:"points_per_batch"`
	PredIoUThresh              float64 `json:"pred_iou_thresh"`
	StabilityScoreThresh       float64 `json:"stability_score_thresh"`
	StabilityScoreOffset       float64 `json:"stability_score_offset"`
	CropNLayers                int     `json:"crop_n_layers"`
	BoxNMSThresh               float64 `json:"box_nms_thresh"`
	CropNPointsDownscaleFactor int     `json:"crop_n_points_downscale_factor"`
	MinMaskRegionArea          int     `json:"min_mask_region_area"`
	UseM2M                     bool    `json:"use_m2m"`
	Seed                       uint64  `json:"seed"`
}

// ParamsFromConfig 从配置提取生成参数
func ParamsFromConfig(cfg config.SegmentationConfig, seed uint64) Params {
	return Params{
		PointsPerSide:              cfg.PointsPerSide,
		PointsPerBatch:             cfg.PointsPerBatch,
		PredIoUThresh:              cfg.PredIoUThresh,
		StabilityScoreThresh:       cfg.StabilityScoreThresh,
		StabilityScoreOffset:       cfg.StabilityScoreOffset,
		CropNLayers:                cfg.CropNLayers,
		BoxNMSThresh:               cfg.BoxNMSThresh,
		CropNPointsDownscaleFactor: cfg.CropNPointsDownscaleFactor,
		MinMaskRegionArea:          cfg.MinMaskRegionArea,
		UseM2M:                     cfg.UseM2M,
		Seed:                       seed,
	}
}
