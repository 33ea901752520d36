package vlm

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Scale 硬度标度
type Scale string

const (
	ShoreA Scale = "Shore A"
	ShoreD Scale = "Shore D"
)

// ErrMalformedAnswer 回答不符合 caption, material, low-high, Shore A|D
var ErrMalformedAnswer = errors.New("vlm: malformed answer")

// Observation 一条材质观测
type Observation struct {
	ImagePath    string  `json:"image_path"`
	Caption      string  `json:"caption"`
	Material     string  `json:"material"`
	HardnessLow  float64 `json:"hardness_low"`
	HardnessHigh float64 `json:"hardness_high"`
	Scale        Scale   `json:"scale"`
	Raw          string  `json:"raw"`
}

// ParseScale 解析硬度标度，容忍大小写与 <> 包裹
func ParseScale(s string) (Scale, error) {
	s = strings.Trim(strings.TrimSpace(s), "<>.()\"' ")
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	switch norm {
	case "shore a", "a":
		return ShoreA, nil
	case "shore d", "d":
		return ShoreD, nil
	}
	return "", fmt.Errorf("%w: unknown hardness scale %q", ErrMalformedAnswer, s)
}

// ParseObservation 按默认材质库解析一条回答。字段从右往左取，caption 中允许出现逗号。
func ParseObservation(imagePath, text string) (Observation, error) {
	return ParseObservationIn(imagePath, text, nil)
}

// ParseObservationIn 按给定材质库解析，materials 为空时使用 Materials
func ParseObservationIn(imagePath, text string, materials []string) (Observation, error) {
	if len(materials) == 0 {
		materials = Materials
	}
	obs := Observation{ImagePath: imagePath, Raw: text}

	body := strings.TrimSpace(FoldLines(text))
	body = strings.TrimSuffix(strings.TrimPrefix(body, "("), ")")
	fields := strings.Split(body, ",")
	if len(fields) < 4 {
		return obs, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedAnswer, len(fields))
	}

	n := len(fields)
	scale, err := ParseScale(fields[n-1])
	if err != nil {
		return obs, err
	}
	low, high, err := parseRange(fields[n-2])
	if err != nil {
		return obs, err
	}
	material := strings.ToLower(strings.TrimSpace(fields[n-3]))
	if !slices.ContainsFunc(materials, func(m string) bool { return strings.EqualFold(m, material) }) {
		return obs, fmt.Errorf("%w: material %q not in library", ErrMalformedAnswer, material)
	}
	caption := strings.TrimSpace(strings.Join(fields[:n-3], ","))
	if caption == "" {
		return obs, fmt.Errorf("%w: empty caption", ErrMalformedAnswer)
	}

	obs.Caption = caption
	obs.Material = material
	obs.HardnessLow = low
	obs.HardnessHigh = high
	obs.Scale = scale
	return obs, nil
}

// parseRange 解析 "30-40" 或单值 "35"，硬度范围为 0..100
func parseRange(s string) (float64, float64, error) {
	s = strings.TrimSpace(s)
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hardness %q", ErrMalformedAnswer, s)
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hardness %q", ErrMalformedAnswer, s)
	}
	if low < 0 || high > 100 || low > high {
		return 0, 0, fmt.Errorf("%w: hardness range %q out of bounds", ErrMalformedAnswer, s)
	}
	return low, high, nil
}

// FoldLines 把回答中的换行折叠为空格，保证结果文件一行一条
func FoldLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
