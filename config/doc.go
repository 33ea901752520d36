// Package config 提供 MaterialFlow 的配置管理功能。
//
// 配置按阶段分节（render、segmentation、vlm、pipeline），外加存储、缓存、
// 导出、日志、指标与遥测等运行环境配置。加载顺序为默认值、YAML 文件、
// 环境变量（前缀 MATERIALFLOW，如 MATERIALFLOW_RENDER_FOV_DEG）。
package config
