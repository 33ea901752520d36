/*
包 cache 提供基于 Redis 的 VLM 响应缓存。

同一张部件图在相同提示词与模型下重复查询时直接复用上次的回答，
中断后重跑查询阶段不会重复计费。键由 ResponseKey 计算（sha256），
统一带 materialflow:vlm: 前缀。
*/
package cache
