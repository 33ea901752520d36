// Package vlm 通过 OpenAI 兼容的视觉对话接口查询部件材质与硬度。
//
// 主要内容：
//   - Backend：Qwen（DashScope compatible-mode）与 GPT4V（OpenAI）两种后端
//   - BuildPrompt / ParseObservation：固定提示词与回答解析
//   - Middleware：超时、限流、Redis 响应缓存、指标
//   - Annotator：遍历 gpt_input，逐行写出并刷新 <asset>.txt
package vlm
