// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供流水线运行期的 Prometheus 指标采集。

# 概述

Collector 在私有 Registry 上注册全部指标，批处理结束后可通过
WriteTextfile 写成 node_exporter textfile 格式，供定时任务场景采集。

# 主要能力

  - 阶段指标：各阶段耗时，按资产统计完成/跳过/失败数。
  - 渲染与分割：渲染图片数、生成掩码数。
  - VLM 指标：请求总数与耗时（按 backend/model/status 分组），
    观测结果按 valid/invalid/sentinel 分类计数。
  - 缓存指标：命中与未命中计数。
*/
package metrics
