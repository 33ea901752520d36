// Copyright (c) MaterialFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MaterialFlow 命令行入口。

# 子命令

  - run      按配置执行 visualize → segment → query 全流程
  - render   只执行 visualize 阶段
  - segment  只执行 segment 阶段（含 gpt_input 生成）
  - query    只执行 query 阶段
  - rotate   将 GLB 资产旋转到渲染朝向
  - submesh  OBJ/GLB 子网格拆分（extract）与合并归一化（merge）
  - version  版本信息

配置按 默认值 → YAML（--config）→ 环境变量 MATERIALFLOW_* 的顺序加载，
命令行参数最后覆盖。SIGINT/SIGTERM 会取消当前运行，已写出的结果保留。
*/
package main
