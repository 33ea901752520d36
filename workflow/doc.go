// Copyright (c) MaterialFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供顺序链式的阶段编排。

# 核心类型

  - Step         ：阶段接口 Execute(ctx, input) (output, error) + Name
  - FuncStep     ：函数形式的 Step
  - ChainWorkflow：按顺序执行 Step，前一步输出作为下一步输入，
    任何一步失败即停止

# 事件

通过 WithEmitter 在 context 中挂一个 Emitter，ChainWorkflow 会在每个
阶段开始、完成、失败时回调，供日志、指标与追踪使用。
*/
package workflow
