// Copyright 2026 MaterialFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package testutil 提供 MaterialFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 文件辅助: ReadLines / Glob / AssertNotExists

# 子包

  - testutil/mocks: StubBackend（VLM 后端）与 StubMaskModel（掩码模型），
    均支持 Builder 模式与错误注入
  - testutil/fixtures: 彩色长方体 GLB、带透明背景的视图与 alpha 渐变图

# 使用示例

	ctx := testutil.TestContext(t)
	backend := mocks.NewStubBackend().WithResponse("cap,wood,30-40,Shore A")
	text, err := backend.Query(ctx, imagePath, prompt)
*/
package testutil
