// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的阶段台账与观测结果存储。

# 概述

Ledger 记录每个资产在每个阶段的完成情况（StageRecord），流水线据此
跳过已完成的工作；查询阶段解析出的材质观测（ObservationRecord）也
落在同一个库里，便于后续统计。

# 驱动

  - sqlite：默认，纯 Go 实现（glebarez/sqlite），单连接。
  - postgres / mysql：共享环境下多台机器共用一个台账。

表结构由 AutoMigrate 维护。
*/
package database
