// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 export 把查询阶段解析出的材质观测推送到下游存储。

目前实现了 MongoSink：每个资产的观测作为一批文档写入指定集合，
文档带 run_id 便于按批次回溯。未配置 mongo_uri 时流水线不创建 sink。
*/
package export
