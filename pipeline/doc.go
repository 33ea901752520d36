/*
Package pipeline 串联资产材质标注的各个阶段。

阶段按顺序执行：seed → visualize → segment → query，
除 seed 外均由 pipeline.stages 开关控制；前一阶段返回错误时后续阶段不会开始。

每次运行生成一个 run id。台账（internal/database）记录每个
(asset, stage) 的完成情况，再次运行时只有台账标记完成且磁盘产物
齐全的资产才会被跳过；pipeline.force 关闭跳过。
*/
package pipeline
