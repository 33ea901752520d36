// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 asset 负责 3D 资产的读取、坐标系旋转与子网格工具。

# 概述

输入资产统一为 GLB。LoadGLB 把场景图展开成世界坐标下的三角网格，
供渲染阶段计算包围盒与相机位姿；Rotate 把生成式模型导出的 Y-up 资产
旋转到渲染使用的坐标系，结果写到 <name>_rotated.glb 或覆盖原文件。

# 子网格

ExtractSubmeshes 按 o/g 分组拆分 OBJ（GLB 按网格拆分），
每个子网格单独归一化到以原点为中心的单位立方体；
MergeSubmeshes 把整个 OBJ 归一化后合并成一个对象。
*/
package asset
