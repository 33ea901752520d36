// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 segment 为渲染图生成部件掩码，并整理送入 VLM 的输入图。

# 模型

Model 是一个已加载的掩码生成器句柄。ServiceModel 通过 HTTP 调用
外部分割推理服务（模型常驻显存，Release 时释放）；RegionModel 是
不依赖 GPU 的离线实现，在不透明区域内按量化颜色取连通区域。

# 输出

每个资产目录下：

	seg/<image>_overlay.png     所有掩码随机着色叠加
	seg/<image>_mask_<k>.png    第 k 个掩码（0/255）
	seg/<image>_crop_<k>.png    第 k 个掩码在原图上的裁剪
	seg/<image>_masks.json      掩码元数据
	gpt_input/<image>/part_<k>.png   Curate 生成的四联图
*/
package segment
