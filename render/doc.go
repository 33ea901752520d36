// 版权所有 2024 MaterialFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 render 对单个 GLB 资产做多视角离屏渲染。

# 相机

仰角为外层循环、方位角为内层循环。每个视角的相机旋转为
EulerXYZ(90-elev, 0, 180-azim)，相机位于包围盒中心沿相机 z 轴
2 倍最长边处，朝 -z 方向看向中心。内参 f = (W/2)/tan(fov/2)。

# 后端

  - software：纯 Go z-buffer 光栅化，平面着色，透明背景（默认）
  - raylib：隐藏窗口 + RenderTexture 的 GPU 离屏渲染，需要 -tags raylib

# 输出

	<out_dir>/<stem>/images/render_<n>.png
	<out_dir>/<stem>/marked/render_azim<a>_elev<e>_marked.png   (mark=true)
	<out_dir>/<stem>/cameras.json
*/
package render
