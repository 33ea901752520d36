package vlm

import (
	"fmt"
	"strings"
)

// Materials 常用材质库
var Materials = []string{
	"wood", "metal", "plastic", "glass", "fabric",
	"foam", "food", "ceramic", "paper", "leather",
}

const promptTemplate = `Provided a picture. The first image is the front view of the object (Asset Front View), 
the second image is the original picture of the object (Original Image), 
and the third image is a partial segmentation diagram (Mask Overlay), mask is in red. 
The last image is a partial of the object. 

Based on the image, firstly provide a brief caption of the part. 
Secondly, describe what the part is made of (provide the major one). 
Finally, we combine what the object is and the material of the object to predict the hardness of the part. 
Choose whether to use Shore A hardness or Shore D hardness depending on the material. 
You may provide a range of values for hardness instead of a single value. 

Format Requirement:
You must provide your answer as a (brief caption of the part, material of the part, hardness, Shore A/D) pair. Do not include any other text in your answer, as it will be parsed by a code script later. 
common material library: %s. 
Your answer must look like: caption, material, hardness low-high, <Shore A or Shore D>. 
The material type must be chosen from the above common material library. Make sure to use Shore A or Shore D hardness, not Mohs hardness.`

// MaterialLibrary 以 {a, b, c} 形式渲染材质库
func MaterialLibrary(materials []string) string {
	return "{" + strings.Join(materials, ", ") + "}"
}

// BuildPrompt 生成查询提示词，materials 为空时使用 Materials
func BuildPrompt(materials []string) string {
	if len(materials) == 0 {
		materials = Materials
	}
	return fmt.Sprintf(promptTemplate, MaterialLibrary(materials))
}
