package report

const systemPrompt = "You are a medical imaging assistant."

// userPrompt 为 FString 模板，caption 原样嵌入。
const userPrompt = `
You are a senior radiologist.

TASK:
Generate a DETAILED chest X-ray radiology report of AT LEAST {min_words} WORDS
(half to three-quarter page).

STRICT RULES:
- Minimum length: {min_words} words
- Write full paragraphs (NO headings-only)
- Professional radiology language
- Expand EACH section clearly
- If findings are normal, explain WHY
- Do NOT hallucinate anatomy
- No treatment advice

SECTIONS (expand all):
Examination
Technique
Image Quality
Lung Fields
Cardiac Silhouette
Mediastinum and Hila
Pleura
Bones and Soft Tissues
Impression (numbered)
Recommendations

Image description:
{caption}
`
