package report

import (
	"strings"
	"unicode"
)

// Section 表示报告中要求出现的章节标题。
type Section string

const (
	Examination        Section = "Examination"
	Technique          Section = "Technique"
	ImageQuality       Section = "Image Quality"
	LungFields         Section = "Lung Fields"
	CardiacSilhouette  Section = "Cardiac Silhouette"
	MediastinumAndHila Section = "Mediastinum and Hila"
	Pleura             Section = "Pleura"
	BonesSoftTissues   Section = "Bones and Soft Tissues"
	Impression         Section = "Impression"
	Recommendations    Section = "Recommendations"
)

// RequiredSections lists the headings in the order the report prompt asks for them.
var RequiredSections = []Section{
	Examination,
	Technique,
	ImageQuality,
	LungFields,
	CardiacSilhouette,
	MediastinumAndHila,
	Pleura,
	BonesSoftTissues,
	Impression,
	Recommendations,
}

// sectionAliases 兼容模型常见的标题变体。
var sectionAliases = map[Section][]string{
	ImageQuality:       {"image quality", "quality"},
	LungFields:         {"lung fields", "lungs"},
	CardiacSilhouette:  {"cardiac silhouette", "heart"},
	MediastinumAndHila: {"mediastinum and hila", "mediastinum", "hila"},
	BonesSoftTissues:   {"bones and soft tissues", "bones & soft tissues", "osseous", "soft tissues"},
}

// Assessment 是对一份生成报告的结构检查结果。
type Assessment struct {
	Words         int
	MinWords      int
	Missing       []Section
	HasImpression bool
}

// OK reports whether the report met every structural requirement.
func (a Assessment) OK() bool {
	return a.Words >= a.MinWords && len(a.Missing) == 0 && a.HasImpression
}

// Warnings 以可读形式列出不满足的要求，用于日志。
func (a Assessment) Warnings() []string {
	var warnings []string
	if a.Words < a.MinWords {
		warnings = append(warnings, "report shorter than requested word count")
	}
	if !a.HasImpression {
		warnings = append(warnings, "report has no Impression section")
	}
	for _, s := range a.Missing {
		if s == Impression {
			continue
		}
		warnings = append(warnings, "missing section: "+string(s))
	}
	return warnings
}

// Analyze 根据字数和章节覆盖情况评估报告。
func Analyze(text string, minWords int) Assessment {
	normalized := strings.ToLower(text)

	assessment := Assessment{
		Words:    CountWords(text),
		MinWords: minWords,
	}

	for _, section := range RequiredSections {
		if !containsSection(normalized, section) {
			assessment.Missing = append(assessment.Missing, section)
		}
	}
	assessment.HasImpression = strings.Contains(normalized, "impression")

	return assessment
}

// CountWords counts whitespace separated tokens that contain a letter or digit,
// so markdown bullets and separators do not inflate the total.
func CountWords(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		if strings.IndexFunc(field, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) >= 0 {
			count++
		}
	}
	return count
}

func containsSection(normalized string, section Section) bool {
	if strings.Contains(normalized, strings.ToLower(string(section))) {
		return true
	}
	for _, alias := range sectionAliases[section] {
		if strings.Contains(normalized, alias) {
			return true
		}
	}
	return false
}
