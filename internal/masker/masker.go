package masker

import (
	"regexp"

	"talent-search-go/internal/constants"
	"talent-search-go/internal/types"
)

// 各类PII的匹配模式。包级编译一次，所有脱敏调用共享。
// 顺序敏感：高特异性的证件号/URL模式必须先于通用的数字串(电话)模式执行，
// 否则电话模式会吞掉证件号的一部分。
var (
	// 带国家码的电话: +91/0091/91 前缀 + 10位手机号(首位6-9)。
	// 必须先于Aadhaar执行: "91"+手机号连写正好是12位数字,
	// 否则会被Aadhaar模式吞掉并记错类别
	phoneCountryPattern = regexp.MustCompile(`(?:\+91|0091|\b91)[\s-]?[6-9]\d{9}\b`)

	// Aadhaar: 12位数字，首位2-9，可带空格或连字符分组 (1234 5678 9012)
	aadhaarPattern = regexp.MustCompile(`\b[2-9]\d{3}[\s-]?\d{4}[\s-]?\d{4}\b`)

	// PAN: 5字母+4数字+1字母的10位编码 (ABCDE1234F)
	panPattern = regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)

	// URL: http(s)://... 或 www. 开头
	urlPattern = regexp.MustCompile(`(?:https?://|www\.)[^\s<>"]+`)

	// Email
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// 电话: 可选 +91/91/0 前缀，10位数字且首位6-9
	phonePattern = regexp.MustCompile(`(?:\+?91[\s-]?|0)?[6-9]\d{9}\b`)
)

// maskPass 一趟替换：一个类别的模式、占位符和计数落点
type maskPass struct {
	pattern     *regexp.Regexp
	placeholder string
	count       func(r *types.PIIReport, n int)
}

// passes 按执行顺序排列的脱敏趟次
var passes = []maskPass{
	{phoneCountryPattern, constants.PlaceholderPhone, func(r *types.PIIReport, n int) { r.Phones += n }},
	{aadhaarPattern, constants.PlaceholderAadhaar, func(r *types.PIIReport, n int) { r.Aadhaar += n }},
	{panPattern, constants.PlaceholderPAN, func(r *types.PIIReport, n int) { r.PAN += n }},
	{urlPattern, constants.PlaceholderURL, func(r *types.PIIReport, n int) { r.URLs += n }},
	{emailPattern, constants.PlaceholderEmail, func(r *types.PIIReport, n int) { r.Emails += n }},
	{phonePattern, constants.PlaceholderPhone, func(r *types.PIIReport, n int) { r.Phones += n }},
}

// Mask 对任意文本做单向脱敏，返回替换后的文本和各类别的命中计数。
// 相同输入必然产生相同输出和计数；原文无法从输出恢复。
// 任何送往嵌入模型的文本都必须先经过这里。
func Mask(text string) (string, types.PIIReport) {
	report := types.PIIReport{}
	masked := text

	for _, p := range passes {
		matches := p.pattern.FindAllStringIndex(masked, -1)
		if len(matches) == 0 {
			continue
		}
		p.count(&report, len(matches))
		masked = p.pattern.ReplaceAllString(masked, p.placeholder)
	}

	return masked, report
}

// MaskText 与 Mask 相同，但以 types.MaskedText 形式返回
func MaskText(text string) types.MaskedText {
	masked, report := Mask(text)
	return types.MaskedText{Text: masked, Report: report}
}
