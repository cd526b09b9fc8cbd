package extractor

import (
	"fmt"
	"strings"

	"talent-search-go/internal/types"
)

// 日期在文本渲染中的格式
const dateLayout = "Jan 2006"

// FullProfileText 将候选人档案和工作经历压平为一段全档案文本。
// 顺序固定：教育背景、核心领域、专长、当前职位/雇主、总年限与通知期、
// 逐条工作经历、所在地。缺失字段直接省略，不写占位。
// 纯函数，不访问网络或存储。
func FullProfileText(p types.CandidateProfile, exps []types.WorkExperience) string {
	var b strings.Builder

	// 教育背景
	var edu []string
	if p.Education != "" {
		edu = append(edu, p.Education)
	}
	if p.Institution != "" {
		edu = append(edu, p.Institution)
	}
	if p.GraduationYear > 0 {
		edu = append(edu, fmt.Sprintf("%d", p.GraduationYear))
	}
	if len(edu) > 0 {
		writeLine(&b, "Education: "+strings.Join(edu, ", "))
	}

	if p.CoreField != "" {
		writeLine(&b, "Core Field: "+p.CoreField)
	}
	if p.Expertise != "" {
		writeLine(&b, "Expertise: "+p.Expertise)
	}

	// 当前职位与雇主
	switch {
	case p.Position != "" && p.Employer != "":
		writeLine(&b, fmt.Sprintf("Currently working as %s at %s", p.Position, p.Employer))
	case p.Position != "":
		writeLine(&b, "Currently working as "+p.Position)
	case p.Employer != "":
		writeLine(&b, "Currently working at "+p.Employer)
	}

	// 总年限与通知期
	if p.IsFresher {
		writeLine(&b, "Fresher")
	} else if p.ExperienceYears > 0 {
		writeLine(&b, fmt.Sprintf("Total Experience: %s years", trimFloat(p.ExperienceYears)))
	}
	if p.NoticePeriod != "" {
		writeLine(&b, "Notice Period: "+p.NoticePeriod)
	}

	// 工作经历块，按传入顺序逐条渲染
	if len(exps) > 0 {
		writeLine(&b, "Work Experience:")
		for i, exp := range exps {
			writeLine(&b, experienceLine(i+1, exp))
		}
	}

	if p.Location != "" {
		writeLine(&b, "Location: "+p.Location)
	}

	return strings.TrimRight(b.String(), "\n")
}

// experienceLine 渲染单条工作经历: 序号、职务、公司、时间段、概述
func experienceLine(index int, exp types.WorkExperience) string {
	var parts []string

	role := fmt.Sprintf("%d.", index)
	if exp.Designation != "" {
		role += " " + exp.Designation
	}
	if exp.CompanyName != "" {
		role += " at " + exp.CompanyName
	}
	parts = append(parts, role)

	// 时间段：在职的条目渲染为 from-present
	if exp.FromDate != nil {
		from := exp.FromDate.Format(dateLayout)
		if exp.IsCurrent || exp.ToDate == nil {
			parts = append(parts, fmt.Sprintf("(%s - present)", from))
		} else {
			parts = append(parts, fmt.Sprintf("(%s - %s)", from, exp.ToDate.Format(dateLayout)))
		}
	}

	if exp.Summary != "" {
		parts = append(parts, exp.Summary)
	}

	return strings.Join(parts, " ")
}

// SkillsText 生成偏向技能词汇的文本视图：专长、职位，
// 以及每条工作经历概述中长度大于3的词（粗粒度的停用词抑制），
// 让向量偏向技术/技能词而非叙述性文字。
func SkillsText(p types.CandidateProfile, exps []types.WorkExperience) string {
	var parts []string

	if p.Expertise != "" {
		parts = append(parts, p.Expertise)
	}
	if p.Position != "" {
		parts = append(parts, p.Position)
	}

	for _, exp := range exps {
		if exp.Summary == "" {
			continue
		}
		for _, token := range strings.Fields(exp.Summary) {
			if len(token) > 3 {
				parts = append(parts, token)
			}
		}
	}

	return strings.Join(parts, " ")
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\n")
}

// trimFloat 渲染年限数字，整数去掉小数尾巴 (3.0 -> "3", 2.5 -> "2.5")
func trimFloat(f float64) string {
	s := fmt.Sprintf("%.1f", f)
	return strings.TrimSuffix(s, ".0")
}
