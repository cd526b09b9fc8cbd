package types

import (
	"errors"
	"strings"
	"time"
)

// CandidateProfile 候选人的结构化档案，由上游的档案编辑流程维护，本系统只读。
type CandidateProfile struct {
	UserID          string     // 候选人唯一ID
	Name            string     // 姓名（仅用于结果展示）
	Email           string     // 邮箱（仅用于结果展示）
	Education       string     // 学历，例如 "B.Tech"
	Institution     string     // 毕业院校
	GraduationYear  int        // 毕业年份
	CoreField       string     // 核心领域，例如 "Civil"
	Expertise       string     // 专长描述
	Position        string     // 当前职位
	Employer        string     // 当前雇主
	NoticePeriod    string     // 离职通知期，例如 "30 days"
	ExperienceYears float64    // 工作年限
	IsFresher       bool       // 是否应届/无经验
	Location        string     // 当前所在地
	ResumeURL       string     // 简历文件链接（仅展示，不参与向量化）
	UpdatedAt       time.Time  // 档案最后修改时间
}

// WorkExperience 单条工作经历
type WorkExperience struct {
	UserID      string     // 所属候选人ID
	CompanyName string     // 公司名称
	Designation string     // 职务
	FromDate    *time.Time // 开始时间
	ToDate      *time.Time // 结束时间，在职时为 nil
	IsCurrent   bool       // 是否当前在职
	Summary     string     // 工作内容概述
}

// MergedCandidate 档案与工作经历在合并边界处组装出的工作结构。
// 合并时校验必填字段（UserID），可选字段保持零值语义。
type MergedCandidate struct {
	Profile     CandidateProfile
	Experiences []WorkExperience
}

// Validate 合并边界的必填字段校验。UserID是嵌入记录和向量点的
// 主键, 缺失时整条流水线都无处落库, 必须在入口拒绝。
func (m MergedCandidate) Validate() error {
	if strings.TrimSpace(m.Profile.UserID) == "" {
		return errors.New("候选人档案缺少UserID")
	}
	return nil
}

// PIIReport 记录一次脱敏中各类敏感信息的命中次数
type PIIReport struct {
	Emails  int `json:"emails"`
	Phones  int `json:"phones"`
	Aadhaar int `json:"aadhaar"`
	PAN     int `json:"pan"`
	URLs    int `json:"urls"`
}

// Total 所有类别命中次数之和
func (r PIIReport) Total() int {
	return r.Emails + r.Phones + r.Aadhaar + r.PAN + r.URLs
}

// Merge 累加另一份报告的命中次数
func (r *PIIReport) Merge(other PIIReport) {
	r.Emails += other.Emails
	r.Phones += other.Phones
	r.Aadhaar += other.Aadhaar
	r.PAN += other.PAN
	r.URLs += other.URLs
}

// MaskedText 脱敏后的文本及其报告。派生值，原文不落盘。
type MaskedText struct {
	Text   string
	Report PIIReport
}

// SearchFilters 结构化过滤条件，均为可选；提供即为硬过滤。
type SearchFilters struct {
	CoreField           string `json:"coreField,omitempty"`
	MinExperienceMonths int    `json:"minExperience,omitempty"`
	Location            string `json:"location,omitempty"`
}

// SearchQuery 招聘方的自由文本查询
type SearchQuery struct {
	Query     string        `json:"query"`
	Filters   SearchFilters `json:"filters"`
	UseHybrid bool          `json:"useHybrid"`
	// Vector 选择参与相似度计算的向量: "profile"(默认) 或 "skills"
	Vector string `json:"vector,omitempty"`
}

// SearchResult 单条搜索结果，Score 为归一化向量的余弦相似度（近似落在[0,1]）
type SearchResult struct {
	UserID           string  `json:"userId"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	Position         string  `json:"position"`
	CoreField        string  `json:"coreField"`
	ExperienceMonths int     `json:"experienceMonths"`
	Location         string  `json:"location"`
	ResumeURL        string  `json:"resumeUrl,omitempty"`
	Score            float32 `json:"score"`
	Rank             int     `json:"rank"`
}

// SyncErrorDetail 同步批处理中单个候选人的失败详情
type SyncErrorDetail struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Error  string `json:"error"`
}

// SyncSummary 一次同步批处理的聚合结果。
// 单个候选人的失败只计数、不终止批处理。
type SyncSummary struct {
	Total        int               `json:"total"`
	Processed    int               `json:"processed"`
	Skipped      int               `json:"skipped"`
	Errors       int               `json:"errors"`
	ErrorDetails []SyncErrorDetail `json:"errorDetails,omitempty"`
}

// TotalExperienceMonths 计算用于过滤的总工作月数。
// 应届候选人固定为0，否则按年限*12取整。
func TotalExperienceMonths(p CandidateProfile) int {
	if p.IsFresher {
		return 0
	}
	return int(p.ExperienceYears * 12)
}
