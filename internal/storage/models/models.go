package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"talent-search-go/internal/types"
)

// CandidateProfile 候选人档案表。该表由门户主站写入,
// 本服务只读, 不参与AutoMigrate。
type CandidateProfile struct {
	UserID          string    `gorm:"type:char(36);primaryKey;column:user_id"`
	Name            string    `gorm:"type:varchar(255)"`
	Email           string    `gorm:"type:varchar(255)"`
	Education       string    `gorm:"type:varchar(255)"`
	Institution     string    `gorm:"type:varchar(255)"`
	GraduationYear  int       `gorm:"type:int"`
	CoreField       string    `gorm:"type:varchar(100);index:idx_cp_core_field"`
	Expertise       string    `gorm:"type:text"`
	Position        string    `gorm:"type:varchar(255)"`
	Employer        string    `gorm:"type:varchar(255)"`
	NoticePeriod    string    `gorm:"type:varchar(100)"`
	ExperienceYears float64   `gorm:"type:float"`
	IsFresher       bool      `gorm:"type:tinyint(1)"`
	Location        string    `gorm:"type:varchar(255)"`
	ResumeURL       string    `gorm:"type:varchar(1024)"`
	UpdatedAt       time.Time `gorm:"type:datetime(6)"`
}

func (CandidateProfile) TableName() string {
	return "candidate_profiles"
}

// ToType 转换为领域类型
func (p *CandidateProfile) ToType() types.CandidateProfile {
	return types.CandidateProfile{
		UserID:          p.UserID,
		Name:            p.Name,
		Email:           p.Email,
		Education:       p.Education,
		Institution:     p.Institution,
		GraduationYear:  p.GraduationYear,
		CoreField:       p.CoreField,
		Expertise:       p.Expertise,
		Position:        p.Position,
		Employer:        p.Employer,
		NoticePeriod:    p.NoticePeriod,
		ExperienceYears: p.ExperienceYears,
		IsFresher:       p.IsFresher,
		Location:        p.Location,
		ResumeURL:       p.ResumeURL,
		UpdatedAt:       p.UpdatedAt,
	}
}

// WorkExperience 工作经历表, 同样由门户主站写入, 本服务只读
type WorkExperience struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement"`
	UserID      string     `gorm:"type:char(36);not null;index:idx_we_user_id"`
	CompanyName string     `gorm:"type:varchar(255)"`
	Designation string     `gorm:"type:varchar(255)"`
	FromDate    *time.Time `gorm:"type:date"`
	ToDate      *time.Time `gorm:"type:date"`
	IsCurrent   bool       `gorm:"type:tinyint(1)"`
	Summary     string     `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"type:datetime(6)"`
}

func (WorkExperience) TableName() string {
	return "work_experiences"
}

// ToType 转换为领域类型
func (w *WorkExperience) ToType() types.WorkExperience {
	return types.WorkExperience{
		CompanyName: w.CompanyName,
		Designation: w.Designation,
		FromDate:    w.FromDate,
		ToDate:      w.ToDate,
		IsCurrent:   w.IsCurrent,
		Summary:     w.Summary,
	}
}

// CandidateEmbeddingRecord 嵌入处理记录表, 本服务拥有并迁移。
// checksum 是脱敏后档案文本的SHA-256, 重处理闸门据此判断跳过。
// 两个脱敏文本视图随记录一并落库, 原始(未脱敏)文本永不落盘。
type CandidateEmbeddingRecord struct {
	UserID           string         `gorm:"type:char(36);primaryKey;column:user_id"`
	Checksum         string         `gorm:"type:char(64);not null;index:idx_cer_checksum"`
	ModelVersion     string         `gorm:"type:varchar(100)"`
	MaskedFullText   string         `gorm:"type:longtext;column:masked_full_text"`
	MaskedSkillsText string         `gorm:"type:longtext;column:masked_skills_text"`
	PIIReportJSON    datatypes.JSON `gorm:"type:json;column:pii_report_json"`
	LastProcessedAt  time.Time      `gorm:"type:datetime(6);not null"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (CandidateEmbeddingRecord) TableName() string {
	return "candidate_embedding_records"
}

// PIIReportToJSON 将脱敏统计序列化为datatypes.JSON
func PIIReportToJSON(report types.PIIReport) (datatypes.JSON, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
