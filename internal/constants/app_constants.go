package constants

// 嵌入向量相关常量
const (
	// EmbeddingDimensions 嵌入向量的固定维度，任何不符都视为该次计算的致命错误
	EmbeddingDimensions = 384

	// VectorNameProfile 全档案向量在Qdrant中的命名
	VectorNameProfile = "profile"
	// VectorNameSkills 技能向量在Qdrant中的命名
	VectorNameSkills = "skills"
)

// PII占位符。脱敏为单向替换，各类别使用固定token。
const (
	PlaceholderEmail   = "[EMAIL_REDACTED]"
	PlaceholderPhone   = "[PHONE_REDACTED]"
	PlaceholderAadhaar = "[AADHAAR_REDACTED]"
	PlaceholderPAN     = "[PAN_REDACTED]"
	PlaceholderURL     = "[URL_REDACTED]"
)
