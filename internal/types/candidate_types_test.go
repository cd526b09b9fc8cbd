package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMergedCandidateValidate 合并边界拒绝缺少UserID的档案
func TestMergedCandidateValidate(t *testing.T) {
	valid := MergedCandidate{Profile: CandidateProfile{UserID: "user-1"}}
	assert.NoError(t, valid.Validate())

	missing := MergedCandidate{Profile: CandidateProfile{Name: "Nameless"}}
	assert.Error(t, missing.Validate(), "缺少UserID的档案必须被拒绝")

	blank := MergedCandidate{Profile: CandidateProfile{UserID: "   "}}
	assert.Error(t, blank.Validate(), "纯空白的UserID同样无效")
}

// TestTotalExperienceMonths 应届固定为0, 其余按年限*12取整
func TestTotalExperienceMonths(t *testing.T) {
	assert.Equal(t, 0, TotalExperienceMonths(CandidateProfile{IsFresher: true, ExperienceYears: 3}))
	assert.Equal(t, 60, TotalExperienceMonths(CandidateProfile{ExperienceYears: 5}))
	assert.Equal(t, 30, TotalExperienceMonths(CandidateProfile{ExperienceYears: 2.5}))
}
