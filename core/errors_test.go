package core

import (
	"errors"
	"testing"
)

func TestDomainErrorChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"NO_DATA 命中", NewDomainError(ModulePersona, ErrorCodeNoData, "空"), IsNoData, true},
		{"NOT_FOUND 命中", NewDomainError(ModuleStore, ErrorCodeNotFound, "无"), IsNotFound, true},
		{"RUN_ACTIVE 命中", NewDomainError(ModulePipeline, ErrorCodeRunActive, "忙"), IsRunActive, true},
		{"代码不匹配", NewDomainError(ModuleRank, ErrorCodeNoData, "空"), IsNotFound, false},
		{"普通错误", errors.New("plain"), IsNoData, false},
		{"nil", nil, IsNoData, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("期望 %v，实际 %v", tt.want, got)
			}
		})
	}
}

func TestGetDomainError(t *testing.T) {
	de := NewDomainError(ModuleEval, ErrorCodeInternalError, "内部错误")
	if got := GetDomainError(de); got == nil || got.Module != ModuleEval {
		t.Errorf("应取回原始领域错误: %+v", got)
	}
	if GetDomainError(errors.New("plain")) != nil {
		t.Error("普通错误不应被识别为领域错误")
	}
	if de.Error() != "内部错误" {
		t.Errorf("Error() 应返回消息本体: %s", de.Error())
	}
}

func TestOutcomeConstructors(t *testing.T) {
	ok := Success("处理完成，共 %d 条", 5)
	if !ok.OK || ok.Message != "处理完成，共 5 条" {
		t.Errorf("成功结果错误: %+v", ok)
	}
	bad := FailureFromErr(NewDomainError(ModuleRecall, ErrorCodeNoData, "没有数据"))
	if bad.OK || bad.Message != "没有数据" {
		t.Errorf("失败结果错误: %+v", bad)
	}
	if fromNil := FailureFromErr(nil); fromNil.OK {
		t.Errorf("nil 错误也应产出失败结果: %+v", fromNil)
	}
}
