package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// cliOutput 记录一次 run 调用期间写往 stdout/stderr 的内容。
type cliOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

var captured *cliOutput

// useBufferWriters 在测试期间把 stdOut/stdErr 换成内存 buffer。
func useBufferWriters(t *testing.T) *cliOutput {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	captured = &cliOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	stdOut, stdErr = captured.out, captured.err

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
		captured = nil
	})
	return captured
}

func stdErrBuffer() *bytes.Buffer {
	if captured == nil {
		return &bytes.Buffer{}
	}
	return captured.err
}

// configFixture 返回 internal/config/testdata 下的配置样例；go test 的工作目录即模块根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("internal", "config", "testdata", name)
}
